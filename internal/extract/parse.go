package extract

import (
	"encoding/json"
	"strings"
)

// parseResult decodes a model response into a Result. Malformed or non-JSON
// content yields an empty Result rather than an error: a model that rambles
// costs us one batch's worth of extractions, not a failed run. Individual
// items are validated and cleaned; unusable ones are dropped.
func parseResult(content string) *Result {
	raw := stripFences(content)

	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return &Result{}
	}
	return cleanResult(&res)
}

// stripFences removes a surrounding markdown code fence, which models emit
// even when told not to.
func stripFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func cleanResult(res *Result) *Result {
	clean := &Result{}

	for _, f := range res.Facts {
		f.Value = strings.TrimSpace(f.Value)
		if f.Value == "" {
			continue
		}
		f.FactType = normalizeFactType(f.FactType)
		f.Confidence = clampConfidence(f.Confidence)
		clean.Facts = append(clean.Facts, f)
	}

	for _, r := range res.Relationships {
		r.PersonName = strings.TrimSpace(r.PersonName)
		r.Label = strings.TrimSpace(r.Label)
		if r.PersonName == "" || r.Label == "" {
			continue
		}
		r.Confidence = clampConfidence(r.Confidence)
		clean.Relationships = append(clean.Relationships, r)
	}

	for _, f := range res.Followups {
		f.Reason = strings.TrimSpace(f.Reason)
		if f.Reason == "" {
			continue
		}
		f.SuggestedDate = strings.TrimSpace(f.SuggestedDate)
		clean.Followups = append(clean.Followups, f)
	}

	return clean
}

// factTypes are the types the prompt asks for. Anything else the model
// invents is folded into "other" instead of being dropped.
var factTypes = map[string]bool{
	"job": true, "location": true, "family": true, "health": true,
	"interest": true, "preference": true, "life_event": true,
	"education": true, "contact_info": true, "other": true,
}

func normalizeFactType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = strings.ReplaceAll(t, " ", "_")
	t = strings.ReplaceAll(t, "-", "_")
	if !factTypes[t] {
		return "other"
	}
	return t
}

func clampConfidence(c float64) float64 {
	// NaN fails both comparisons and falls through to 0.
	if c >= 0 && c <= 1 {
		return c
	}
	if c > 1 {
		return 1
	}
	return 0
}
