// Package extract turns communication transcripts into structured CRM data
// using an LLM provider.
//
// The pipeline hands each batch's transcript to a Client and gets back
// candidate facts, relationships, and followups, each carrying a confidence
// score. Providers are interchangeable behind the Client interface; the
// factory picks one from a "provider/model" spec string.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ExtractedFact is one candidate fact pulled from a transcript.
type ExtractedFact struct {
	FactType        string  `json:"fact_type"`
	Value           string  `json:"value"`
	StructuredValue string  `json:"structured_value,omitempty"`
	Confidence      float64 `json:"confidence"`
}

// ExtractedRelationship names a person in the contact's life.
type ExtractedRelationship struct {
	Label      string  `json:"label"`
	PersonName string  `json:"person_name"`
	Confidence float64 `json:"confidence"`
}

// ExtractedFollowup is a suggested reminder derived from the conversation.
type ExtractedFollowup struct {
	Reason        string `json:"reason"`
	SuggestedDate string `json:"suggested_date,omitempty"` // YYYY-MM-DD, may be empty
}

// Result is everything one extraction call produced.
type Result struct {
	Facts         []ExtractedFact         `json:"facts"`
	Relationships []ExtractedRelationship `json:"relationships"`
	Followups     []ExtractedFollowup     `json:"followups"`
}

// Empty reports whether the extraction produced nothing at all.
func (r *Result) Empty() bool {
	return len(r.Facts) == 0 && len(r.Relationships) == 0 && len(r.Followups) == 0
}

// Client is the extraction collaborator the pipeline calls once per batch.
//
// Implementations make exactly one provider call per Extract invocation;
// retry policy belongs to the caller. A malformed model response yields an
// empty Result, not an error. Errors are reserved for transport failures,
// and rate-limit rejections surface as *RateLimitError.
type Client interface {
	Extract(ctx context.Context, contactName, transcript string) (*Result, error)
}

// RateLimitError reports a provider rate-limit or quota rejection. The
// pipeline aborts the whole run when it sees one instead of burning the
// remaining batches against a throttled API.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("%s rate limited", e.Provider)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err carries a RateLimitError anywhere in its
// chain. This is the only rate-limit check the pipeline performs; message
// sniffing stays inside the provider adapters.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// rateLimitMarkers are the message fragments providers and proxies use for
// throttling when no typed error reaches us. Adapters fall back to these
// after their SDK-typed checks.
var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"resource exhausted",
	"resource_exhausted",
	"quota exceeded",
	"status code: 429",
	"429:",
}

func hasRateLimitMarker(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// parseModelSpec splits a "provider/model" string. The model part may itself
// contain slashes (openrouter/meta-llama/llama-3.1-70b).
func parseModelSpec(spec string) (provider, model string, err error) {
	slash := strings.Index(spec, "/")
	if slash <= 0 || slash == len(spec)-1 {
		return "", "", fmt.Errorf("invalid model spec %q: expected provider/model", spec)
	}
	return strings.ToLower(spec[:slash]), spec[slash+1:], nil
}
