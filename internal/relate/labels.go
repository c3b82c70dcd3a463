package relate

import (
	"sort"
	"strings"
)

// inverseLabels maps a relationship label to the label of its reciprocal row.
// Self-inverse labels map to themselves. Reciprocal maintenance only happens
// for labels present here; everything else gets no reciprocal.
var inverseLabels = map[string]string{
	"parent":        "child",
	"child":         "parent",
	"mentor":        "mentee",
	"mentee":        "mentor",
	"boss":          "direct_report",
	"direct_report": "boss",
	"teacher":       "student",
	"student":       "teacher",

	"friend":    "friend",
	"spouse":    "spouse",
	"partner":   "partner",
	"sibling":   "sibling",
	"colleague": "colleague",
	"neighbor":  "neighbor",
}

// noInverseLabels are accepted labels that describe a circumstance rather
// than a person-to-person bond, so they never produce a reciprocal row.
var noInverseLabels = map[string]bool{
	"how_we_met": true,
}

// NormalizeLabel canonicalizes a label for lookup and storage.
func NormalizeLabel(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	return strings.ReplaceAll(l, " ", "_")
}

// KnownLabel reports whether manual input validation accepts the label.
// Extracted relationships may carry labels outside this set; those are
// stored as-is and simply get no reciprocal.
func KnownLabel(label string) bool {
	l := NormalizeLabel(label)
	if noInverseLabels[l] {
		return true
	}
	_, ok := inverseLabels[l]
	return ok
}

// InverseLabel returns the reciprocal label for the given one. ok is false
// both for unknown labels and for labels that deliberately have no inverse.
func InverseLabel(label string) (string, bool) {
	inv, ok := inverseLabels[NormalizeLabel(label)]
	return inv, ok
}

// AllowedLabels returns every label manual input validation accepts, sorted.
func AllowedLabels() []string {
	labels := make([]string, 0, len(inverseLabels)+len(noInverseLabels))
	for l := range inverseLabels {
		labels = append(labels, l)
	}
	for l := range noInverseLabels {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}
