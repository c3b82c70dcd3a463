package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dunbarhq/dunbar/internal/extract"
	"github.com/dunbarhq/dunbar/internal/relate"
	"github.com/dunbarhq/dunbar/internal/store"
)

// commitRelationship inserts one extracted relationship unless the contact
// already has a live row with the same label and person name. When the person
// name matches exactly one other contact record, the row is linked to it and
// the relationship engine mirrors it on that side; an ambiguous or missing
// match leaves the row unlinked rather than guessing. Reports whether a row
// was created.
func (p *Pipeline) commitRelationship(ctx context.Context, contactID int64, r extract.ExtractedRelationship) (bool, error) {
	label := relate.NormalizeLabel(r.Label)
	person := strings.TrimSpace(r.PersonName)

	existing, err := p.store.FindLiveRelationship(ctx, contactID, label, person)
	if err != nil {
		return false, fmt.Errorf("checking existing relationship: %w", err)
	}
	if existing != nil {
		return false, nil
	}

	var linked *int64
	matches, err := p.store.FindContactsByName(ctx, person)
	if err != nil {
		return false, fmt.Errorf("matching person to contacts: %w", err)
	}
	if len(matches) == 1 && matches[0].ID != contactID {
		linked = &matches[0].ID
	}

	conf := r.Confidence
	_, err = p.relate.Create(ctx, &store.Relationship{
		ContactID:       contactID,
		Label:           label,
		PersonName:      person,
		LinkedContactID: linked,
		Source:          store.SourceExtracted,
		Confidence:      &conf,
	})
	if err != nil {
		return false, fmt.Errorf("creating relationship: %w", err)
	}
	return true, nil
}
