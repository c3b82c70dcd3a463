// Package relate maintains contact relationships and their reciprocal rows.
//
// Whenever a relationship is linked to another contact record and its label
// has a defined inverse, the linked contact gets a mirror row pointing back
// (a "parent" link from Ada to Maya gives Maya a "child" row naming Ada).
// Unlinking or deleting either side retires the counterpart, so the two rows
// stay symmetric through every mutation.
package relate

import (
	"context"
	"fmt"

	"github.com/dunbarhq/dunbar/internal/store"
)

// Engine wraps the store with reciprocal-row maintenance. All relationship
// mutations should go through it; writing rows directly to the store leaves
// linked contacts out of sync.
type Engine struct {
	store store.Store
}

// NewEngine creates a relationship engine over the given store.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Create inserts a relationship and, when it is linked to another contact
// record, upserts the reciprocal row on the linked side.
func (e *Engine) Create(ctx context.Context, r *store.Relationship) (int64, error) {
	r.Label = NormalizeLabel(r.Label)

	id, err := e.store.AddRelationship(ctx, r)
	if err != nil {
		return 0, err
	}
	if r.LinkedContactID != nil {
		if err := e.upsertReciprocal(ctx, r); err != nil {
			return id, fmt.Errorf("maintaining reciprocal: %w", err)
		}
	}
	return id, nil
}

// Link points a relationship at a contact record. Re-pointing a linked
// relationship retires the reciprocal row on the previous side first, then
// creates one on the new side.
func (e *Engine) Link(ctx context.Context, relationshipID, linkedContactID int64) error {
	rel, err := e.mustGetLive(ctx, relationshipID)
	if err != nil {
		return err
	}
	if rel.LinkedContactID != nil && *rel.LinkedContactID == linkedContactID {
		return nil
	}

	if rel.LinkedContactID != nil {
		if err := e.retireReciprocal(ctx, rel); err != nil {
			return fmt.Errorf("retiring previous reciprocal: %w", err)
		}
	}
	if err := e.store.UpdateRelationshipLink(ctx, relationshipID, &linkedContactID); err != nil {
		return err
	}

	rel.LinkedContactID = &linkedContactID
	if err := e.upsertReciprocal(ctx, rel); err != nil {
		return fmt.Errorf("maintaining reciprocal: %w", err)
	}
	return nil
}

// Unlink clears a relationship's link and retires the reciprocal row only.
// The relationship itself stays live with its person name intact.
func (e *Engine) Unlink(ctx context.Context, relationshipID int64) error {
	rel, err := e.mustGetLive(ctx, relationshipID)
	if err != nil {
		return err
	}
	if rel.LinkedContactID == nil {
		return nil
	}

	if err := e.retireReciprocal(ctx, rel); err != nil {
		return fmt.Errorf("retiring reciprocal: %w", err)
	}
	return e.store.UpdateRelationshipLink(ctx, relationshipID, nil)
}

// Delete soft-deletes a relationship. If it is linked, the counterpart row
// on the linked side is soft-deleted too, from whichever side the delete
// starts.
func (e *Engine) Delete(ctx context.Context, relationshipID int64) error {
	rel, err := e.mustGetLive(ctx, relationshipID)
	if err != nil {
		return err
	}

	if rel.LinkedContactID != nil {
		if err := e.retireReciprocal(ctx, rel); err != nil {
			return fmt.Errorf("retiring reciprocal: %w", err)
		}
	}
	return e.store.SoftDeleteRelationship(ctx, relationshipID)
}

func (e *Engine) mustGetLive(ctx context.Context, id int64) (*store.Relationship, error) {
	rel, err := e.store.GetRelationship(ctx, id)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, fmt.Errorf("relationship %d not found", id)
	}
	if rel.DeletedAt != nil {
		return nil, fmt.Errorf("relationship %d is deleted", id)
	}
	return rel, nil
}

// upsertReciprocal ensures the linked contact has a live inverse-label row
// pointing back at rel's owner, named after the owner's display name.
// Labels without an inverse are a no-op.
func (e *Engine) upsertReciprocal(ctx context.Context, rel *store.Relationship) error {
	inverse, ok := InverseLabel(rel.Label)
	if !ok || rel.LinkedContactID == nil {
		return nil
	}

	existing, err := e.store.FindReciprocalRelationship(ctx, *rel.LinkedContactID, inverse, rel.ContactID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	owner, err := e.store.GetContact(ctx, rel.ContactID)
	if err != nil {
		return err
	}
	if owner == nil {
		return fmt.Errorf("contact %d not found", rel.ContactID)
	}

	_, err = e.store.AddRelationship(ctx, &store.Relationship{
		ContactID:       *rel.LinkedContactID,
		Label:           inverse,
		PersonName:      owner.DisplayName,
		LinkedContactID: &rel.ContactID,
		Source:          rel.Source,
		Confidence:      rel.Confidence,
	})
	return err
}

// retireReciprocal soft-deletes the live counterpart row on rel's linked
// side, if one exists.
func (e *Engine) retireReciprocal(ctx context.Context, rel *store.Relationship) error {
	inverse, ok := InverseLabel(rel.Label)
	if !ok || rel.LinkedContactID == nil {
		return nil
	}

	recip, err := e.store.FindReciprocalRelationship(ctx, *rel.LinkedContactID, inverse, rel.ContactID)
	if err != nil {
		return err
	}
	if recip == nil {
		return nil
	}
	return e.store.SoftDeleteRelationship(ctx, recip.ID)
}
