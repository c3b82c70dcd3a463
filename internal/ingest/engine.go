package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dunbarhq/dunbar/internal/store"
)

// Engine parses export files and persists their communications.
type Engine struct {
	store   store.Store
	log     *slog.Logger
	readers []Reader
}

// NewEngine builds an import engine with all format readers registered.
func NewEngine(s store.Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:   s,
		log:     log,
		readers: []Reader{&JSONLReader{}, &CSVReader{}},
	}
}

// ImportOptions adjust how records map to contacts.
type ImportOptions struct {
	// DefaultContact attributes records that carry no contact name of
	// their own.
	DefaultContact string
	// CreateContacts lets unknown contact names create new contact rows.
	// When false, records naming an unknown contact are rejected.
	CreateContacts bool
}

// ImportFile imports one export file. Parse failures abort before anything
// is written; persistence failures are per-record, recorded in the result,
// and do not stop the rest of the file.
func (e *Engine) ImportFile(ctx context.Context, path string, opts ImportOptions) (*Result, error) {
	var reader Reader
	for _, r := range e.readers {
		if r.CanHandle(path) {
			reader = r
			break
		}
	}
	if reader == nil {
		return nil, fmt.Errorf("unsupported export format %q", filepath.Ext(path))
	}

	records, err := reader.Read(ctx, path)
	if err != nil {
		return nil, err
	}

	// Every record must have a contact name from somewhere before any row
	// is written, so a half-attributable file never half-imports.
	for i := range records {
		if records[i].Contact == "" {
			records[i].Contact = strings.TrimSpace(opts.DefaultContact)
		}
		if records[i].Contact == "" {
			return nil, fmt.Errorf("%s:%d: record has no contact name (use --contact)", path, records[i].Line)
		}
	}

	importID := uuid.NewString()
	log := e.log.With("import_id", importID, "file", path)
	log.Info("import starting", "records", len(records))

	result := &Result{Records: len(records)}
	for _, rec := range records {
		if rec.ExternalID == "" {
			rec.ExternalID = fallbackExternalID(rec)
		}

		existing, err := e.store.GetCommunicationByExternalID(ctx, rec.ExternalID)
		if err != nil {
			result.Errors = append(result.Errors, ImportError{File: path, Line: rec.Line, Message: err.Error()})
			continue
		}
		if existing != nil {
			result.Duplicates++
			continue
		}

		contactID, err := e.resolveContact(ctx, rec.Contact, opts, result)
		if err != nil {
			result.Errors = append(result.Errors, ImportError{File: path, Line: rec.Line, Message: err.Error()})
			continue
		}

		_, err = e.store.AddCommunication(ctx, &store.Communication{
			ExternalID: rec.ExternalID,
			ContactID:  contactID,
			Content:    rec.Content,
			Source:     rec.Source,
			Direction:  rec.Direction,
			Subject:    rec.Subject,
			OccurredAt: rec.OccurredAt,
		})
		if err != nil {
			result.Errors = append(result.Errors, ImportError{File: path, Line: rec.Line, Message: err.Error()})
			continue
		}
		result.Imported++
	}

	log.Info("import finished",
		"imported", result.Imported,
		"duplicates", result.Duplicates,
		"contacts_created", result.ContactsCreated,
		"errors", len(result.Errors))
	return result, nil
}

// resolveContact maps a display name to a contact id. A name shared by
// several contacts is rejected rather than guessed at.
func (e *Engine) resolveContact(ctx context.Context, name string, opts ImportOptions, result *Result) (int64, error) {
	matches, err := e.store.FindContactsByName(ctx, name)
	if err != nil {
		return 0, err
	}
	switch len(matches) {
	case 0:
		if !opts.CreateContacts {
			return 0, fmt.Errorf("unknown contact %q (use --create-contacts)", name)
		}
		c, err := e.store.AddContact(ctx, name)
		if err != nil {
			return 0, err
		}
		result.ContactsCreated++
		return c.ID, nil
	case 1:
		return matches[0].ID, nil
	default:
		return 0, fmt.Errorf("contact name %q is ambiguous (%d matches)", name, len(matches))
	}
}
