// Package pipeline drives scheduled extraction runs over unprocessed
// communications.
//
// One run walks every contact with pending messages, slices each contact's
// backlog into overlapping batches, sends each batch's transcript to the
// extraction client, and commits the resulting facts, relationships, and
// followups through their respective gates. Failures are isolated at item,
// batch, or contact scope; only a provider rate limit aborts the run.
package pipeline

import (
	"github.com/dunbarhq/dunbar/internal/store"
)

// Batch is one extraction window over a contact's unprocessed
// communications.
type Batch struct {
	ContactID   int64
	ContactName string

	// Context holds the most recent already-processed communications,
	// chronologically ordered. Identical for every batch of the contact,
	// never marked processed again.
	Context []*store.Communication

	// Messages holds the window's communications oldest to newest. Windows
	// after the first start with an overlap prefix repeated from the
	// previous window so the extractor keeps conversational continuity.
	Messages []*store.Communication

	// CommunicationIDs are the new, non-overlapped ids this batch is
	// responsible for marking processed. Their union across all batches
	// partitions the contact's unprocessed list exactly.
	CommunicationIDs []int64
}

// BuildBatches slices a contact's unprocessed communications (oldest to
// newest) into extraction batches. The window steps by batchSize; each
// window after the first prepends the last `overlap` messages of the
// previous window as context only. An empty input yields no batches; an
// input shorter than batchSize yields exactly one.
func BuildBatches(contactID int64, contactName string, comms, contextMsgs []*store.Communication, batchSize, overlap int) []*Batch {
	if len(comms) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= batchSize {
		// A prefix as large as the window would stall the partition.
		overlap = batchSize - 1
	}

	var batches []*Batch
	for start := 0; start < len(comms); start += batchSize {
		end := start + batchSize
		if end > len(comms) {
			end = len(comms)
		}

		prefix := start - overlap
		if prefix < 0 {
			prefix = 0
		}

		ids := make([]int64, 0, end-start)
		for _, c := range comms[start:end] {
			ids = append(ids, c.ID)
		}

		batches = append(batches, &Batch{
			ContactID:        contactID,
			ContactName:      contactName,
			Context:          contextMsgs,
			Messages:         comms[prefix:end],
			CommunicationIDs: ids,
		})
	}
	return batches
}
