package pipeline

import (
	"fmt"
	"strings"

	"github.com/dunbarhq/dunbar/internal/store"
)

// formatTranscript renders a batch for the extraction client. Already
// processed context comes first under its own marker; the NEW MESSAGES
// marker separates the extraction-eligible window, matching the contract
// the system prompt states.
func formatTranscript(b *Batch) string {
	var sb strings.Builder

	if len(b.Context) > 0 {
		sb.WriteString("=== EARLIER CONTEXT (background only) ===\n")
		for _, m := range b.Context {
			writeMessage(&sb, m)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("=== NEW MESSAGES ===\n")
	for _, m := range b.Messages {
		writeMessage(&sb, m)
	}
	return sb.String()
}

func writeMessage(sb *strings.Builder, m *store.Communication) {
	who := "them"
	if m.Direction == store.DirectionOutbound {
		who = "me"
	}
	if m.Subject != "" {
		fmt.Fprintf(sb, "[%s] %s (%s): %s\n", m.OccurredAt.Format("2006-01-02"), who, m.Subject, m.Content)
		return
	}
	fmt.Fprintf(sb, "[%s] %s: %s\n", m.OccurredAt.Format("2006-01-02"), who, m.Content)
}
