// Command seed generates a synthetic communications export for trying out
// ingest without wiring up a real message source:
//
//	go run ./scripts/seed -out demo.jsonl
//	dunbar ingest --create-contacts demo.jsonl
//
// Output is deterministic for a given -seed, so re-running produces the
// same external ids and a second ingest is a no-op.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"
)

type record struct {
	ExternalID string `json:"external_id"`
	Contact    string `json:"contact"`
	Content    string `json:"content"`
	Source     string `json:"source"`
	Direction  string `json:"direction"`
	OccurredAt string `json:"occurred_at"`
}

var names = []string{
	"Ada Lovelace",
	"Grace Hopper",
	"June Park",
	"Sam Reyes",
	"Ida Okafor",
	"Maya Chen",
	"Tom Albrecht",
	"Priya Nair",
}

var messages = []string{
	"Started the new job at %s this week, the onboarding has been a whirlwind",
	"We finally signed the lease, moving to %s at the end of the month",
	"Been getting really into %s lately, found a local group that meets on Thursdays",
	"My sister %s is visiting next week, you two should finally meet",
	"The doctor says the knee is healing well, should be back on the trails soon",
	"Can you send me that book recommendation you mentioned at dinner?",
	"Let's catch up properly soon, it has been way too long",
	"The %s project at work is finally shipping, huge relief",
	"Thinking about switching teams, the commute to %s is wearing me down",
	"Happy to dog-sit while you are away, just drop off the keys whenever",
}

var fills = []string{
	"Acme", "Lisbon", "bouldering", "Nina", "Berlin", "ceramics",
	"the platform", "Munich", "trail running", "Jo",
}

var sources = []string{"sms", "email", "whatsapp"}

func main() {
	out := flag.String("out", "demo.jsonl", "output file path")
	contacts := flag.Int("contacts", 4, "number of contacts to generate")
	perContact := flag.Int("per-contact", 10, "messages per contact")
	days := flag.Int("days", 90, "spread messages over this many days")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	if *contacts > len(names) {
		fmt.Fprintf(os.Stderr, "at most %d contacts supported\n", len(names))
		os.Exit(1)
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating %s: %v\n", *out, err)
		os.Exit(1)
	}
	defer f.Close()

	rng := rand.New(rand.NewSource(*seed))
	enc := json.NewEncoder(f)
	now := time.Now().UTC()
	n := 0

	for i := 0; i < *contacts; i++ {
		for j := 0; j < *perContact; j++ {
			msg := messages[rng.Intn(len(messages))]
			content := msg
			if strings.Contains(msg, "%s") {
				content = fmt.Sprintf(msg, fills[rng.Intn(len(fills))])
			}

			direction := "inbound"
			if rng.Intn(3) == 0 {
				direction = "outbound"
			}

			occurred := now.AddDate(0, 0, -rng.Intn(*days)).
				Add(-time.Duration(rng.Intn(12)) * time.Hour)

			n++
			rec := record{
				ExternalID: fmt.Sprintf("seed-%d", n),
				Contact:    names[i],
				Content:    content,
				Source:     sources[rng.Intn(len(sources))],
				Direction:  direction,
				OccurredAt: occurred.Format("2006-01-02 15:04:05"),
			}
			if err := enc.Encode(rec); err != nil {
				fmt.Fprintf(os.Stderr, "writing record: %v\n", err)
				os.Exit(1)
			}
		}
	}

	fmt.Printf("wrote %d records for %d contacts to %s\n", n, *contacts, *out)
}
