package correios

import (
	"strings"
	"unicode"

	"github.com/tournevent/tracksync/pkg/carrier"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Classify maps carrier events (newest first) to a canonical status.
//
// Only the newest event is inspected, as given: index 0 is trusted and
// never re-sorted. The match is a case- and diacritic-insensitive substring
// test with "entregue" taking precedence over "transito"; anything else is
// POSTED. The carrier's vocabulary is not enumerated beyond these two words.
func Classify(events []carrier.TrackingEvent) carrier.CanonicalStatus {
	if len(events) == 0 {
		return carrier.StatusNotFound
	}
	return ClassifyDescription(events[0].Description)
}

// ClassifyDescription applies the description rule to a single text.
func ClassifyDescription(description string) carrier.CanonicalStatus {
	d := foldDescription(description)
	switch {
	case strings.Contains(d, "entregue"):
		return carrier.StatusDelivered
	case strings.Contains(d, "transito"):
		return carrier.StatusInTransit
	default:
		return carrier.StatusPosted
	}
}

// foldDescription lower-cases s and strips combining marks ("trânsito" ->
// "transito"). Transformer chains are stateful, so one is built per call.
func foldDescription(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}
