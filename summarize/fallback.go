package summarize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/nevindra/shiftlog"
)

// stopwords is a small, fixed list of function words excluded from the
// fallback summary's keyword extraction. No NLP dependency: every other
// example's "similar text" logic is hand-rolled stdlib too, so a fixed
// stopword list plus suffix stripping matches the pack's convention rather
// than reaching for an external tokenizer.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "about": true, "it": true, "this": true, "that": true,
	"i": true, "we": true, "you": true, "they": true, "he": true, "she": true,
	"have": true, "has": true, "had": true, "will": true, "would": true,
	"can": true, "could": true, "not": true, "just": true, "so": true,
	"then": true, "there": true, "here": true, "what": true, "when": true,
	"do": true, "did": true, "does": true, "up": true, "out": true, "as": true,
	"my": true, "me": true, "us": true, "our": true, "your": true, "its": true,
}

var wordPattern = regexp.MustCompile(`[a-zA-Z]+`)

// stem strips a small set of common English suffixes, enough to collapse
// near-duplicate words ("updated"/"updates"/"update") without a real
// stemming library.
func stem(word string) string {
	for _, suffix := range []string{"ing", "edly", "ed", "es", "s"} {
		if len(word) > len(suffix)+2 && strings.HasSuffix(word, suffix) {
			return strings.TrimSuffix(word, suffix)
		}
	}
	return word
}

// topWordStems returns the count-3 most frequent non-stopword stems in
// text, in descending frequency order (ties broken by first occurrence).
func topWordStems(text string, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, raw := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if stopwords[raw] || len(raw) < 3 {
			continue
		}
		s := stem(raw)
		if stopwords[s] {
			continue
		}
		if counts[s] == 0 {
			order = append(order, s)
		}
		counts[s]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// fallbackSummary synthesizes a GroupSummary without an LLM call, for when
// the RPC fails or its response fails to parse (§4.H.3).
func fallbackSummary(g shiftlog.ConversationGroup, names map[string]string, requesterID string, permalinks map[string]string) shiftlog.GroupSummary {
	text := groupText(g)
	stems := topWordStems(text, 3)

	var narrative string
	if len(stems) > 0 {
		narrative = fmt.Sprintf("Worked on items related to %s.", strings.Join(stems, ", "))
	} else {
		narrative = "Logged activity in this channel; no further detail could be extracted."
	}

	link, links := groupLinks(g, permalinks)
	return shiftlog.GroupSummary{
		NarrativeSummary: narrative,
		StartTime:        g.StartTime,
		EndTime:          g.EndTime,
		MessageCount:     g.TotalMessageCount,
		UserMessages:     g.TotalUserMessageCount,
		Participants:     participantHandles(g, names, requesterID),
		References:       g.SharedReferences,
		TimesheetEntry:   narrative,
		SlackLink:        link,
		SlackLinks:       links,
		SegmentsMerged:   len(g.Conversations) > 1,
	}
}

func groupText(g shiftlog.ConversationGroup) string {
	var parts []string
	for _, m := range g.AllMessages {
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, " ")
}
