// Package reference implements shiftlog's typed reference extractor: a
// registry of regex-driven extractors that pull structured references
// (issue numbers, tickets, URLs, error patterns, mentions) out of message
// text, normalized into a closed set of (type, value) pairs.
package reference

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/nevindra/shiftlog"
)

// extractor pulls every match of one reference type out of text.
type extractor struct {
	typ     shiftlog.ReferenceType
	pattern *regexp.Regexp
	// normalize turns one regex match into a canonical value, or "" to
	// drop the match (e.g. a ticket-looking token that fails the
	// leading-capitals rule).
	normalize func(m []string) string
}

// registry is the closed set of extractors, one per shiftlog.ReferenceType.
var registry = []extractor{
	{shiftlog.RefGitHubIssue, regexp.MustCompile(`(?:^|[\s([])#(\d+)\b`), func(m []string) string {
		return "#" + m[1]
	}},
	{shiftlog.RefGitHubPR, regexp.MustCompile(`github\.com/([\w-]+/[\w.-]+)/pull/(\d+)`), func(m []string) string {
		return "github_pr:" + m[1] + "#" + m[2]
	}},
	{shiftlog.RefGitHubURL, regexp.MustCompile(`github\.com/([\w-]+/[\w.-]+)/issues/(\d+)`), func(m []string) string {
		return "#" + m[2]
	}},
	{shiftlog.RefGitLab, regexp.MustCompile(`gitlab\.com/([\w./-]+)/-/(?:issues|merge_requests)/(\d+)`), func(m []string) string {
		return "gitlab:" + m[1] + "#" + m[2]
	}},
	{shiftlog.RefTicket, regexp.MustCompile(`\b([A-Z][A-Z0-9]+-\d+)\b`), func(m []string) string {
		prefix := ticketPrefix(m[1])
		if countLeadingCapitals(prefix) < 2 {
			return ""
		}
		return strings.ToUpper(m[1])
	}},
	{shiftlog.RefConfluence, regexp.MustCompile(`([\w-]+\.atlassian\.net/wiki/[\w/-]+/pages/(\d+))`), func(m []string) string {
		return "confluence:" + m[2]
	}},
	{shiftlog.RefNotion, regexp.MustCompile(`notion\.so/[\w-]*-([0-9a-f]{32}|[0-9a-f]{8}-[0-9a-f-]{27})`), func(m []string) string {
		return "notion:" + m[1]
	}},
	{shiftlog.RefGDoc, regexp.MustCompile(`docs\.google\.com/document/d/([\w-]+)`), func(m []string) string {
		return "gdoc:" + m[1]
	}},
	{shiftlog.RefGSheet, regexp.MustCompile(`docs\.google\.com/spreadsheets/d/([\w-]+)`), func(m []string) string {
		return "gsheet:" + m[1]
	}},
	{shiftlog.RefGSlide, regexp.MustCompile(`docs\.google\.com/presentation/d/([\w-]+)`), func(m []string) string {
		return "gslide:" + m[1]
	}},
	{shiftlog.RefFigma, regexp.MustCompile(`figma\.com/(?:file|design)/([\w-]+)`), func(m []string) string {
		return "figma:" + m[1]
	}},
	{shiftlog.RefAsana, regexp.MustCompile(`app\.asana\.com/\d+/\d+/(\d+)`), func(m []string) string {
		return "asana:" + m[1]
	}},
	{shiftlog.RefClickUp, regexp.MustCompile(`app\.clickup\.com/t/([\w-]+)`), func(m []string) string {
		return "clickup:" + m[1]
	}},
	{shiftlog.RefSentry, regexp.MustCompile(`sentry\.io/[\w/-]+/issues/(\d+)`), func(m []string) string {
		return "sentry:" + m[1]
	}},
	{shiftlog.RefDatadog, regexp.MustCompile(`app\.datadoghq\.com/[\w/-]+\?[\w=&-]*\bevent[_-]?id=(\d+)`), func(m []string) string {
		return "datadog:" + m[1]
	}},
	{shiftlog.RefPagerDuty, regexp.MustCompile(`[\w-]+\.pagerduty\.com/incidents/([\w-]+)`), func(m []string) string {
		return "pagerduty:" + m[1]
	}},
	{shiftlog.RefAWSLogGroup, regexp.MustCompile(`log-group[/:]([\w./\-]+)`), func(m []string) string {
		return "aws_log_group:" + m[1]
	}},
	{shiftlog.RefZendesk, regexp.MustCompile(`[\w-]+\.zendesk\.com/agent/tickets/(\d+)`), func(m []string) string {
		return "zendesk:" + m[1]
	}},
	{shiftlog.RefSalesforce, regexp.MustCompile(`[\w-]+\.(?:lightning|my)\.salesforce\.com/lightning/r/[\w]+/([\w]{15,18})`), func(m []string) string {
		return "salesforce:" + m[1]
	}},
	{shiftlog.RefErrorPattern, regexp.MustCompile(`\b([A-Z][a-zA-Z]*(?:Error|Exception))\b|\b(\d{3})\s+(?:error|status)\b`), func(m []string) string {
		if m[1] != "" {
			return strings.ToLower(m[1])
		}
		return m[2]
	}},
	{shiftlog.RefUserMention, regexp.MustCompile(`<@([UW][A-Z0-9]+)(?:\|[^>]*)?>`), func(m []string) string {
		return m[1]
	}},
	{shiftlog.RefServiceName, regexp.MustCompile(`\b([a-z][a-z0-9]*(?:-[a-z0-9]+){1,3}-(?:service|svc|api|worker|daemon))\b`), func(m []string) string {
		return m[1]
	}},
	{shiftlog.RefSlackMessage, regexp.MustCompile(`\.slack\.com/archives/([A-Z0-9]+)/p(\d{10})(\d{6})`), func(m []string) string {
		return fmt.Sprintf("slack:%s:%s.%s", m[1], m[2], m[3])
	}},
}

// Extract runs every extractor over text, returning one Reference per
// match (duplicates intentional; de-duplication happens at the
// unique_values set level in ExtractFromConversation).
func Extract(text, msgTs string) []shiftlog.Reference {
	var refs []shiftlog.Reference
	for _, ex := range registry {
		for _, m := range ex.pattern.FindAllStringSubmatch(text, -1) {
			value := ex.normalize(m)
			if value == "" {
				continue
			}
			refs = append(refs, shiftlog.Reference{
				Type:     ex.typ,
				Value:    value,
				Raw:      m[0],
				MessageTs: msgTs,
			})
		}
	}
	return refs
}

// ExtractFromConversation runs Extract over every message in conv and
// assembles the conversation-level unique_values set.
func ExtractFromConversation(conv shiftlog.Conversation) shiftlog.ConversationReferences {
	out := shiftlog.ConversationReferences{
		ConversationID: conv.ID,
		UniqueValues:   map[string]bool{},
	}
	for _, m := range conv.Messages {
		for _, r := range Extract(m.Text, m.Ts) {
			out.References = append(out.References, r)
			out.UniqueValues[string(r.Type)+":"+r.Value] = true
		}
	}
	return out
}

// RefsForSimilarity returns the reference values used for Jaccard
// similarity, excluding user_mention (spec §4.D: mentioning the same
// person is not topical evidence).
func RefsForSimilarity(refs shiftlog.ConversationReferences) map[string]bool {
	out := make(map[string]bool, len(refs.UniqueValues))
	for key := range refs.UniqueValues {
		if strings.HasPrefix(key, string(shiftlog.RefUserMention)+":") {
			continue
		}
		out[key] = true
	}
	return out
}

// Jaccard computes |a∩b| / |a∪b| over two reference-value sets. Both
// empty returns 0, per spec §4.D.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// SharedReferences returns the union of every reference carried by convs,
// de-duplicated by (type, value), used to build ConversationGroup.SharedReferences.
func SharedReferences(allRefs []shiftlog.ConversationReferences) []shiftlog.Reference {
	seen := map[string]bool{}
	var out []shiftlog.Reference
	for _, cr := range allRefs {
		for _, r := range cr.References {
			key := string(r.Type) + ":" + r.Value
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func ticketPrefix(ticket string) string {
	i := strings.IndexByte(ticket, '-')
	if i < 0 {
		return ticket
	}
	return ticket[:i]
}

func countLeadingCapitals(s string) int {
	n := 0
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			break
		}
		n++
	}
	return n
}
