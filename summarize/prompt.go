package summarize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nevindra/shiftlog"
)

const (
	singleTextMaxChars     = 5000
	batchTextMaxChars      = 200
	attachmentTextMaxChars = 300
)

var mentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)>`)

const instructionBlock = `Write a narrative_summary in past tense with the first person omitted entirely (never "I" or "we"). Be specific about what was done, decided, built, or blocked; avoid generic phrases like "discussed various topics" or "had a conversation". Return strict JSON matching the requested shape, with no surrounding prose or markdown fences.`

// buildSinglePrompt builds the prompt for one group's individual LLM call,
// requesting a single JSON object (§4.H.2-3).
func buildSinglePrompt(g shiftlog.ConversationGroup, names map[string]string, requesterID string, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(groupHeader(g, names, requesterID, loc))
	b.WriteString("\n\n")
	b.WriteString(formatMessages(g.AllMessages, names, singleTextMaxChars))
	b.WriteString("\n\n")
	b.WriteString(instructionBlock)
	b.WriteString("\nRespond with one JSON object: {\"narrative_summary\": string, \"key_events\": [string], \"outcome\": string|null, \"next_actions\": [string], \"timesheet_entry\": string}.")
	return b.String()
}

// buildBatchPrompt builds a single prompt covering every group, requesting
// a JSON array whose index i corresponds to groups[i] (§4.H.3, §5 "batch
// ordering guarantee").
func buildBatchPrompt(groups []shiftlog.ConversationGroup, names map[string]string, requesterID string, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Summarize the following %d conversation groups independently. Do not let context from one group bleed into another.\n\n", len(groups)))
	for i, g := range groups {
		b.WriteString(fmt.Sprintf("=== GROUP %d ===\n", i))
		b.WriteString(groupHeader(g, names, requesterID, loc))
		b.WriteString("\n")
		b.WriteString(formatMessages(g.AllMessages, names, batchTextMaxChars))
		b.WriteString("\n\n")
	}
	b.WriteString(instructionBlock)
	b.WriteString(fmt.Sprintf("\nRespond with one JSON array of exactly %d objects, in group order, each shaped {\"narrative_summary\": string, \"key_events\": [string], \"outcome\": string|null, \"next_actions\": [string], \"timesheet_entry\": string}.", len(groups)))
	return b.String()
}

// groupHeader renders the channel, time range, counts, participants and
// shared-reference summary that precedes every group's messages (§4.H.2).
func groupHeader(g shiftlog.ConversationGroup, names map[string]string, requesterID string, loc *time.Location) string {
	channel := "unknown"
	if len(g.Conversations) > 0 && g.Conversations[0].ChannelName != "" {
		channel = g.Conversations[0].ChannelName
	}
	start := time.Unix(int64(g.StartTime), 0).In(loc).Format("2006-01-02 15:04")
	end := time.Unix(int64(g.EndTime), 0).In(loc).Format("2006-01-02 15:04")

	var participants []string
	for _, id := range g.Participants {
		if id == requesterID {
			continue
		}
		name := names[id]
		if name == "" {
			name = id
		}
		participants = append(participants, "@"+name)
	}

	var refs []string
	for _, r := range g.SharedReferences {
		refs = append(refs, r.Raw)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Channel: #%s\n", channel)
	fmt.Fprintf(&b, "Time range: %s to %s\n", start, end)
	fmt.Fprintf(&b, "Messages: %d (%d from the requester)\n", g.TotalMessageCount, g.TotalUserMessageCount)
	fmt.Fprintf(&b, "Participants: %s\n", strings.Join(participants, ", "))
	if len(refs) > 0 {
		fmt.Fprintf(&b, "Shared references: %s\n", strings.Join(refs, ", "))
	}
	return b.String()
}

// formatMessages renders a group's messages in Ts order as
// "[display_name]: text", labeling bot and context messages per §4.H.2.
func formatMessages(msgs []shiftlog.Message, names map[string]string, maxChars int) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(formatMessage(m, names, maxChars))
		b.WriteString("\n")
	}
	return b.String()
}

func formatMessage(m shiftlog.Message, names map[string]string, maxChars int) string {
	var prefix string
	switch m.Subtype {
	case shiftlog.SubtypeMentionContext:
		prefix = "[PRIOR CONTEXT] "
	case shiftlog.SubtypeContext:
		prefix = "[CONTEXT] "
	}

	who := "Bot"
	if !m.IsBotMessage() {
		who = displayNameOrID(m.User, names)
	}

	text := truncate(rewriteMentions(m.Text, names), maxChars)
	line := fmt.Sprintf("%s[%s]: %s", prefix, who, text)

	for _, a := range m.Attachments {
		line += "\n" + formatAttachment(a, names)
	}
	return line
}

func formatAttachment(a shiftlog.Attachment, names map[string]string) string {
	author := "unknown"
	if a.AuthorID != "" {
		author = displayNameOrID(a.AuthorID, names)
	}
	provenance := author
	if a.ChannelID != "" {
		provenance = fmt.Sprintf("%s in #%s", author, a.ChannelID)
	}
	text := truncate(a.Text, attachmentTextMaxChars)
	return fmt.Sprintf("> [shared by %s]: %s", provenance, text)
}

func displayNameOrID(id string, names map[string]string) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return id
}

// rewriteMentions replaces inline <@U...> mentions with @display_name.
func rewriteMentions(text string, names map[string]string) string {
	return mentionPattern.ReplaceAllStringFunc(text, func(match string) string {
		id := mentionPattern.FindStringSubmatch(match)[1]
		return "@" + displayNameOrID(id, names)
	})
}

// truncate cuts s to maxChars runes, appending an ellipsis marker when it
// does.
func truncate(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars]) + "…"
}
