package shiftlog

import (
	"sort"
	"time"
)

// ChannelKind classifies a chat-platform channel.
type ChannelKind string

const (
	ChannelPublic  ChannelKind = "public"
	ChannelPrivate ChannelKind = "private"
	ChannelDM      ChannelKind = "dm"
	ChannelGroupDM ChannelKind = "group_dm"
)

// Context message subtypes injected by the segmenter's enrichment stage.
// These never count toward a conversation's UserMessageCount.
const (
	SubtypeBotMessage     = "bot_message"
	SubtypeContext        = "CONTEXT"
	SubtypeMentionContext = "MENTION_CONTEXT"
)

// Attachment is a shared message or link embedded in a chat message, either
// unfurled natively by the platform or synthesized by the summarizer from a
// resolved intra-platform message link (see package summarize).
type Attachment struct {
	Kind      string // "shared_message", "link"
	Text      string
	AuthorID  string
	ChannelID string
	URL       string
}

// Message is the atomic unit fetched from the chat platform. Ts is the
// platform's canonical per-channel ordering key: "seconds.microseconds" as a
// decimal string. It is parsed for comparison and kept verbatim for identity
// (message links and caches are keyed off its exact string form).
type Message struct {
	Ts             string
	ChannelID      string
	User           string // empty for bot/system messages with no author
	Text           string
	Type           string
	Subtype        string
	ThreadParentTs string // equals Ts for thread parents; empty for non-thread messages
	Attachments    []Attachment
}

// IsThreadReply reports whether m is a reply within a thread, i.e. it
// carries a ThreadParentTs that differs from its own Ts.
func (m Message) IsThreadReply() bool {
	return m.ThreadParentTs != "" && m.ThreadParentTs != m.Ts
}

// IsBotMessage implements the §4.D bot-detection rule: a message is a bot
// message if its subtype marks it as one, or it has text but no author.
func (m Message) IsBotMessage() bool {
	if m.Subtype == SubtypeBotMessage {
		return true
	}
	return m.User == "" && m.Text != ""
}

// TsFloat parses Ts as a float64 for ordering comparisons. Malformed
// timestamps sort as 0 rather than panicking.
func (m Message) TsFloat() float64 {
	v, _ := ParseTs(m.Ts)
	return v
}

// ParseTs parses a chat-platform timestamp ("seconds.microseconds") as a
// decimal number of seconds since the epoch.
func ParseTs(ts string) (float64, error) {
	return parseDecimal(ts)
}

// SortMessagesByTs sorts msgs ascending by Ts in place.
func SortMessagesByTs(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].TsFloat() < msgs[j].TsFloat()
	})
}

// Channel describes a chat-platform channel.
type Channel struct {
	ID       string
	Name     string
	Kind     ChannelKind
	Members  []string
	PeerUser string // set for DM channels: the other participant
}

// IsDM reports whether the channel id uses the platform's DM id prefix.
func (c Channel) IsDM() bool {
	return len(c.ID) > 0 && c.ID[0] == 'D'
}

// TimeRange is a bounded, inclusive window expressed as platform timestamps
// (decimal seconds since epoch, same domain as Message.Ts).
type TimeRange struct {
	Start float64
	End   float64
}

// Contains reports whether ts falls within [Start, End].
func (r TimeRange) Contains(ts float64) bool {
	return ts >= r.Start && ts <= r.End
}

// Lookback returns r extended 24h earlier, per the fetcher's context
// lookback rule (§2 component C, §4.C phase 2).
func (r TimeRange) Lookback() TimeRange {
	return TimeRange{Start: r.Start - 24*60*60, End: r.End}
}

// DayBucket returns the YYYY-MM-DD bucket for a platform timestamp in loc.
func DayBucket(ts float64, loc *time.Location) string {
	return time.Unix(int64(ts), 0).In(loc).Format("2006-01-02")
}

// DayRange enumerates the inclusive day buckets a TimeRange intersects, in loc.
func DayRange(r TimeRange, loc *time.Location) []string {
	start := time.Unix(int64(r.Start), 0).In(loc)
	end := time.Unix(int64(r.End), 0).In(loc)
	y, m, d := start.Date()
	cur := time.Date(y, m, d, 0, 0, 0, 0, loc)
	var days []string
	for !cur.After(end) {
		days = append(days, cur.Format("2006-01-02"))
		cur = cur.AddDate(0, 0, 1)
	}
	return days
}

// Conversation (a "segment" in spec terminology) is a contiguous
// subsequence of a channel's messages produced by the segmenter.
//
// Invariants (§3, §8): Messages is sorted by Ts ascending; StartTime equals
// the first message's Ts; EndTime equals the last message's Ts;
// Participants is the set of unique non-empty Message.User values.
type Conversation struct {
	ID               string
	ChannelID        string
	ChannelName      string
	IsThread         bool
	ThreadParentTs   string
	Messages         []Message
	StartTime        float64
	EndTime          float64
	Participants     []string
	MessageCount     int
	UserMessageCount int
}

// Recompute recalculates StartTime, EndTime, Participants and MessageCount
// from Messages, which must already be sorted by Ts. It does NOT touch
// UserMessageCount: context messages never count toward it, so callers that
// add context must leave it alone, and callers that add real user messages
// must bump it themselves.
func (c *Conversation) Recompute() {
	if len(c.Messages) == 0 {
		c.MessageCount = 0
		c.Participants = nil
		return
	}
	c.StartTime = c.Messages[0].TsFloat()
	c.EndTime = c.Messages[len(c.Messages)-1].TsFloat()
	c.MessageCount = len(c.Messages)

	seen := make(map[string]bool)
	var participants []string
	for _, m := range c.Messages {
		if m.User == "" || seen[m.User] {
			continue
		}
		seen[m.User] = true
		participants = append(participants, m.User)
	}
	c.Participants = participants
}

// Text joins the non-empty message texts in Ts order with single spaces,
// the canonical "conversation text" used by the reference extractor,
// embedding client and fallback summarizer.
func (c Conversation) Text() string {
	var parts []string
	for _, m := range c.Messages {
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	return joinSpace(parts)
}

// IsBotConversation reports whether every message in c is a bot message.
func (c Conversation) IsBotConversation() bool {
	if len(c.Messages) == 0 {
		return false
	}
	for _, m := range c.Messages {
		if !m.IsBotMessage() {
			return false
		}
	}
	return true
}

// ReferenceType enumerates the closed set of cross-system identifier kinds
// the extractor recognizes (§4.D).
type ReferenceType string

const (
	RefGitHubIssue  ReferenceType = "github_issue"
	RefGitHubPR     ReferenceType = "github_pr"
	RefGitHubURL    ReferenceType = "github_url"
	RefGitLab       ReferenceType = "gitlab"
	RefTicket       ReferenceType = "ticket"
	RefConfluence   ReferenceType = "confluence"
	RefNotion       ReferenceType = "notion"
	RefGDoc         ReferenceType = "gdoc"
	RefGSheet       ReferenceType = "gsheet"
	RefGSlide       ReferenceType = "gslide"
	RefFigma        ReferenceType = "figma"
	RefAsana        ReferenceType = "asana"
	RefClickUp      ReferenceType = "clickup"
	RefSentry       ReferenceType = "sentry"
	RefDatadog      ReferenceType = "datadog"
	RefPagerDuty    ReferenceType = "pagerduty"
	RefAWSLogGroup  ReferenceType = "aws_log_group"
	RefZendesk      ReferenceType = "zendesk"
	RefSalesforce   ReferenceType = "salesforce"
	RefErrorPattern ReferenceType = "error_pattern"
	RefUserMention  ReferenceType = "user_mention"
	RefServiceName  ReferenceType = "service_name"
	RefSlackMessage ReferenceType = "slack_message"
)

// Reference is a single normalized cross-system identifier extracted from a
// message. Value is the normalized form that defines cross-message equality;
// Raw preserves the original matched text for display.
type Reference struct {
	Type      ReferenceType
	Value     string
	Raw       string
	MessageTs string
}

// ConversationReferences bundles every reference extracted from a single
// conversation, plus a de-duplicated set of values for cheap membership
// tests and Jaccard similarity.
type ConversationReferences struct {
	ConversationID string
	References     []Reference
	UniqueValues   map[string]bool
}

// ConversationGroup ("topic") is a set of conversations the consolidator
// judged as covering the same subject.
//
// Invariant (§3, §8): AllMessages is the Ts-sorted union of every
// conversation's Messages.
type ConversationGroup struct {
	ID                      string
	Conversations           []Conversation
	SharedReferences        []Reference
	AllMessages             []Message
	StartTime               float64
	EndTime                 float64
	Participants            []string
	TotalMessageCount       int
	TotalUserMessageCount   int
	HasThreads              bool
	OriginalConversationIDs []string
}

// AssembleGroup builds a ConversationGroup from a set of conversations,
// establishing the AllMessages/StartTime/EndTime/Participants invariants.
func AssembleGroup(id string, convs []Conversation, sharedRefs []Reference) ConversationGroup {
	g := ConversationGroup{
		ID:               id,
		Conversations:    convs,
		SharedReferences: sharedRefs,
	}
	seen := make(map[string]bool)
	var all []Message
	partSeen := make(map[string]bool)
	for _, c := range convs {
		g.OriginalConversationIDs = append(g.OriginalConversationIDs, c.ID)
		g.TotalMessageCount += c.MessageCount
		g.TotalUserMessageCount += c.UserMessageCount
		if c.IsThread {
			g.HasThreads = true
		}
		for _, p := range c.Participants {
			if !partSeen[p] {
				partSeen[p] = true
				g.Participants = append(g.Participants, p)
			}
		}
		for _, m := range c.Messages {
			key := m.ChannelID + "|" + m.Ts
			if seen[key] {
				continue
			}
			seen[key] = true
			all = append(all, m)
		}
	}
	SortMessagesByTs(all)
	g.AllMessages = all
	if len(all) > 0 {
		g.StartTime = all[0].TsFloat()
		g.EndTime = all[len(all)-1].TsFloat()
	}
	return g
}

// CachedEmbedding is a persisted embedding vector for a conversation's text.
// A cache hit requires both ConversationID and TextHash to match; any text
// change invalidates the entry.
type CachedEmbedding struct {
	ConversationID string
	Embedding      []float32
	TextHash       string
	Model          string
	Dimensions     int
	CreatedAt      int64
}

// UserActivityData bundles everything the fetcher gathers for one user over
// one window: messages actually sent, threads participated in, mentions,
// reactions, and (for the segmenter's context enrichment) the full message
// list per channel covering the lookback-extended range.
type UserActivityData struct {
	UserID              string
	Range               TimeRange
	MessagesSent        []Message
	ThreadsParticipated []ThreadParticipation
	Mentions            []Message
	Reactions           []Reaction
	ChannelMessages     map[string][]Message // channel id -> full message list (lookback-extended)
	Channels            map[string]Channel
}

// ThreadParticipation is a thread the user replied in, with replies already
// filtered to those inside the original (non-lookback) range.
type ThreadParticipation struct {
	ChannelID string
	ParentTs  string
	Parent    Message // may predate the requested range
	Replies   []Message
}

// Reaction is an emoji reaction the user left on some message.
type Reaction struct {
	ChannelID string
	Ts        string
	Emoji     string
}

// GroupSummary is the narrated output of the summarizer driver for one
// ConversationGroup (§4.H.4).
type GroupSummary struct {
	NarrativeSummary string
	StartTime        float64
	EndTime          float64
	MessageCount     int
	UserMessages     int
	Participants     []string // "@display_name", requester excluded
	KeyEvents        []string
	References       []Reference
	Outcome          string // empty means "no outcome recorded"
	NextActions      []string
	TimesheetEntry   string
	SlackLink        string
	SlackLinks       []string
	SegmentsMerged   bool
}

// ChannelSummary groups every GroupSummary produced for one channel.
type ChannelSummary struct {
	ChannelID         string
	ChannelName       string
	ChannelKind       ChannelKind
	Groups            []GroupSummary
	TotalInteractions int
}

// ProgressStage names a pipeline stage for progress events (§4.J.5).
type ProgressStage string

const (
	StageFetching      ProgressStage = "fetching"
	StageSegmenting    ProgressStage = "segmenting"
	StageConsolidating ProgressStage = "consolidating"
	StageSummarizing   ProgressStage = "summarizing"
	StageComplete      ProgressStage = "complete"
)

// ProgressEvent is emitted on a plain channel during aggregation, mirroring
// the teacher's streaming-event-over-channel shape (oasis's StreamEvent).
type ProgressEvent struct {
	Stage   ProgressStage
	Channel string // channel id, when meaningful
	Current int
	Total   int
	Message string
}

// Report is the final assembled digest (§4.J.6).
type Report struct {
	SchemaVersion int
	GeneratedAt   int64
	RequestedUser string
	Range         TimeRange
	Channels      []ChannelSummary
	TotalMessages int
	TotalGroups   int
}

func joinSpace(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

// parseDecimal parses a "123.456" style decimal string without going through
// strconv.ParseFloat, so that trailing-zero microsecond precision (the chat
// platform pads to 6 fractional digits) is preserved exactly the same way
// regardless of string length.
func parseDecimal(s string) (float64, error) {
	var whole, frac int64
	var fracDigits int
	neg := false
	i := 0
	if i < len(s) && s[i] == '-' {
		neg = true
		i++
	}
	seenDot := false
	for ; i < len(s); i++ {
		c := s[i]
		if c == '.' {
			if seenDot {
				return 0, errInvalidTs
			}
			seenDot = true
			continue
		}
		if c < '0' || c > '9' {
			return 0, errInvalidTs
		}
		if seenDot {
			frac = frac*10 + int64(c-'0')
			fracDigits++
		} else {
			whole = whole*10 + int64(c-'0')
		}
	}
	v := float64(whole)
	if fracDigits > 0 {
		div := 1.0
		for n := 0; n < fracDigits; n++ {
			div *= 10
		}
		v += float64(frac) / div
	}
	if neg {
		v = -v
	}
	return v, nil
}
