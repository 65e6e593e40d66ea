// Package segment implements shiftlog's conversation segmenter: it turns a
// channel's flat message list into a set of Conversation values, one per
// thread or contiguous burst of main-channel activity, then enriches each
// with surrounding context for the requesting user.
package segment

import (
	"sort"
	"time"

	"github.com/nevindra/shiftlog"
)

// BoundaryDecision is one candidate split point from an external semantic
// boundary analyzer.
type BoundaryDecision struct {
	// Index is the message index (within the segment being analyzed) after
	// which the boundary falls.
	Index      int
	Confidence float64
}

// BoundaryFunc analyzes a segment's messages and returns candidate split
// points. The default Segmenter has none configured, which skips stage 3
// entirely.
type BoundaryFunc func(messages []shiftlog.Message) []BoundaryDecision

// Options configures the segmenter. Zero values are replaced by spec
// defaults in New.
type Options struct {
	GapThresholdMinutes         float64
	MinMessagesForSemantic      int
	SemanticConfidenceThreshold float64
	MaxMentionContextMessages   int
	ShortSegmentThreshold       int
	ShortSegmentTargetSize      int
	ShortSegmentMaxGapMinutes   float64
	Boundary                    BoundaryFunc
	Location                    *time.Location
}

// Segmenter implements the 5-stage segmentation pipeline of spec §4.E.
type Segmenter struct {
	opts Options
}

// New creates a Segmenter, filling unset Options with spec defaults.
func New(opts Options) *Segmenter {
	if opts.GapThresholdMinutes == 0 {
		opts.GapThresholdMinutes = 60
	}
	if opts.MinMessagesForSemantic == 0 {
		opts.MinMessagesForSemantic = 3
	}
	if opts.SemanticConfidenceThreshold == 0 {
		opts.SemanticConfidenceThreshold = 0.6
	}
	if opts.MaxMentionContextMessages == 0 {
		opts.MaxMentionContextMessages = 20
	}
	if opts.ShortSegmentThreshold == 0 {
		opts.ShortSegmentThreshold = 2
	}
	if opts.ShortSegmentTargetSize == 0 {
		opts.ShortSegmentTargetSize = 20
	}
	if opts.ShortSegmentMaxGapMinutes == 0 {
		opts.ShortSegmentMaxGapMinutes = 30
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Segmenter{opts: opts}
}

// Segment runs the full pipeline for one channel. mainMessages are
// non-thread-reply messages; threads maps a thread parent ts to its full
// reply list (including the parent). requestingUser is used for mention
// lookback; it may be "" if context enrichment for mentions is not needed.
func (s *Segmenter) Segment(channelID, channelName string, mainMessages []shiftlog.Message, threads map[string][]shiftlog.Message, allChannelMessages []shiftlog.Message, requestingUser string) []shiftlog.Conversation {
	var convs []shiftlog.Conversation

	// Stage 1: thread conversations, built directly.
	for parentTs, msgs := range threads {
		c := shiftlog.Conversation{
			ID:          shiftlog.NewID(),
			ChannelID:   channelID,
			ChannelName: channelName,
			IsThread:    true,
			ThreadParentTs: parentTs,
			Messages:    append([]shiftlog.Message(nil), msgs...),
		}
		c.Recompute()
		c.UserMessageCount = countUserMessages(c.Messages)
		convs = append(convs, c)
	}

	// Stage 2: time-gap split of main-channel messages.
	main := append([]shiftlog.Message(nil), mainMessages...)
	shiftlog.SortMessagesByTs(main)
	segments := splitByGap(main, s.opts.GapThresholdMinutes)

	// Stage 3: optional semantic refinement.
	if s.opts.Boundary != nil {
		var refined [][]shiftlog.Message
		for _, seg := range segments {
			if len(seg) < s.opts.MinMessagesForSemantic {
				refined = append(refined, seg)
				continue
			}
			decisions := s.opts.Boundary(seg)
			refined = append(refined, applyBoundaries(seg, decisions, s.opts.SemanticConfidenceThreshold)...)
		}
		segments = refined
	}

	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		c := shiftlog.Conversation{
			ID:          shiftlog.NewID(),
			ChannelID:   channelID,
			ChannelName: channelName,
			Messages:    seg,
		}
		c.Recompute()
		c.UserMessageCount = countUserMessages(c.Messages)
		convs = append(convs, c)
	}

	// Stage 4: sort all conversations by start time.
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].StartTime < convs[j].StartTime
	})

	// Stage 5: context enrichment.
	allSorted := append([]shiftlog.Message(nil), allChannelMessages...)
	shiftlog.SortMessagesByTs(allSorted)
	for i := range convs {
		s.enrichContext(&convs[i], allSorted, requestingUser)
	}

	return convs
}

func countUserMessages(msgs []shiftlog.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Subtype != shiftlog.SubtypeContext && m.Subtype != shiftlog.SubtypeMentionContext {
			n++
		}
	}
	return n
}

// splitByGap walks ts-sorted msgs, starting a new segment whenever the gap
// to the previous message is >= gapMinutes.
func splitByGap(msgs []shiftlog.Message, gapMinutes float64) [][]shiftlog.Message {
	if len(msgs) == 0 {
		return nil
	}
	gapSeconds := gapMinutes * 60
	var segments [][]shiftlog.Message
	cur := []shiftlog.Message{msgs[0]}
	for i := 1; i < len(msgs); i++ {
		gap := msgs[i].TsFloat() - msgs[i-1].TsFloat()
		if gap >= gapSeconds {
			segments = append(segments, cur)
			cur = []shiftlog.Message{msgs[i]}
			continue
		}
		cur = append(cur, msgs[i])
	}
	segments = append(segments, cur)
	return segments
}

// applyBoundaries splits seg at every decision whose confidence clears
// threshold, in index order.
func applyBoundaries(seg []shiftlog.Message, decisions []BoundaryDecision, threshold float64) [][]shiftlog.Message {
	var cuts []int
	for _, d := range decisions {
		if d.Confidence >= threshold && d.Index > 0 && d.Index < len(seg) {
			cuts = append(cuts, d.Index)
		}
	}
	if len(cuts) == 0 {
		return [][]shiftlog.Message{seg}
	}
	sort.Ints(cuts)
	var out [][]shiftlog.Message
	prev := 0
	for _, c := range cuts {
		if c <= prev {
			continue
		}
		out = append(out, seg[prev:c])
		prev = c
	}
	out = append(out, seg[prev:])
	return out
}

// enrichContext applies mention lookback, or failing that short-segment
// expansion, to conv in place.
func (s *Segmenter) enrichContext(conv *shiftlog.Conversation, allMessages []shiftlog.Message, requestingUser string) {
	added := s.mentionLookback(conv, allMessages, requestingUser)
	if !added && !conv.IsThread {
		s.shortSegmentExpansion(conv, allMessages)
	}
}

// mentionLookback implements spec §4.E's @mention lookback rule. Returns
// true iff any context message was added.
func (s *Segmenter) mentionLookback(conv *shiftlog.Conversation, allMessages []shiftlog.Message, requestingUser string) bool {
	if requestingUser == "" {
		return false
	}
	if len(conv.Messages) > 0 && conv.Messages[0].User == requestingUser {
		return false
	}

	var firstMentionTs float64 = -1
	for _, m := range conv.Messages {
		if mentionsUser(m, requestingUser) {
			firstMentionTs = m.TsFloat()
			break
		}
	}
	if firstMentionTs < 0 {
		return false
	}

	dayStart := startOfLocalDay(firstMentionTs, s.opts.Location)
	existing := tsSet(conv.Messages)

	var candidates []shiftlog.Message
	for _, m := range allMessages {
		ts := m.TsFloat()
		if ts < dayStart || ts >= firstMentionTs {
			continue
		}
		if existing[m.Ts] {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return false
	}
	if len(candidates) > s.opts.MaxMentionContextMessages {
		candidates = candidates[len(candidates)-s.opts.MaxMentionContextMessages:]
	}

	merged := make([]shiftlog.Message, 0, len(conv.Messages)+len(candidates))
	for _, m := range candidates {
		m.Subtype = shiftlog.SubtypeMentionContext
		merged = append(merged, m)
	}
	merged = append(merged, conv.Messages...)
	conv.Messages = merged
	conv.Recompute()
	return true
}

// shortSegmentExpansion implements spec §4.E's short-segment expansion rule.
func (s *Segmenter) shortSegmentExpansion(conv *shiftlog.Conversation, allMessages []shiftlog.Message) {
	if conv.UserMessageCount > s.opts.ShortSegmentThreshold {
		return
	}
	existing := tsSet(conv.Messages)

	startIdx := sort.Search(len(allMessages), func(i int) bool {
		return allMessages[i].TsFloat() >= conv.StartTime
	})

	var gathered []shiftlog.Message
	total := len(conv.Messages)
	prevTs := conv.StartTime
	for i := startIdx - 1; i >= 0 && total < s.opts.ShortSegmentTargetSize; i-- {
		m := allMessages[i]
		if existing[m.Ts] {
			continue
		}
		gap := (prevTs - m.TsFloat()) / 60
		if gap > s.opts.ShortSegmentMaxGapMinutes {
			break
		}
		gathered = append(gathered, m)
		prevTs = m.TsFloat()
		total++
	}
	if len(gathered) == 0 {
		return
	}

	// gathered was collected walking backward; restore chronological order.
	for i, j := 0, len(gathered)-1; i < j; i, j = i+1, j-1 {
		gathered[i], gathered[j] = gathered[j], gathered[i]
	}
	for i := range gathered {
		gathered[i].Subtype = shiftlog.SubtypeContext
	}
	merged := append(gathered, conv.Messages...)
	conv.Messages = merged
	conv.Recompute()
}

func mentionsUser(m shiftlog.Message, userID string) bool {
	needle := "<@" + userID
	return contains(m.Text, needle)
}

func contains(haystack, needle string) bool {
	return len(needle) > 0 && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}

func tsSet(msgs []shiftlog.Message) map[string]bool {
	set := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		set[m.Ts] = true
	}
	return set
}

func startOfLocalDay(ts float64, loc *time.Location) float64 {
	t := time.Unix(int64(ts), 0).In(loc)
	y, mo, d := t.Date()
	return float64(time.Date(y, mo, d, 0, 0, 0, 0, loc).Unix())
}
