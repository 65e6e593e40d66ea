package segment

import (
	"fmt"
	"testing"

	"github.com/nevindra/shiftlog"
)

func msg(ts, user, text string) shiftlog.Message {
	return shiftlog.Message{Ts: ts, User: user, Text: text}
}

func TestSegmentThreadAndMainSplit(t *testing.T) {
	threads := map[string][]shiftlog.Message{
		"500.000000": {
			msg("500.000000", "U1", "starting a thread"),
			msg("510.000000", "U2", "reply"),
		},
	}
	main := []shiftlog.Message{
		msg("1000.000000", "U1", "first burst a"),
		msg("1030.000000", "U2", "first burst b"),
		// gap of >60 minutes (3600s) before the next burst.
		msg("5000.000000", "U1", "second burst a"),
	}

	s := New(Options{})
	convs := s.Segment("C1", "general", main, threads, append(append([]shiftlog.Message{}, main...), threads["500.000000"]...), "")

	if len(convs) != 3 {
		t.Fatalf("len(convs) = %d, want 3", len(convs))
	}

	var threadConv *shiftlog.Conversation
	for i := range convs {
		if convs[i].IsThread {
			threadConv = &convs[i]
		}
	}
	if threadConv == nil {
		t.Fatal("expected one thread conversation")
	}
	if threadConv.MessageCount != 2 {
		t.Errorf("thread MessageCount = %d, want 2", threadConv.MessageCount)
	}

	// Conversations must come out sorted by StartTime ascending.
	for i := 1; i < len(convs); i++ {
		if convs[i].StartTime < convs[i-1].StartTime {
			t.Fatalf("convs not sorted: %+v", convs)
		}
	}
}

func TestSplitByGapThreshold(t *testing.T) {
	msgs := []shiftlog.Message{
		msg("0.000000", "U1", "a"),
		msg("100.000000", "U1", "b"),
		// exactly at the 60-minute threshold: starts a new segment.
		msg("3700.000000", "U1", "c"),
	}
	segs := splitByGap(msgs, 60)
	if len(segs) != 2 {
		t.Fatalf("len(segs) = %d, want 2", len(segs))
	}
	if len(segs[0]) != 2 || len(segs[1]) != 1 {
		t.Fatalf("segs = %+v", segs)
	}
}

func TestSemanticRefinementSplitsSegment(t *testing.T) {
	// Three messages per topic keeps UserMessageCount above the default
	// short-segment expansion threshold, so the split survives untouched.
	main := []shiftlog.Message{
		msg("0.000000", "U1", "topic a 1"),
		msg("10.000000", "U2", "topic a 2"),
		msg("20.000000", "U1", "topic a 3"),
		msg("30.000000", "U1", "topic b 1"),
		msg("40.000000", "U2", "topic b 2"),
		msg("50.000000", "U1", "topic b 3"),
	}
	boundary := func(seg []shiftlog.Message) []BoundaryDecision {
		return []BoundaryDecision{{Index: 3, Confidence: 0.9}}
	}
	s := New(Options{MinMessagesForSemantic: 3, Boundary: boundary})
	convs := s.Segment("C1", "general", main, nil, main, "")

	if len(convs) != 2 {
		t.Fatalf("len(convs) = %d, want 2", len(convs))
	}
	if convs[0].MessageCount != 3 || convs[1].MessageCount != 3 {
		t.Fatalf("convs = %+v", convs)
	}
}

func TestSemanticRefinementSkipsShortSegments(t *testing.T) {
	main := []shiftlog.Message{
		msg("0.000000", "U1", "a"),
		msg("10.000000", "U2", "b"),
	}
	called := false
	boundary := func(seg []shiftlog.Message) []BoundaryDecision {
		called = true
		return nil
	}
	s := New(Options{MinMessagesForSemantic: 3, Boundary: boundary})
	s.Segment("C1", "general", main, nil, main, "")

	if called {
		t.Error("boundary func should not be called for segments below MinMessagesForSemantic")
	}
}

func TestMentionLookbackGathersSameDayPriorContext(t *testing.T) {
	requester := "U1"
	all := []shiftlog.Message{
		msg("100.000000", "U2", "earlier unrelated message"),
		msg("200.000000", "U3", "another earlier message"),
		msg("1000.000000", "U2", "hey <@U1> look at this"),
	}
	main := []shiftlog.Message{all[2]}

	s := New(Options{})
	convs := s.Segment("C1", "general", main, nil, all, requester)

	if len(convs) != 1 {
		t.Fatalf("len(convs) = %d, want 1", len(convs))
	}
	conv := convs[0]
	if conv.MessageCount != 3 {
		t.Fatalf("MessageCount = %d, want 3 (2 context + 1 original)", conv.MessageCount)
	}
	if conv.Messages[0].Ts != "100.000000" || conv.Messages[1].Ts != "200.000000" {
		t.Fatalf("context messages not prepended in order: %+v", conv.Messages)
	}
	for _, m := range conv.Messages[:2] {
		if m.Subtype != shiftlog.SubtypeMentionContext {
			t.Errorf("expected MENTION_CONTEXT subtype, got %q", m.Subtype)
		}
	}
	// Context messages must not inflate UserMessageCount.
	if conv.UserMessageCount != 1 {
		t.Errorf("UserMessageCount = %d, want 1", conv.UserMessageCount)
	}
}

func TestMentionLookbackSkippedWhenRequesterAuthoredFirstMessage(t *testing.T) {
	requester := "U1"
	// No other messages exist, so short-segment expansion (the fallback
	// enrichment path) has nothing to pull in either.
	all := []shiftlog.Message{
		msg("1000.000000", requester, "hey <@U1> look at this"),
	}
	main := all

	s := New(Options{})
	convs := s.Segment("C1", "general", main, nil, all, requester)

	if len(convs) != 1 {
		t.Fatalf("len(convs) = %d, want 1", len(convs))
	}
	if convs[0].MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1 (no lookback expected)", convs[0].MessageCount)
	}
}

func TestMentionLookbackCapsContextMessages(t *testing.T) {
	requester := "U1"
	var all []shiftlog.Message
	for i := 0; i < 30; i++ {
		all = append(all, msg(float64Ts(float64(i)), "U2", "filler"))
	}
	all = append(all, msg(float64Ts(1000), "U2", "hey <@U1> check this"))
	main := []shiftlog.Message{all[len(all)-1]}

	s := New(Options{MaxMentionContextMessages: 20})
	convs := s.Segment("C1", "general", main, nil, all, requester)

	if len(convs) != 1 {
		t.Fatalf("len(convs) = %d, want 1", len(convs))
	}
	if convs[0].MessageCount != 21 {
		t.Fatalf("MessageCount = %d, want 21 (20 capped context + 1 original)", convs[0].MessageCount)
	}
}

func TestShortSegmentExpansionGathersPriorMessages(t *testing.T) {
	all := []shiftlog.Message{
		msg("0.000000", "U2", "some earlier discussion"),
		msg("60.000000", "U2", "continues"),
		msg("500.000000", "U1", "short reply"),
	}
	main := []shiftlog.Message{all[2]}

	s := New(Options{ShortSegmentThreshold: 2, ShortSegmentTargetSize: 20, ShortSegmentMaxGapMinutes: 30})
	convs := s.Segment("C1", "general", main, nil, all, "")

	if len(convs) != 1 {
		t.Fatalf("len(convs) = %d, want 1", len(convs))
	}
	if convs[0].MessageCount != 3 {
		t.Fatalf("MessageCount = %d, want 3", convs[0].MessageCount)
	}
	for _, m := range convs[0].Messages[:2] {
		if m.Subtype != shiftlog.SubtypeContext {
			t.Errorf("expected CONTEXT subtype, got %q", m.Subtype)
		}
	}
}

func TestShortSegmentExpansionStopsAtGap(t *testing.T) {
	all := []shiftlog.Message{
		// more than 30 minutes before the short segment: must not be pulled in.
		msg("0.000000", "U2", "too far back"),
		msg("3000.000000", "U1", "short reply"),
	}
	main := []shiftlog.Message{all[1]}

	s := New(Options{ShortSegmentThreshold: 2, ShortSegmentTargetSize: 20, ShortSegmentMaxGapMinutes: 30})
	convs := s.Segment("C1", "general", main, nil, all, "")

	if len(convs) != 1 {
		t.Fatalf("len(convs) = %d, want 1", len(convs))
	}
	if convs[0].MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1 (gap exceeds ShortSegmentMaxGapMinutes)", convs[0].MessageCount)
	}
}

func TestShortSegmentExpansionSkippedAboveThreshold(t *testing.T) {
	all := []shiftlog.Message{
		msg("0.000000", "U2", "earlier"),
		msg("100.000000", "U1", "a"),
		msg("110.000000", "U2", "b"),
		msg("120.000000", "U1", "c"),
	}
	main := all[1:]

	s := New(Options{ShortSegmentThreshold: 2})
	convs := s.Segment("C1", "general", main, nil, all, "")

	if len(convs) != 1 {
		t.Fatalf("len(convs) = %d, want 1", len(convs))
	}
	if convs[0].MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3 (above threshold, no expansion)", convs[0].MessageCount)
	}
}

func float64Ts(seconds float64) string {
	return fmt.Sprintf("%f", seconds)
}
