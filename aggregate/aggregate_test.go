package aggregate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nevindra/shiftlog"
)

func TestRunProducesReportForActiveChannel(t *testing.T) {
	client := newFakeClient()
	client.authedUser = "U1"
	client.searchResults["from:<@U1>"] = []shiftlog.SearchResult{
		{Message: msg("1700000100.000001", "C1", "U1", "shipped the release")},
	}
	client.channelInfo["C1"] = shiftlog.Channel{ID: "C1", Name: "general", Kind: shiftlog.ChannelPublic}
	client.history["C1"] = []shiftlog.Message{msg("1700000100.000001", "C1", "U1", "shipped the release")}
	client.displayNames["U1"] = "alice"

	llm := &fakeLLM{responses: []string{
		`{"narrative_summary": "Shipped the release.", "key_events": ["release"], "outcome": "shipped", "next_actions": [], "timesheet_entry": "Shipped the release"}`,
	}}

	store := newFakeStore()
	r := shiftlog.TimeRange{Start: 1700000000, End: 1700003600}

	agg := New(client, store, fakeRPC{}, llm, nil, nil, Options{Location: time.UTC})

	progress := make(chan shiftlog.ProgressEvent)
	var events []shiftlog.ProgressEvent
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range progress {
			events = append(events, e)
		}
	}()

	report, err := agg.Run(context.Background(), "U1", r, progress)
	wg.Wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(report.Channels) != 1 {
		t.Fatalf("Channels = %d, want 1", len(report.Channels))
	}
	cs := report.Channels[0]
	if cs.ChannelID != "C1" {
		t.Errorf("ChannelID = %q, want C1", cs.ChannelID)
	}
	if len(cs.Groups) != 1 {
		t.Fatalf("Groups = %d, want 1", len(cs.Groups))
	}
	if cs.Groups[0].NarrativeSummary != "Shipped the release." {
		t.Errorf("NarrativeSummary = %q", cs.Groups[0].NarrativeSummary)
	}
	if report.TotalGroups != 1 {
		t.Errorf("TotalGroups = %d, want 1", report.TotalGroups)
	}
	if report.TotalMessages != 1 {
		t.Errorf("TotalMessages = %d, want 1", report.TotalMessages)
	}

	var gotComplete bool
	for _, e := range events {
		if e.Stage == shiftlog.StageComplete {
			gotComplete = true
		}
	}
	if !gotComplete {
		t.Error("expected a StageComplete progress event")
	}
}

func TestActiveChannelIDsExcludesMentionOnlyChannel(t *testing.T) {
	data := shiftlog.UserActivityData{
		ChannelMessages: map[string][]shiftlog.Message{
			"C1": {msg("1.0", "C1", "U1", "hello")},
			"C2": {msg("2.0", "C2", "U2", "mentioning <@U1>")},
		},
		MessagesSent: []shiftlog.Message{msg("1.0", "C1", "U1", "hello")},
	}

	ids := activeChannelIDs(data)
	if len(ids) != 1 || ids[0] != "C1" {
		t.Errorf("activeChannelIDs = %v, want [C1] (C2 is mention-only)", ids)
	}
}

func TestActiveChannelIDsIncludesThreadOnlyChannel(t *testing.T) {
	data := shiftlog.UserActivityData{
		ChannelMessages: map[string][]shiftlog.Message{
			"C1": {msg("1.0", "C1", "U2", "top level")},
		},
		ThreadsParticipated: []shiftlog.ThreadParticipation{
			{ChannelID: "C1", ParentTs: "1.0"},
		},
	}

	ids := activeChannelIDs(data)
	if len(ids) != 1 || ids[0] != "C1" {
		t.Errorf("activeChannelIDs = %v, want [C1] (thread participation counts as activity)", ids)
	}
}

func TestGroupThreadsByChannelIncludesParent(t *testing.T) {
	participations := []shiftlog.ThreadParticipation{
		{
			ChannelID: "C1",
			ParentTs:  "1.0",
			Parent:    msg("1.0", "C1", "U2", "question"),
			Replies:   []shiftlog.Message{msg("2.0", "C1", "U1", "answer")},
		},
	}

	byChannel := groupThreadsByChannel(participations)
	replies := byChannel["C1"]["1.0"]
	if len(replies) != 2 {
		t.Fatalf("replies = %d, want 2 (parent + reply)", len(replies))
	}
	if replies[0].Ts != "1.0" || replies[1].Ts != "2.0" {
		t.Errorf("replies not ts-sorted: %+v", replies)
	}
}

func TestClaudeLimiterBoundsConcurrency(t *testing.T) {
	var inFlight, maxInFlight int32
	inner := &blockingLLM{
		onCall: func() {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		},
	}

	limited := newClaudeLimiter(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limited.CreateMessage(context.Background(), "model", 100, nil)
		}()
	}
	wg.Wait()

	if maxInFlight > 2 {
		t.Errorf("maxInFlight = %d, want <= 2", maxInFlight)
	}
}

type blockingLLM struct {
	onCall func()
}

func (b *blockingLLM) Name() string { return "blocking" }

func (b *blockingLLM) CreateMessage(ctx context.Context, model string, maxTokens int, messages []shiftlog.LLMMessage) (shiftlog.LLMContent, error) {
	b.onCall()
	return shiftlog.LLMContent{}, nil
}

var _ shiftlog.LLMProvider = (*blockingLLM)(nil)
