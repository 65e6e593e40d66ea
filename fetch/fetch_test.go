package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/nevindra/shiftlog"
)

// fakeClient is an in-memory shiftlog.ChatClient for fetch's tests (spec
// §1 assumes the chat platform client is an external dependency; a real
// SDK is out of scope).
type fakeClient struct {
	authedUser    string
	searchResults map[string][]shiftlog.SearchResult // query -> hits
	searchErr     error
	userChannels  []shiftlog.Channel
	channelInfo   map[string]shiftlog.Channel
	history       map[string][]shiftlog.Message // channel id -> all messages
	replies       map[string][]shiftlog.Message // "channel|parentTs" -> replies incl. parent
	reactions     []shiftlog.Reaction
	displayNames  map[string]string
	historyErr    map[string]error // channel id -> forced History error
}

func (c *fakeClient) AuthedUserID(ctx context.Context) (string, error) {
	return c.authedUser, nil
}

func (c *fakeClient) Search(ctx context.Context, query string, r shiftlog.TimeRange) ([]shiftlog.SearchResult, error) {
	if c.searchErr != nil {
		return nil, c.searchErr
	}
	var out []shiftlog.SearchResult
	for _, hit := range c.searchResults[query] {
		if r.Contains(hit.Message.TsFloat()) {
			out = append(out, hit)
		}
	}
	return out, nil
}

func (c *fakeClient) UserChannels(ctx context.Context, userID string) ([]shiftlog.Channel, error) {
	return c.userChannels, nil
}

func (c *fakeClient) ChannelInfo(ctx context.Context, channelID string) (shiftlog.Channel, error) {
	return c.channelInfo[channelID], nil
}

func (c *fakeClient) History(ctx context.Context, channelID string, r shiftlog.TimeRange, cursor string) (shiftlog.HistoryPage, error) {
	if err := c.historyErr[channelID]; err != nil {
		return shiftlog.HistoryPage{}, err
	}
	var out []shiftlog.Message
	for _, m := range c.history[channelID] {
		if r.Contains(m.TsFloat()) {
			out = append(out, m)
		}
	}
	return shiftlog.HistoryPage{Messages: out}, nil
}

func (c *fakeClient) Replies(ctx context.Context, channelID, threadParentTs string) ([]shiftlog.Message, error) {
	return c.replies[channelID+"|"+threadParentTs], nil
}

func (c *fakeClient) Reactions(ctx context.Context, userID string, cursor string) ([]shiftlog.Reaction, bool, string, error) {
	return c.reactions, false, "", nil
}

func (c *fakeClient) Permalink(ctx context.Context, channelID, ts string) (string, error) {
	return "https://example.test/archives/" + channelID + "/p" + ts, nil
}

func (c *fakeClient) UserDisplayName(ctx context.Context, userID string) (string, error) {
	return c.displayNames[userID], nil
}

func (c *fakeClient) ListUserDisplayNames(ctx context.Context) (map[string]string, error) {
	return c.displayNames, nil
}

func (c *fakeClient) GetMessage(ctx context.Context, channelID, ts string) (shiftlog.Message, error) {
	for _, m := range c.history[channelID] {
		if m.Ts == ts {
			return m, nil
		}
	}
	return shiftlog.Message{}, nil
}

var _ shiftlog.ChatClient = (*fakeClient)(nil)

func msg(ts, channel, user, text string) shiftlog.Message {
	return shiftlog.Message{Ts: ts, ChannelID: channel, User: user, Text: text}
}

func TestFetchDiscoversChannelsViaSearch(t *testing.T) {
	client := &fakeClient{
		authedUser: "U1",
		searchResults: map[string][]shiftlog.SearchResult{
			"from:<@U1>": {{Message: msg("1000.0", "C1", "U1", "shipped the release")}},
		},
		channelInfo: map[string]shiftlog.Channel{"C1": {ID: "C1", Name: "general"}},
		history: map[string][]shiftlog.Message{
			"C1": {msg("1000.0", "C1", "U1", "shipped the release")},
		},
	}
	store := newFakeStore()
	f := New(client, store, fakeRPC{}, Options{})

	r := shiftlog.TimeRange{Start: 0, End: 100000}
	data, channelErrs, err := f.Fetch(context.Background(), "U1", r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(channelErrs) != 0 {
		t.Fatalf("unexpected channel errors: %v", channelErrs)
	}
	if len(data.MessagesSent) != 1 {
		t.Fatalf("MessagesSent = %d, want 1", len(data.MessagesSent))
	}
	if _, ok := data.ChannelMessages["C1"]; !ok {
		t.Error("expected channel C1 in ChannelMessages")
	}
}

func TestFetchFallsBackToUserChannelsOnSearchFailure(t *testing.T) {
	client := &fakeClient{
		authedUser:   "U1",
		searchErr:    context.DeadlineExceeded,
		userChannels: []shiftlog.Channel{{ID: "C2", Name: "random"}},
		channelInfo:  map[string]shiftlog.Channel{"C2": {ID: "C2", Name: "random"}},
		history: map[string][]shiftlog.Message{
			"C2": {msg("1000.0", "C2", "U1", "debugging the flaky test")},
		},
	}
	store := newFakeStore()
	f := New(client, store, fakeRPC{}, Options{})

	r := shiftlog.TimeRange{Start: 0, End: 100000}
	data, _, err := f.Fetch(context.Background(), "U1", r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data.MessagesSent) != 1 {
		t.Fatalf("MessagesSent = %d, want 1", len(data.MessagesSent))
	}
}

func TestFetchUsesCacheWhenDayAlreadyFetched(t *testing.T) {
	client := &fakeClient{
		authedUser: "U1",
		searchResults: map[string][]shiftlog.SearchResult{
			"from:<@U1>": {{Message: msg("1000.0", "C1", "U1", "noted in history")}},
		},
		channelInfo: map[string]shiftlog.Channel{"C1": {ID: "C1"}},
		history: map[string][]shiftlog.Message{
			"C1": {msg("1000.0", "C1", "U1", "noted in history")},
		},
	}
	store := newFakeStore()
	day := shiftlog.DayBucket(1000.0, time.UTC)
	_ = store.CacheMessages(context.Background(), "C1", []shiftlog.Message{
		msg("1000.0", "C1", "U1", "cached copy"),
	})
	_ = store.MarkDayFetched(context.Background(), "U1", "C1", day, "history")

	f := New(client, store, fakeRPC{}, Options{})
	r := shiftlog.TimeRange{Start: 0, End: 100000}
	data, _, err := f.Fetch(context.Background(), "U1", r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data.MessagesSent) != 1 || data.MessagesSent[0].Text != "cached copy" {
		t.Fatalf("expected cached copy to be served, got %+v", data.MessagesSent)
	}
}

func TestFetchThreadParticipationDroppedWhenEmptyAfterFilter(t *testing.T) {
	client := &fakeClient{
		authedUser: "U1",
		searchResults: map[string][]shiftlog.SearchResult{
			"from:<@U1>": {{Message: msg("500.0", "C1", "U1", "replied in thread"), ThreadParentTs: "100.0"}},
		},
		channelInfo: map[string]shiftlog.Channel{"C1": {ID: "C1"}},
		history: map[string][]shiftlog.Message{
			"C1": {
				func() shiftlog.Message { m := msg("500.0", "C1", "U1", "replied in thread"); m.ThreadParentTs = "100.0"; return m }(),
			},
		},
		replies: map[string][]shiftlog.Message{
			"C1|100.0": {
				msg("100.0", "C1", "U2", "parent message"),
				msg("500.0", "C1", "U1", "replied in thread"),
			},
		},
	}
	store := newFakeStore()
	f := New(client, store, fakeRPC{}, Options{})

	// Original range excludes ts 500, so the only reply falls outside it
	// and the thread should be dropped entirely.
	r := shiftlog.TimeRange{Start: 0, End: 400}
	data, _, err := f.Fetch(context.Background(), "U1", r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data.ThreadsParticipated) != 0 {
		t.Fatalf("ThreadsParticipated = %d, want 0", len(data.ThreadsParticipated))
	}
}

func TestFetchMentionsAndReactionsCachedPerDay(t *testing.T) {
	client := &fakeClient{
		authedUser: "U1",
		searchResults: map[string][]shiftlog.SearchResult{
			"from:<@U1>": nil,
			"<@U1>":      {{Message: msg("2000.0", "C1", "U2", "hey <@U1> check this")}},
		},
		reactions: []shiftlog.Reaction{{ChannelID: "C1", Ts: "2500.0", Emoji: "thumbsup"}},
	}
	store := newFakeStore()
	f := New(client, store, fakeRPC{}, Options{})

	r := shiftlog.TimeRange{Start: 0, End: 100000}
	data, _, err := f.Fetch(context.Background(), "U1", r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data.Mentions) != 1 {
		t.Fatalf("Mentions = %d, want 1", len(data.Mentions))
	}
	if len(data.Reactions) != 1 {
		t.Fatalf("Reactions = %d, want 1", len(data.Reactions))
	}

	// Second fetch should be served entirely from cache (no search/reactions
	// RPC needed); simulate by clearing the client's backing data.
	client.searchResults = nil
	client.reactions = nil
	data2, _, err := f.Fetch(context.Background(), "U1", r)
	if err != nil {
		t.Fatalf("unexpected error on cached fetch: %v", err)
	}
	if len(data2.Mentions) != 1 {
		t.Fatalf("cached Mentions = %d, want 1", len(data2.Mentions))
	}
	if len(data2.Reactions) != 1 {
		t.Fatalf("cached Reactions = %d, want 1", len(data2.Reactions))
	}
}

func TestFetchChannelErrorIsolatesThatChannelOnly(t *testing.T) {
	client := &fakeClient{
		authedUser: "U1",
		searchResults: map[string][]shiftlog.SearchResult{
			"from:<@U1>": {
				{Message: msg("1000.0", "C1", "U1", "good channel")},
				{Message: msg("1000.0", "C2", "U1", "bad channel")},
			},
		},
		channelInfo: map[string]shiftlog.Channel{"C1": {ID: "C1"}, "C2": {ID: "C2"}},
		history: map[string][]shiftlog.Message{
			"C1": {msg("1000.0", "C1", "U1", "good channel")},
			"C2": {msg("1000.0", "C2", "U1", "bad channel")},
		},
		historyErr: map[string]error{"C2": context.DeadlineExceeded},
	}
	store := newFakeStore()
	f := New(client, store, fakeRPC{}, Options{})

	r := shiftlog.TimeRange{Start: 0, End: 100000}
	data, channelErrs, err := f.Fetch(context.Background(), "U1", r)
	if err != nil {
		t.Fatalf("unexpected global error: %v", err)
	}
	if len(channelErrs) != 1 || channelErrs[0].ChannelID != "C2" {
		t.Fatalf("channelErrs = %+v, want one error for C2", channelErrs)
	}
	if _, ok := data.ChannelMessages["C1"]; !ok {
		t.Error("expected C1 to still be present despite C2's failure")
	}
}
