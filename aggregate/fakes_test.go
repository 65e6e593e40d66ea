package aggregate

import (
	"context"
	"sync"

	"github.com/nevindra/shiftlog"
)

// fakeClient is a minimal in-memory shiftlog.ChatClient, grounded on the
// fetch package's own fakeClient (fetch/fetch_test.go): only the behavior
// the aggregator's tests actually exercise is implemented.
type fakeClient struct {
	mu sync.Mutex

	authedUser    string
	searchResults map[string][]shiftlog.SearchResult
	userChannels  []shiftlog.Channel
	channelInfo   map[string]shiftlog.Channel
	history       map[string][]shiftlog.Message
	replies       map[string][]shiftlog.Message
	displayNames  map[string]string
	permalinks    map[string]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		searchResults: make(map[string][]shiftlog.SearchResult),
		channelInfo:   make(map[string]shiftlog.Channel),
		history:       make(map[string][]shiftlog.Message),
		replies:       make(map[string][]shiftlog.Message),
		displayNames:  make(map[string]string),
		permalinks:    make(map[string]string),
	}
}

func (c *fakeClient) AuthedUserID(ctx context.Context) (string, error) {
	return c.authedUser, nil
}

func (c *fakeClient) Search(ctx context.Context, query string, r shiftlog.TimeRange) ([]shiftlog.SearchResult, error) {
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
	return nil, false, "", nil
}

func (c *fakeClient) Permalink(ctx context.Context, channelID, ts string) (string, error) {
	if v, ok := c.permalinks[channelID+"|"+ts]; ok {
		return v, nil
	}
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

// fakeStore is a minimal in-memory shiftlog.Store, grounded on the same
// shape as fetch/fake_test.go's fakeStore.
type fakeStore struct {
	mu         sync.Mutex
	messages   map[string][]shiftlog.Message
	mentions   map[string][]shiftlog.Message
	reactions  map[string][]shiftlog.Reaction
	channels   map[string]shiftlog.Channel
	watermarks map[string]bool
	embeddings map[string]shiftlog.CachedEmbedding
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages:   make(map[string][]shiftlog.Message),
		mentions:   make(map[string][]shiftlog.Message),
		reactions:  make(map[string][]shiftlog.Reaction),
		channels:   make(map[string]shiftlog.Channel),
		watermarks: make(map[string]bool),
		embeddings: make(map[string]shiftlog.CachedEmbedding),
	}
}

func (s *fakeStore) Init(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                   { return nil }

func (s *fakeStore) GetCachedMessages(ctx context.Context, channelID string, days []string) ([]shiftlog.Message, error) {
	return nil, nil
}
func (s *fakeStore) CacheMessages(ctx context.Context, channelID string, msgs []shiftlog.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[channelID] = append(s.messages[channelID], msgs...)
	return nil
}
func (s *fakeStore) GetCachedMentions(ctx context.Context, userID string, days []string) ([]shiftlog.Message, error) {
	return nil, nil
}
func (s *fakeStore) CacheMentions(ctx context.Context, userID string, msgs []shiftlog.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mentions[userID] = append(s.mentions[userID], msgs...)
	return nil
}
func (s *fakeStore) GetCachedReactions(ctx context.Context, userID string, days []string) ([]shiftlog.Reaction, error) {
	return nil, nil
}
func (s *fakeStore) CacheReactions(ctx context.Context, userID string, reactions []shiftlog.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactions[userID] = append(s.reactions[userID], reactions...)
	return nil
}
func (s *fakeStore) GetCachedChannel(ctx context.Context, channelID string) (shiftlog.Channel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	return ch, ok, nil
}
func (s *fakeStore) CacheChannel(ctx context.Context, ch shiftlog.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = ch
	return nil
}
func (s *fakeStore) IsDayFetched(ctx context.Context, userID, scope, day, kind string) (bool, error) {
	return false, nil
}
func (s *fakeStore) MarkDayFetched(ctx context.Context, userID, scope, day, kind string) error {
	return nil
}
func (s *fakeStore) GetEmbedding(ctx context.Context, conversationID, textHash string) (shiftlog.CachedEmbedding, bool, error) {
	return shiftlog.CachedEmbedding{}, false, nil
}
func (s *fakeStore) GetEmbeddingBatch(ctx context.Context, keys []shiftlog.EmbeddingKey) (map[shiftlog.EmbeddingKey]shiftlog.CachedEmbedding, error) {
	return nil, nil
}
func (s *fakeStore) SetEmbedding(ctx context.Context, entry shiftlog.CachedEmbedding) error {
	return nil
}
func (s *fakeStore) SetEmbeddingBatch(ctx context.Context, entries []shiftlog.CachedEmbedding) error {
	return nil
}
func (s *fakeStore) ClearEmbeddings(ctx context.Context, conversationID string) error { return nil }
func (s *fakeStore) TableStats(ctx context.Context) (map[string]shiftlog.TableStat, error) {
	return map[string]shiftlog.TableStat{}, nil
}

var _ shiftlog.Store = (*fakeStore)(nil)

// fakeRPC runs thunks inline with no rate limiting, for tests that don't
// care about chatclient's retry/backoff behavior.
type fakeRPC struct{}

func (fakeRPC) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
func (fakeRPC) ClearQueue() {}

var _ shiftlog.RPCExecutor = fakeRPC{}

// fakeLLM is a scripted shiftlog.LLMProvider, grounded on summarize's own
// fakeLLM (summarize/fakes_test.go).
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) CreateMessage(ctx context.Context, model string, maxTokens int, messages []shiftlog.LLMMessage) (shiftlog.LLMContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	var text string
	if idx >= 0 {
		text = f.responses[idx]
	}
	return shiftlog.LLMContent{Text: text}, nil
}

var _ shiftlog.LLMProvider = (*fakeLLM)(nil)

func msg(ts, channel, user, text string) shiftlog.Message {
	return shiftlog.Message{Ts: ts, ChannelID: channel, User: user, Text: text}
}
