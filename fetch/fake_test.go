package fetch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nevindra/shiftlog"
)

// fakeStore is a minimal in-memory shiftlog.Store for fetch's tests. Real
// persistence is store/sqlite's job; the fetcher only needs something that
// honors the interface's read-after-write and watermark semantics.
type fakeStore struct {
	mu          sync.Mutex
	messages    map[string][]shiftlog.Message // channel id -> messages
	mentions    map[string][]shiftlog.Message // user id -> messages
	reactions   map[string][]shiftlog.Reaction
	channels    map[string]shiftlog.Channel
	watermarks  map[string]bool
	embeddings  map[string]shiftlog.CachedEmbedding
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
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := toSet(days)
	out := filterByDay(s.messages[channelID], wanted)
	sort.Slice(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })
	return out, nil
}

func (s *fakeStore) CacheMessages(ctx context.Context, channelID string, msgs []shiftlog.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[channelID] = append(s.messages[channelID], msgs...)
	return nil
}

func (s *fakeStore) GetCachedMentions(ctx context.Context, userID string, days []string) ([]shiftlog.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := toSet(days)
	return filterByDay(s.mentions[userID], wanted), nil
}

func (s *fakeStore) CacheMentions(ctx context.Context, userID string, msgs []shiftlog.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mentions[userID] = append(s.mentions[userID], msgs...)
	return nil
}

func (s *fakeStore) GetCachedReactions(ctx context.Context, userID string, days []string) ([]shiftlog.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := toSet(days)
	var out []shiftlog.Reaction
	for _, r := range s.reactions[userID] {
		ts, err := shiftlog.ParseTs(r.Ts)
		if err != nil {
			continue
		}
		if wanted[shiftlog.DayBucket(ts, time.UTC)] {
			out = append(out, r)
		}
	}
	return out, nil
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
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermarks[watermarkKey(userID, scope, day, kind)], nil
}

func (s *fakeStore) MarkDayFetched(ctx context.Context, userID, scope, day, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[watermarkKey(userID, scope, day, kind)] = true
	return nil
}

func (s *fakeStore) GetEmbedding(ctx context.Context, conversationID, textHash string) (shiftlog.CachedEmbedding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.embeddings[conversationID+"|"+textHash]
	return e, ok, nil
}

func (s *fakeStore) GetEmbeddingBatch(ctx context.Context, keys []shiftlog.EmbeddingKey) (map[shiftlog.EmbeddingKey]shiftlog.CachedEmbedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[shiftlog.EmbeddingKey]shiftlog.CachedEmbedding)
	for _, k := range keys {
		if e, ok := s.embeddings[k.ConversationID+"|"+k.TextHash]; ok {
			out[k] = e
		}
	}
	return out, nil
}

func (s *fakeStore) SetEmbedding(ctx context.Context, entry shiftlog.CachedEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[entry.ConversationID+"|"+entry.TextHash] = entry
	return nil
}

func (s *fakeStore) SetEmbeddingBatch(ctx context.Context, entries []shiftlog.CachedEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.embeddings[e.ConversationID+"|"+e.TextHash] = e
	}
	return nil
}

func (s *fakeStore) ClearEmbeddings(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.embeddings {
		if len(k) > len(conversationID) && k[:len(conversationID)] == conversationID {
			delete(s.embeddings, k)
		}
	}
	return nil
}

func (s *fakeStore) TableStats(ctx context.Context) (map[string]shiftlog.TableStat, error) {
	return map[string]shiftlog.TableStat{}, nil
}

func watermarkKey(userID, scope, day, kind string) string {
	return userID + "|" + scope + "|" + day + "|" + kind
}

func toSet(days []string) map[string]bool {
	m := make(map[string]bool, len(days))
	for _, d := range days {
		m[d] = true
	}
	return m
}

func filterByDay(msgs []shiftlog.Message, wanted map[string]bool) []shiftlog.Message {
	var out []shiftlog.Message
	for _, m := range msgs {
		if wanted[shiftlog.DayBucket(m.TsFloat(), time.UTC)] {
			out = append(out, m)
		}
	}
	return out
}

var _ shiftlog.Store = (*fakeStore)(nil)

// fakeRPC runs thunks with no rate limiting or retry, for tests that don't
// care about chatclient's behavior.
type fakeRPC struct{}

func (fakeRPC) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
func (fakeRPC) ClearQueue() {}

var _ shiftlog.RPCExecutor = fakeRPC{}
