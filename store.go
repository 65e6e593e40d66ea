package shiftlog

import "context"

// Store abstracts the SQLite-backed cache (§4.B). It owns every persisted
// row: raw fetched messages/mentions/reactions/channels, per-(user,channel,
// day,kind) fetch watermarks, and the embedding cache. Conversations and
// groups are values that flow through the pipeline and are never persisted
// here.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	// --- Messages ---

	// GetCachedMessages returns cached messages for channel whose Ts falls
	// within any of the given day buckets, sorted by Ts ascending.
	GetCachedMessages(ctx context.Context, channelID string, days []string) ([]Message, error)
	// CacheMessages upserts messages keyed by (channel_id, ts).
	CacheMessages(ctx context.Context, channelID string, msgs []Message) error

	// --- Mentions ---

	GetCachedMentions(ctx context.Context, userID string, days []string) ([]Message, error)
	CacheMentions(ctx context.Context, userID string, msgs []Message) error

	// --- Reactions ---

	GetCachedReactions(ctx context.Context, userID string, days []string) ([]Reaction, error)
	CacheReactions(ctx context.Context, userID string, reactions []Reaction) error

	// --- Channels ---

	GetCachedChannel(ctx context.Context, channelID string) (Channel, bool, error)
	CacheChannel(ctx context.Context, ch Channel) error

	// --- Fetch watermarks ---

	// IsDayFetched reports whether the given (user, scope, day, kind) tuple
	// has already been fetched. scope is a channel id for "history"/"threads"
	// watermarks, or a fixed tag (e.g. "mentions", "reactions") for
	// user-scoped kinds.
	IsDayFetched(ctx context.Context, userID, scope, day, kind string) (bool, error)
	MarkDayFetched(ctx context.Context, userID, scope, day, kind string) error

	// --- Embedding cache ---

	GetEmbedding(ctx context.Context, conversationID, textHash string) (CachedEmbedding, bool, error)
	GetEmbeddingBatch(ctx context.Context, keys []EmbeddingKey) (map[EmbeddingKey]CachedEmbedding, error)
	SetEmbedding(ctx context.Context, entry CachedEmbedding) error
	SetEmbeddingBatch(ctx context.Context, entries []CachedEmbedding) error
	ClearEmbeddings(ctx context.Context, conversationID string) error

	// --- Introspection (cache --stats) ---

	TableStats(ctx context.Context) (map[string]TableStat, error)
}

// EmbeddingKey identifies one embedding cache entry.
type EmbeddingKey struct {
	ConversationID string
	TextHash       string
}

// TableStat is one row of `shiftlog cache --stats` output.
type TableStat struct {
	RowCount int64
	MinTs    string
	MaxTs    string
}
