package shiftlog

import "context"

// LLMProvider is the single capability every LLM backend (SDK or CLI) must
// satisfy (§4.I, §9 "runtime polymorphism over LLM backend"). Selection
// between the two concrete backends happens once, at startup, in package llm.
type LLMProvider interface {
	CreateMessage(ctx context.Context, model string, maxTokens int, messages []LLMMessage) (LLMContent, error)
	// Name identifies the backend ("sdk" or "cli") for logging.
	Name() string
}

// LLMMessage is one turn in a prompt sent to CreateMessage.
type LLMMessage struct {
	Role    string // "user" or "assistant"
	Content string
}

// LLMContent is the backend-agnostic result of CreateMessage. Token counts
// are best-effort: the CLI backend does not always report them, in which
// case both are left at zero and cost attribution is skipped.
type LLMContent struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// EmbeddingProvider abstracts a text-embedding backend (§4.F).
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// RPCExecutor runs chat-platform RPCs under the rate limiter's control
// (§4.A). Implementations live in package chatclient.
type RPCExecutor interface {
	// Execute runs fn once the token bucket admits it, retrying according
	// to the transient/rate-limited/fatal classification of fn's error.
	Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error
	// ClearQueue rejects every thunk still waiting for admission with
	// ErrQueueCancelled. In-flight calls are not interrupted.
	ClearQueue()
}

// SearchResult is one hit from ChatClient.Search.
type SearchResult struct {
	Message        Message
	ThreadParentTs string // set when the hit is itself a thread reply
}

// HistoryPage is one page of channel history.
type HistoryPage struct {
	Messages   []Message
	HasMore    bool
	NextCursor string
}

// ChatClient is the narrow surface of the chat platform's REST API the core
// consumes (spec §1: "assumed to be an external client providing typed
// methods"). A real implementation talks to the platform's HTTP API through
// an RPCExecutor; tests exercise the pipeline against an in-memory fake.
type ChatClient interface {
	// AuthedUserID returns the token's own user id, for when user_id is absent.
	AuthedUserID(ctx context.Context) (string, error)
	// Search runs a full-text search query ("from:<user>", "<@user>") over
	// the given window, returning every matching hit (paginated internally).
	Search(ctx context.Context, query string, r TimeRange) ([]SearchResult, error)
	// UserChannels lists every channel the user is a member of (the
	// active-channel-discovery fallback when Search fails).
	UserChannels(ctx context.Context, userID string) ([]Channel, error)
	// ChannelInfo fetches metadata for one channel.
	ChannelInfo(ctx context.Context, channelID string) (Channel, error)
	// History pages through a channel's message history intersecting r.
	History(ctx context.Context, channelID string, r TimeRange, cursor string) (HistoryPage, error)
	// Replies fetches every reply in a thread, uncached (threads mutate).
	Replies(ctx context.Context, channelID, threadParentTs string) ([]Message, error)
	// Reactions pages through items the user reacted to.
	Reactions(ctx context.Context, userID string, cursor string) ([]Reaction, bool, string, error)
	// Permalink returns the canonical URL for one message.
	Permalink(ctx context.Context, channelID, ts string) (string, error)
	// UserDisplayName resolves a user id to a human-readable display name.
	UserDisplayName(ctx context.Context, userID string) (string, error)
	// ListUserDisplayNames bulk-resolves every workspace member at once,
	// used by the aggregator to seed the display-name map up front.
	ListUserDisplayNames(ctx context.Context) (map[string]string, error)
	// GetMessage fetches a single message by (channel, ts), used to resolve
	// intra-platform message links that lack a native unfurl.
	GetMessage(ctx context.Context, channelID, ts string) (Message, error)
}
