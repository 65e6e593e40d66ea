package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/nevindra/shiftlog"
)

// Result is one conversation's embedding outcome: Embedding is nil when the
// conversation's text was empty or the provider failed for it.
type Result struct {
	Embedding []float32
	TextHash  string
}

// Client batches conversation text through an EmbeddingProvider, caching
// results in a Store keyed by (conversation_id, text_hash).
type Client struct {
	provider shiftlog.EmbeddingProvider
	store    shiftlog.Store
	model    string
	logger   *slog.Logger
}

func NewClient(provider shiftlog.EmbeddingProvider, store shiftlog.Store, model string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{provider: provider, store: store, model: model, logger: logger}
}

// TextHash returns the SHA-256 hex digest the cache keys embeddings by.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// PrepareConversationEmbeddings implements spec §4.F's
// prepare_conversation_embeddings: batch cache lookup, a single provider
// call for the misses, a single transactional cache write, and a
// conv_id -> Result map. It never returns an error; provider or cache
// failures degrade affected conversations to a nil embedding so the
// consolidator can fall back to reference-only similarity.
func (c *Client) PrepareConversationEmbeddings(ctx context.Context, convs []shiftlog.Conversation) map[string]Result {
	out := make(map[string]Result, len(convs))

	type pending struct {
		convID string
		hash   string
		text   string
	}
	var misses []pending
	var lookupKeys []shiftlog.EmbeddingKey

	for _, conv := range convs {
		text := conv.Text()
		if text == "" {
			out[conv.ID] = Result{}
			continue
		}
		hash := TextHash(text)
		out[conv.ID] = Result{TextHash: hash}
		lookupKeys = append(lookupKeys, shiftlog.EmbeddingKey{ConversationID: conv.ID, TextHash: hash})
		misses = append(misses, pending{convID: conv.ID, hash: hash, text: text})
	}

	if len(lookupKeys) == 0 {
		return out
	}

	cached, err := c.store.GetEmbeddingBatch(ctx, lookupKeys)
	if err != nil {
		c.logger.Warn("embedding cache batch lookup failed", "error", err)
		cached = nil
	}

	var toEmbed []pending
	for _, p := range misses {
		key := shiftlog.EmbeddingKey{ConversationID: p.convID, TextHash: p.hash}
		if entry, ok := cached[key]; ok {
			r := out[p.convID]
			r.Embedding = entry.Embedding
			out[p.convID] = r
			continue
		}
		toEmbed = append(toEmbed, p)
	}

	if len(toEmbed) == 0 {
		return out
	}

	texts := make([]string, len(toEmbed))
	for i, p := range toEmbed {
		texts[i] = p.text
	}

	vectors, err := c.provider.Embed(ctx, texts)
	if err != nil {
		c.logger.Warn("embedding provider call failed, falling back to reference-only similarity", "error", err)
		return out
	}
	if len(vectors) != len(toEmbed) {
		c.logger.Warn("embedding provider returned mismatched count", "got", len(vectors), "want", len(toEmbed))
		return out
	}

	var newEntries []shiftlog.CachedEmbedding
	for i, p := range toEmbed {
		vec := vectors[i]
		if vec == nil {
			continue
		}
		r := out[p.convID]
		r.Embedding = vec
		out[p.convID] = r
		newEntries = append(newEntries, shiftlog.CachedEmbedding{
			ConversationID: p.convID,
			Embedding:      vec,
			TextHash:       p.hash,
			Model:          c.model,
			Dimensions:     c.provider.Dimensions(),
			CreatedAt:      shiftlog.NowUnix(),
		})
	}

	if len(newEntries) > 0 {
		if err := c.store.SetEmbeddingBatch(ctx, newEntries); err != nil {
			c.logger.Warn("embedding cache batch write failed", "error", err)
		}
	}

	return out
}
