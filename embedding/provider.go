// Package embedding implements shiftlog's text-embedding client and the
// hybrid similarity score the consolidator uses to group conversations
// (spec §4.F).
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/nevindra/shiftlog"
)

// Provider implements shiftlog.EmbeddingProvider against any OpenAI-
// compatible embeddings endpoint (OpenAI itself, or a self-hosted
// drop-in), selected by base URL the way the config's api_key/base_url
// pair implies.
type Provider struct {
	client     *openai.Client
	model      string
	dimensions int
}

// New creates a Provider. baseURL == "" uses the OpenAI default.
func New(apiKey, model string, dimensions int, baseURL string) *Provider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Provider{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dimensions,
	}
}

var _ shiftlog.EmbeddingProvider = (*Provider)(nil)

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Dimensions() int { return p.dimensions }

// Embed sends texts as a single batch request. Per spec §4.F, empty
// strings must never reach here; callers filter them out beforehand.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimensions,
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, &shiftlog.ErrRPC{Op: "embedding.create", Status: shiftlog.RPCStatusTransient, Err: err}
	}
	if len(resp.Data) != len(texts) {
		return nil, &shiftlog.ErrRPC{
			Op:     "embedding.create",
			Status: shiftlog.RPCStatusFatal,
			Err:    fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(texts)),
		}
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, &shiftlog.ErrRPC{Op: "embedding.create", Status: shiftlog.RPCStatusFatal, Err: errors.New("embedding response index out of range")}
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
