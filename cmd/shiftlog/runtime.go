package main

import (
	"context"
	"time"

	"github.com/nevindra/shiftlog"
	"github.com/nevindra/shiftlog/aggregate"
	"github.com/nevindra/shiftlog/chatclient"
	"github.com/nevindra/shiftlog/embedding"
	"github.com/nevindra/shiftlog/internal/config"
	"github.com/nevindra/shiftlog/internal/telemetry"
	"github.com/nevindra/shiftlog/llm"
	"github.com/nevindra/shiftlog/slackapi"
	"github.com/nevindra/shiftlog/store/sqlite"
)

// embeddingModel is fixed rather than configurable: spec §6's [embeddings]
// section has no model field, only enabled/api_key/weights.
const embeddingModel = "text-embedding-3-small"

// runtime bundles the long-lived collaborators a CLI invocation needs,
// mirroring the teacher's pattern of one struct of wired singletons built
// once at the top of main and threaded through (oasis.New's functional
// options, flattened here since the CLI has no equivalent builder).
type runtime struct {
	cfg   config.Config
	store *sqlite.Store
	rpc   *chatclient.Limiter
	chat  *slackapi.Client
	llm   shiftlog.LLMProvider
	embed shiftlog.EmbeddingProvider
	inst  *telemetry.Instruments
	shut  func(context.Context) error
}

// newRuntime wires every collaborator a digest run needs from cfg: the
// cache store, the rate-limited Slack transport, the selected LLM backend,
// the optional embedding provider, and OTEL instrumentation.
func newRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	store := sqlite.New(cfg.Database.Path)
	if err := store.Init(ctx); err != nil {
		return nil, &shiftlog.ErrCacheIO{Op: "init", Err: err}
	}

	rpc := chatclient.New(
		float64(cfg.Slack.RateLimit),
		cfg.Slack.MaxRetries,
		time.Duration(cfg.Slack.InitialBackoffMs)*time.Millisecond,
	)
	chat := slackapi.New(cfg.Slack.UserToken)

	provider, err := llm.Provider(llm.Config{
		APIKey:     cfg.Anthropic.APIKey,
		OAuthToken: cfg.Anthropic.OAuthToken,
		Backend:    cfg.Anthropic.Backend,
		CLIPath:    cfg.Anthropic.CLIPath,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	var embedProvider shiftlog.EmbeddingProvider
	if cfg.Embeddings.Enabled {
		embedProvider = embedding.New(cfg.Embeddings.APIKey, embeddingModel, 1536, "")
	}

	inst, shut, err := telemetry.Init(ctx, telemetry.DefaultPricing)
	if err != nil {
		// OTEL is an observability nicety, not a fetch/summarize requirement;
		// a missing OTLP collector must not block a digest run.
		inst = nil
		shut = func(context.Context) error { return nil }
	}

	return &runtime{cfg: cfg, store: store, rpc: rpc, chat: chat, llm: provider, embed: embedProvider, inst: inst, shut: shut}, nil
}

func (r *runtime) close(ctx context.Context) {
	r.rpc.ClearQueue()
	r.store.Close()
	r.shut(ctx)
}

// aggregatorOptions maps the loaded config onto aggregate.Options, applying
// the configured timezone (spec §6 settings.timezone).
func (r *runtime) aggregatorOptions() (aggregate.Options, error) {
	loc, err := time.LoadLocation(r.cfg.Settings.Timezone)
	if err != nil {
		return aggregate.Options{}, &shiftlog.ErrConfig{Field: "settings.timezone", Reason: err.Error(), Command: "shiftlog configure"}
	}
	return aggregate.Options{
		SlackConcurrency:   r.cfg.Slack.Concurrency,
		ChannelConcurrency: r.cfg.Performance.ChannelConcurrency,
		ClaudeConcurrency:  r.cfg.Anthropic.Concurrency,
		Location:           loc,
		Model:              r.cfg.Anthropic.Model,
		EmbeddingModel:     embeddingModel,
	}, nil
}
