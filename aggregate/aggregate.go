package aggregate

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nevindra/shiftlog"
	"github.com/nevindra/shiftlog/consolidate"
	"github.com/nevindra/shiftlog/embedding"
	"github.com/nevindra/shiftlog/fetch"
	"github.com/nevindra/shiftlog/internal/pool"
	"github.com/nevindra/shiftlog/internal/telemetry"
	"github.com/nevindra/shiftlog/segment"
	"github.com/nevindra/shiftlog/summarize"
)

// Options configures an Aggregator. Zero values are replaced by spec
// defaults in New, following the sibling packages' convention.
type Options struct {
	// SlackConcurrency bounds chat-platform RPC fan-out: the fetcher's
	// per-channel history fan-out and the enricher's permalink/linked-
	// message fan-out (spec §5 slack_concurrency).
	SlackConcurrency int
	// ChannelConcurrency bounds how many channel pipelines run at once
	// (spec §5 channel_concurrency).
	ChannelConcurrency int
	// ClaudeConcurrency is the process-global ceiling on in-flight LLM
	// calls, shared across every channel (spec §5 claude_concurrency).
	ClaudeConcurrency int

	Location  *time.Location
	SkipCache bool

	Model          string // anthropic model passed to the summarizer
	EmbeddingModel string

	Segment     segment.Options
	Consolidate consolidate.Options

	Logger *slog.Logger
}

// Aggregator drives the full digest pipeline for one user over one time
// range (§4.J): fetch, then per channel segment -> enrich -> consolidate ->
// summarize, then assemble a Report.
type Aggregator struct {
	client shiftlog.ChatClient

	fetcher      *fetch.Fetcher
	segmenter    *segment.Segmenter
	consolidator *consolidate.Consolidator
	enricher     *summarize.Enricher
	summarizer   *summarize.Summarizer
	embedClient  *embedding.Client

	inst   *telemetry.Instruments
	opts   Options
	logger *slog.Logger
}

// New builds an Aggregator, wiring the shared LLM and embedding providers
// through the global claude_concurrency limiter and (when inst is non-nil)
// OTEL instrumentation before constructing the per-stage components. One
// Enricher and one Summarizer instance are shared across every channel of a
// run, so display-name and linked-message caches built for one channel serve
// every other channel in the same job.
func New(client shiftlog.ChatClient, store shiftlog.Store, rpc shiftlog.RPCExecutor, llmProvider shiftlog.LLMProvider, embedProvider shiftlog.EmbeddingProvider, inst *telemetry.Instruments, opts Options) *Aggregator {
	if opts.SlackConcurrency <= 0 {
		opts.SlackConcurrency = 10
	}
	if opts.ChannelConcurrency <= 0 {
		opts.ChannelConcurrency = 10
	}
	if opts.ClaudeConcurrency <= 0 {
		opts.ClaudeConcurrency = 20
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Segment.Location == nil {
		opts.Segment.Location = opts.Location
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	wrappedLLM := llmProvider
	if inst != nil {
		wrappedLLM = telemetry.WrapProvider(wrappedLLM, inst)
	}
	wrappedLLM = newClaudeLimiter(wrappedLLM, opts.ClaudeConcurrency)

	var embedClient *embedding.Client
	if embedProvider != nil {
		wrappedEmbed := embedProvider
		if inst != nil {
			wrappedEmbed = telemetry.WrapEmbedding(wrappedEmbed, inst)
		}
		embedClient = embedding.NewClient(wrappedEmbed, store, opts.EmbeddingModel, logger)
	}

	return &Aggregator{
		client: client,

		fetcher: fetch.New(client, store, rpc, fetch.Options{
			Concurrency: opts.SlackConcurrency,
			SkipCache:   opts.SkipCache,
			Location:    opts.Location,
		}),
		segmenter:    segment.New(opts.Segment),
		consolidator: consolidate.New(opts.Consolidate),
		enricher:     summarize.NewEnricher(client, opts.SlackConcurrency),
		summarizer: summarize.New(client, wrappedLLM, summarize.Options{
			Model:       opts.Model,
			Concurrency: opts.SlackConcurrency,
			Location:    opts.Location,
			Logger:      logger,
		}),
		embedClient: embedClient,

		inst:   inst,
		opts:   opts,
		logger: logger,
	}
}

type progressFunc func(stage shiftlog.ProgressStage, channel string, current, total int, message string)

// Run executes the full pipeline for userID (resolved to the token's own
// user when empty) over r, emitting ProgressEvents on progress as each
// stage advances. progress may be nil. Run always closes progress exactly
// once before returning, on every exit path, mirroring the teacher's
// safeCloseCh pattern for streaming channels (loop.go's runLoop).
func (a *Aggregator) Run(ctx context.Context, userID string, r shiftlog.TimeRange, progress chan<- shiftlog.ProgressEvent) (shiftlog.Report, error) {
	var closeOnce sync.Once
	safeClose := func() {
		if progress != nil {
			closeOnce.Do(func() { close(progress) })
		}
	}
	defer safeClose()

	emit := progressFunc(func(stage shiftlog.ProgressStage, channel string, current, total int, message string) {
		if progress == nil {
			return
		}
		select {
		case progress <- shiftlog.ProgressEvent{Stage: stage, Channel: channel, Current: current, Total: total, Message: message}:
		case <-ctx.Done():
		}
	})

	emit(shiftlog.StageFetching, "", 0, 0, "fetching activity")
	data, channelErrs, err := a.fetcher.Fetch(ctx, userID, r)
	if err != nil {
		return shiftlog.Report{}, err
	}
	for _, ce := range channelErrs {
		a.logger.Warn("channel fetch failed, continuing without it", "channel", ce.ChannelID, "error", ce.Err)
	}
	if userID == "" {
		userID = data.UserID
	}

	if names, err := a.client.ListUserDisplayNames(ctx); err != nil {
		a.logger.Warn("bulk display name resolution failed, falling back to per-user lookups", "error", err)
	} else {
		a.summarizer.SeedDisplayNames(names)
	}

	channelIDs := activeChannelIDs(data)
	total := len(channelIDs)
	threadsByChannel := groupThreadsByChannel(data.ThreadsParticipated)

	var (
		mu                                   sync.Mutex
		summaries                            []shiftlog.ChannelSummary
		segmented, consolidated, summarized int32
	)

	p := pool.New(a.opts.ChannelConcurrency)
	for _, cid := range channelIDs {
		cid := cid
		p.Go(func() {
			summary, ok := a.runChannel(ctx, userID, r, cid, data, threadsByChannel[cid], emit, total, &segmented, &consolidated, &summarized)
			if !ok {
				return
			}
			mu.Lock()
			summaries = append(summaries, summary)
			mu.Unlock()
		})
	}
	p.Wait()

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].TotalInteractions > summaries[j].TotalInteractions
	})

	report := shiftlog.Report{
		SchemaVersion: 1,
		GeneratedAt:   shiftlog.NowUnix(),
		RequestedUser: userID,
		Range:         r,
		Channels:      summaries,
	}
	for _, cs := range summaries {
		report.TotalGroups += len(cs.Groups)
		for _, g := range cs.Groups {
			report.TotalMessages += g.MessageCount
		}
	}

	emit(shiftlog.StageComplete, "", total, total, "digest complete")
	return report, nil
}

// runChannel runs the segment -> enrich -> consolidate -> summarize
// sequence for one channel. ok is false when the channel produced no
// groups (nothing worth reporting), in which case the caller drops it.
func (a *Aggregator) runChannel(
	ctx context.Context,
	userID string,
	r shiftlog.TimeRange,
	channelID string,
	data shiftlog.UserActivityData,
	threads map[string][]shiftlog.Message,
	emit progressFunc,
	total int,
	segmented, consolidated, summarized *int32,
) (shiftlog.ChannelSummary, bool) {
	if a.inst != nil {
		var span trace.Span
		ctx, span = a.inst.Tracer.Start(ctx, "aggregate.channel", trace.WithAttributes(telemetry.AttrChannel.String(channelID)))
		defer span.End()
	}

	ch := data.Channels[channelID]
	allMessages := data.ChannelMessages[channelID]

	var mainMessages []shiftlog.Message
	for _, m := range allMessages {
		if m.IsThreadReply() || !r.Contains(m.TsFloat()) {
			continue
		}
		mainMessages = append(mainMessages, m)
	}

	segStart := time.Now()
	convs := a.segmenter.Segment(channelID, ch.Name, mainMessages, threads, allMessages, userID)
	a.inst.RecordStage(ctx, "segment", channelID, float64(time.Since(segStart).Milliseconds()))
	emit(shiftlog.StageSegmenting, channelID, int(atomic.AddInt32(segmented, 1)), total, "")
	if len(convs) == 0 {
		return shiftlog.ChannelSummary{}, false
	}

	consStart := time.Now()
	a.enricher.ResolveLinkedMessages(ctx, convs)
	permalinks := a.enricher.Permalinks(ctx, convs)

	var embeddings map[string][]float32
	if a.embedClient != nil {
		results := a.embedClient.PrepareConversationEmbeddings(ctx, convs)
		embeddings = make(map[string][]float32, len(results))
		for id, res := range results {
			if res.Embedding != nil {
				embeddings[id] = res.Embedding
			}
		}
	}

	groups, stats := a.consolidator.Consolidate(convs, userID, embeddings)
	a.inst.RecordStage(ctx, "consolidate", channelID, float64(time.Since(consStart).Milliseconds()))
	emit(shiftlog.StageConsolidating, channelID, int(atomic.AddInt32(consolidated, 1)), total, "")
	a.logger.Debug("channel consolidated", "channel", channelID,
		"bots_merged", stats.BotsMerged, "trivials_merged", stats.TrivialsMerged,
		"trivials_dropped", stats.TrivialsDropped, "groups", len(groups))
	if len(groups) == 0 {
		return shiftlog.ChannelSummary{}, false
	}

	sumStart := time.Now()
	groupSummaries := a.summarizer.SummarizeGroups(ctx, userID, groups, permalinks)
	a.inst.RecordStage(ctx, "summarize", channelID, float64(time.Since(sumStart).Milliseconds()))
	emit(shiftlog.StageSummarizing, channelID, int(atomic.AddInt32(summarized, 1)), total, "")

	var interactions int
	for _, g := range groupSummaries {
		interactions += g.UserMessages
	}

	return shiftlog.ChannelSummary{
		ChannelID:         channelID,
		ChannelName:       ch.Name,
		ChannelKind:       ch.Kind,
		Groups:            groupSummaries,
		TotalInteractions: interactions,
	}, true
}

// activeChannelIDs returns the channels the user actually sent a message in
// or participated in a thread within, excluding mention-only channels from
// per-channel processing entirely (spec §4.J.6: the report never surfaces
// them, so there is no reason to segment/consolidate/summarize them).
func activeChannelIDs(data shiftlog.UserActivityData) []string {
	active := make(map[string]bool)
	for _, m := range data.MessagesSent {
		active[m.ChannelID] = true
	}
	for _, t := range data.ThreadsParticipated {
		active[t.ChannelID] = true
	}

	var ids []string
	for cid := range data.ChannelMessages {
		if active[cid] {
			ids = append(ids, cid)
		}
	}
	sort.Strings(ids)
	return ids
}

// groupThreadsByChannel builds the per-channel "parent ts -> full reply
// list including the parent" map segment.Segment expects, from the
// fetcher's flat ThreadsParticipated list.
func groupThreadsByChannel(participations []shiftlog.ThreadParticipation) map[string]map[string][]shiftlog.Message {
	out := make(map[string]map[string][]shiftlog.Message)
	for _, t := range participations {
		m := out[t.ChannelID]
		if m == nil {
			m = make(map[string][]shiftlog.Message)
			out[t.ChannelID] = m
		}
		replies := append([]shiftlog.Message{t.Parent}, t.Replies...)
		shiftlog.SortMessagesByTs(replies)
		m[t.ParentTs] = replies
	}
	return out
}
