// Package summarize implements shiftlog's summarizer driver (§4.H): display
// name resolution, prompt construction, single/batch LLM dispatch with
// fallback synthesis, and permalink/attachment enrichment.
package summarize

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nevindra/shiftlog"
	"github.com/nevindra/shiftlog/internal/pool"
)

const (
	singleMaxTokens = 2048
	batchMaxTokens  = 4096
	batchThreshold  = 2 // groups in sets <= this are summarized individually
)

// Options configures a Summarizer. Zero values are replaced by spec
// defaults in New.
type Options struct {
	Model       string
	Concurrency int // bounded parallelism for name/permalink/attachment fetches
	Location    *time.Location
	Logger      *slog.Logger
}

// Summarizer turns ConversationGroups into GroupSummary values, one
// instance per job so the display-name cache and in-flight map stay scoped
// to a single run (spec §5 "confined to a single summarizer instance").
type Summarizer struct {
	client shiftlog.ChatClient
	llm    shiftlog.LLMProvider
	model  string
	pool   *pool.Pool
	loc    *time.Location
	logger *slog.Logger

	mu           sync.Mutex
	displayNames map[string]string
	inflight     singleflight.Group
}

// New constructs a Summarizer. client resolves display names, permalinks,
// and linked messages; llmProvider runs the narrative/batch calls.
func New(client shiftlog.ChatClient, llmProvider shiftlog.LLMProvider, opts Options) *Summarizer {
	if opts.Model == "" {
		opts.Model = "claude-haiku-4-5-20251001"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Summarizer{
		client:       client,
		llm:          llmProvider,
		model:        opts.Model,
		pool:         pool.New(opts.Concurrency),
		loc:          opts.Location,
		logger:       opts.Logger,
		displayNames: make(map[string]string),
	}
}

// SeedDisplayNames pre-populates the cache from the aggregator's bulk
// workspace lookup (§4.J.3), sparing a per-user RPC for every already-known
// id.
func (s *Summarizer) SeedDisplayNames(names map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, name := range names {
		s.displayNames[id] = name
	}
}

// SummarizeGroups runs the whole batch-or-individual dispatch for one
// channel's consolidated groups (§4.H.3): sets of <= 2 run individually in
// parallel; larger sets run as one batch call expecting a JSON array, with
// a length-mismatch falling back to individual calls. requesterID excludes
// the requesting user from each group's Participants and is used to decide
// SlackLinks plurality. permalinks maps conversation id -> permalink, built
// by Enrich ahead of consolidation.
func (s *Summarizer) SummarizeGroups(ctx context.Context, requesterID string, groups []shiftlog.ConversationGroup, permalinks map[string]string) []shiftlog.GroupSummary {
	if len(groups) == 0 {
		return nil
	}
	if len(groups) <= batchThreshold {
		return s.summarizeIndividually(ctx, requesterID, groups, permalinks)
	}
	return s.summarizeBatch(ctx, requesterID, groups, permalinks)
}

func (s *Summarizer) summarizeIndividually(ctx context.Context, requesterID string, groups []shiftlog.ConversationGroup, permalinks map[string]string) []shiftlog.GroupSummary {
	out := make([]shiftlog.GroupSummary, len(groups))
	var wg sync.WaitGroup
	for i, g := range groups {
		i, g := i, g
		wg.Add(1)
		s.pool.Go(func() {
			defer wg.Done()
			out[i] = s.summarizeOne(ctx, requesterID, g, permalinks)
		})
	}
	wg.Wait()
	return out
}

func (s *Summarizer) summarizeOne(ctx context.Context, requesterID string, g shiftlog.ConversationGroup, permalinks map[string]string) shiftlog.GroupSummary {
	names := s.resolveNames(ctx, collectUserIDs(g))
	prompt := buildSinglePrompt(g, names, requesterID, s.loc)

	resp, err := s.llm.CreateMessage(ctx, s.model, singleMaxTokens, []shiftlog.LLMMessage{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		s.logger.Warn("summarizer llm call failed, using fallback summary", "group", g.ID, "error", err)
		return fallbackSummary(g, names, requesterID, permalinks)
	}

	var parsed llmGroupResult
	if !parseGroupJSON(resp.Text, &parsed) {
		s.logger.Warn("summarizer failed to parse llm response, using fallback summary", "group", g.ID)
		return fallbackSummary(g, names, requesterID, permalinks)
	}
	return buildGroupSummary(g, parsed, names, requesterID, permalinks)
}

func (s *Summarizer) summarizeBatch(ctx context.Context, requesterID string, groups []shiftlog.ConversationGroup, permalinks map[string]string) []shiftlog.GroupSummary {
	allIDs := make(map[string]bool)
	for _, g := range groups {
		for _, id := range collectUserIDs(g) {
			allIDs[id] = true
		}
	}
	ids := make([]string, 0, len(allIDs))
	for id := range allIDs {
		ids = append(ids, id)
	}
	names := s.resolveNames(ctx, ids)

	prompt := buildBatchPrompt(groups, names, requesterID, s.loc)
	resp, err := s.llm.CreateMessage(ctx, s.model, batchMaxTokens, []shiftlog.LLMMessage{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		s.logger.Warn("summarizer batch llm call failed, falling back to individual calls", "error", err)
		return s.summarizeIndividually(ctx, requesterID, groups, permalinks)
	}

	var parsed []llmGroupResult
	if !parseBatchJSON(resp.Text, &parsed) || len(parsed) != len(groups) {
		s.logger.Warn("summarizer batch response mismatched group count, falling back to individual calls", "got", len(parsed), "want", len(groups))
		return s.summarizeIndividually(ctx, requesterID, groups, permalinks)
	}

	out := make([]shiftlog.GroupSummary, len(groups))
	for i, g := range groups {
		out[i] = buildGroupSummary(g, parsed[i], names, requesterID, permalinks)
	}
	return out
}

// resolveNames resolves every id in ids through the cache, de-duplicating
// concurrent identical lookups with singleflight (§4.H.1).
func (s *Summarizer) resolveNames(ctx context.Context, ids []string) map[string]string {
	out := make(map[string]string, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		s.pool.Go(func() {
			defer wg.Done()
			name := s.resolveDisplayName(ctx, id)
			mu.Lock()
			out[id] = name
			mu.Unlock()
		})
	}
	wg.Wait()
	return out
}

// resolveDisplayName resolves a single id, checking the permanent cache
// first, then de-duplicating concurrent RPCs for the same id via
// singleflight. A fetch failure falls back to the bare id without poisoning
// the cache, so a later call retries the RPC.
func (s *Summarizer) resolveDisplayName(ctx context.Context, userID string) string {
	s.mu.Lock()
	if name, ok := s.displayNames[userID]; ok {
		s.mu.Unlock()
		return name
	}
	s.mu.Unlock()

	v, _, _ := s.inflight.Do(userID, func() (interface{}, error) {
		name, err := s.client.UserDisplayName(ctx, userID)
		if err != nil {
			return userID, nil
		}
		s.mu.Lock()
		s.displayNames[userID] = name
		s.mu.Unlock()
		return name, nil
	})
	return v.(string)
}

// collectUserIDs gathers every author id referenced by a group's messages
// and attachments, for bulk name resolution ahead of prompt construction.
func collectUserIDs(g shiftlog.ConversationGroup) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for _, m := range g.AllMessages {
		add(m.User)
		for _, a := range m.Attachments {
			add(a.AuthorID)
		}
	}
	return ids
}

// llmGroupResult is the JSON shape expected from the LLM for one group
// (§4.H.2's structured-output instructions).
type llmGroupResult struct {
	NarrativeSummary string   `json:"narrative_summary"`
	KeyEvents        []string `json:"key_events"`
	Outcome          *string  `json:"outcome"`
	NextActions      []string `json:"next_actions"`
	TimesheetEntry   string   `json:"timesheet_entry"`
}

// parseGroupJSON decodes a single object response, tolerating markdown
// fences or surrounding prose around the JSON the way the teacher's
// parseExtractedFacts tolerates them around a JSON array.
func parseGroupJSON(raw string, out *llmGroupResult) bool {
	content := strings.TrimSpace(raw)
	if json.Unmarshal([]byte(content), out) == nil {
		return true
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return false
	}
	return json.Unmarshal([]byte(content[start:end+1]), out) == nil
}

// parseBatchJSON decodes a JSON array response the same tolerant way.
func parseBatchJSON(raw string, out *[]llmGroupResult) bool {
	content := strings.TrimSpace(raw)
	if json.Unmarshal([]byte(content), out) == nil {
		return true
	}
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return false
	}
	return json.Unmarshal([]byte(content[start:end+1]), out) == nil
}

// buildGroupSummary assembles the final GroupSummary from a parsed LLM
// result and the mechanically-known fields (§4.H.4): counts, participants,
// references, and permalinks never come from the model.
func buildGroupSummary(g shiftlog.ConversationGroup, parsed llmGroupResult, names map[string]string, requesterID string, permalinks map[string]string) shiftlog.GroupSummary {
	outcome := ""
	if parsed.Outcome != nil {
		outcome = *parsed.Outcome
	}
	link, links := groupLinks(g, permalinks)
	return shiftlog.GroupSummary{
		NarrativeSummary: parsed.NarrativeSummary,
		StartTime:        g.StartTime,
		EndTime:          g.EndTime,
		MessageCount:     g.TotalMessageCount,
		UserMessages:     g.TotalUserMessageCount,
		Participants:     participantHandles(g, names, requesterID),
		KeyEvents:        parsed.KeyEvents,
		References:       g.SharedReferences,
		Outcome:          outcome,
		NextActions:      parsed.NextActions,
		TimesheetEntry:   parsed.TimesheetEntry,
		SlackLink:        link,
		SlackLinks:       links,
		SegmentsMerged:   len(g.Conversations) > 1,
	}
}

// participantHandles returns group.Participants as "@display_name",
// excluding requesterID (§4.H.4).
func participantHandles(g shiftlog.ConversationGroup, names map[string]string, requesterID string) []string {
	var out []string
	for _, id := range g.Participants {
		if id == requesterID {
			continue
		}
		name := names[id]
		if name == "" {
			name = id
		}
		out = append(out, "@"+name)
	}
	return out
}

// groupLinks resolves the primary permalink plus, when the group merged
// more than one original conversation, the full distinct set.
func groupLinks(g shiftlog.ConversationGroup, permalinks map[string]string) (string, []string) {
	var link string
	var links []string
	seen := make(map[string]bool)
	for _, c := range g.Conversations {
		pl, ok := permalinks[c.ID]
		if !ok || pl == "" {
			continue
		}
		if link == "" {
			link = pl
		}
		if !seen[pl] {
			seen[pl] = true
			links = append(links, pl)
		}
	}
	if len(g.Conversations) <= 1 {
		return link, nil
	}
	return link, links
}
