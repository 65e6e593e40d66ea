// Package fetch implements shiftlog's fetcher (§4.C): the six-phase walk
// over a shiftlog.ChatClient that assembles one user's UserActivityData for
// a time range. Every outbound call is routed through a shiftlog.RPCExecutor
// and, where the range's day buckets have already been fetched, served from
// the shiftlog.Store cache instead.
package fetch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nevindra/shiftlog"
	"github.com/nevindra/shiftlog/internal/pool"
)

const (
	scopeMentions  = "mentions"
	scopeReactions = "reactions"
	kindHistory    = "history"
	kindThreads    = "threads"
	kindMentions   = "mentions"
	kindReactions  = "reactions"
)

// Options configures a Fetcher. Zero values are replaced by spec defaults
// in New, following the segment/consolidate packages' convention.
type Options struct {
	// Concurrency bounds how many channels are fetched in parallel
	// (slack_concurrency).
	Concurrency int
	// SkipCache forces every phase to hit the chat platform even when the
	// store reports the day bucket already fetched.
	SkipCache bool
	Location  *time.Location
}

// Fetcher runs the six-phase fetch algorithm against a ChatClient.
type Fetcher struct {
	client shiftlog.ChatClient
	store  shiftlog.Store
	rpc    shiftlog.RPCExecutor
	opts   Options
}

// New creates a Fetcher, filling unset Options with spec defaults.
func New(client shiftlog.ChatClient, store shiftlog.Store, rpc shiftlog.RPCExecutor, opts Options) *Fetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Fetcher{client: client, store: store, rpc: rpc, opts: opts}
}

// ChannelError is a phase-2 failure scoped to one channel; it does not
// abort the overall fetch.
type ChannelError struct {
	ChannelID string
	Err       error
}

func (e ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.ChannelID, e.Err)
}

// Fetch runs all six phases for userID over r, returning partial results
// alongside any per-channel errors. A non-nil error return means a
// global-phase RPC (search, auth) failed outright; per-channel errors are
// returned separately and never abort sibling channels.
func (f *Fetcher) Fetch(ctx context.Context, userID string, r shiftlog.TimeRange) (shiftlog.UserActivityData, []ChannelError, error) {
	data := shiftlog.UserActivityData{
		UserID:          userID,
		Range:           r,
		ChannelMessages: make(map[string][]shiftlog.Message),
		Channels:        make(map[string]shiftlog.Channel),
	}

	if userID == "" {
		var resolved string
		err := f.rpc.Execute(ctx, "auth.test", func(ctx context.Context) error {
			id, err := f.client.AuthedUserID(ctx)
			if err != nil {
				return err
			}
			resolved = id
			return nil
		})
		if err != nil {
			return data, nil, err
		}
		userID = resolved
		data.UserID = userID
	}

	lookback := r.Lookback()

	// Phase 1: active-channel discovery.
	channelIDs, threadHints, err := f.discoverChannels(ctx, userID, r)
	if err != nil {
		return data, nil, err
	}

	// Phase 2: per-channel history, bounded by slack_concurrency. Errors
	// are scoped to the failing channel.
	type channelResult struct {
		channelID string
		messages  []shiftlog.Message
		channel   shiftlog.Channel
		err       error
	}
	results := make([]channelResult, 0, len(channelIDs))
	var mu sync.Mutex
	p := pool.New(f.opts.Concurrency)
	for _, cid := range channelIDs {
		cid := cid
		p.Go(func() {
			msgs, err := f.fetchChannelHistory(ctx, userID, cid, lookback)
			var ch shiftlog.Channel
			if err == nil {
				ch, err = f.fetchChannelInfo(ctx, cid)
			}
			mu.Lock()
			results = append(results, channelResult{channelID: cid, messages: msgs, channel: ch, err: err})
			mu.Unlock()
		})
	}
	p.Wait()

	var channelErrs []ChannelError
	threadCandidates := map[string]map[string]bool{} // channel -> set of parent ts to check
	for _, res := range results {
		if res.err != nil {
			channelErrs = append(channelErrs, ChannelError{ChannelID: res.channelID, Err: res.err})
			continue
		}
		sort.Slice(res.messages, func(i, j int) bool { return res.messages[i].Ts < res.messages[j].Ts })
		data.ChannelMessages[res.channelID] = res.messages
		data.Channels[res.channelID] = res.channel

		set := threadCandidates[res.channelID]
		if set == nil {
			set = map[string]bool{}
			threadCandidates[res.channelID] = set
		}
		for _, m := range res.messages {
			if m.User == userID && r.Contains(m.TsFloat()) {
				data.MessagesSent = append(data.MessagesSent, m)
			}
			if m.IsThreadReply() && m.User == userID {
				set[m.ThreadParentTs] = true
			}
		}
		for ts := range threadHints[res.channelID] {
			set[ts] = true
		}
	}

	// Phase 3: thread replies, always uncached (threads mutate), filtered
	// to the original range and dropped if empty after filtering.
	for channelID, parents := range threadCandidates {
		for parentTs := range parents {
			participation, err := f.fetchThreadParticipation(ctx, channelID, parentTs, r)
			if err != nil {
				channelErrs = append(channelErrs, ChannelError{ChannelID: channelID, Err: err})
				continue
			}
			if participation != nil {
				data.ThreadsParticipated = append(data.ThreadsParticipated, *participation)
			}
		}
	}

	// Phase 4: mentions, cached per day per user.
	mentions, err := f.fetchMentions(ctx, userID, r)
	if err != nil {
		return data, channelErrs, err
	}
	data.Mentions = mentions

	// Phase 5 & 6: reactions, cached per day per user.
	reactions, err := f.fetchReactions(ctx, userID, r)
	if err != nil {
		return data, channelErrs, err
	}
	data.Reactions = reactions

	return data, channelErrs, nil
}

// discoverChannels runs phase 1: search "from:<user>" over r; on any search
// failure, fall back to the channels the user is a member of.
func (f *Fetcher) discoverChannels(ctx context.Context, userID string, r shiftlog.TimeRange) ([]string, map[string]map[string]bool, error) {
	query := fmt.Sprintf("from:<@%s>", userID)
	var hits []shiftlog.SearchResult
	searchErr := f.rpc.Execute(ctx, "search.from", func(ctx context.Context) error {
		h, err := f.client.Search(ctx, query, r)
		if err != nil {
			return err
		}
		hits = h
		return nil
	})

	if searchErr != nil {
		var channels []shiftlog.Channel
		err := f.rpc.Execute(ctx, "users.conversations", func(ctx context.Context) error {
			c, err := f.client.UserChannels(ctx, userID)
			if err != nil {
				return err
			}
			channels = c
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		ids := make([]string, 0, len(channels))
		for _, ch := range channels {
			ids = append(ids, ch.ID)
			_ = f.store.CacheChannel(ctx, ch)
		}
		return ids, nil, nil
	}

	seen := map[string]bool{}
	var ids []string
	threadHints := map[string]map[string]bool{}
	for _, h := range hits {
		cid := h.Message.ChannelID
		if !seen[cid] {
			seen[cid] = true
			ids = append(ids, cid)
		}
		if h.ThreadParentTs != "" {
			if threadHints[cid] == nil {
				threadHints[cid] = map[string]bool{}
			}
			threadHints[cid][h.ThreadParentTs] = true
		}
	}
	return ids, threadHints, nil
}

// fetchChannelInfo resolves channel metadata, cache-first.
func (f *Fetcher) fetchChannelInfo(ctx context.Context, channelID string) (shiftlog.Channel, error) {
	if !f.opts.SkipCache {
		if ch, ok, err := f.store.GetCachedChannel(ctx, channelID); err == nil && ok {
			return ch, nil
		}
	}
	var ch shiftlog.Channel
	err := f.rpc.Execute(ctx, "conversations.info", func(ctx context.Context) error {
		c, err := f.client.ChannelInfo(ctx, channelID)
		if err != nil {
			return err
		}
		ch = c
		return nil
	})
	if err != nil {
		return shiftlog.Channel{}, err
	}
	_ = f.store.CacheChannel(ctx, ch)
	return ch, nil
}

// fetchChannelHistory returns every message in channelID whose ts falls
// within r (the lookback-extended range), day-bucket cached.
func (f *Fetcher) fetchChannelHistory(ctx context.Context, userID, channelID string, r shiftlog.TimeRange) ([]shiftlog.Message, error) {
	days := shiftlog.DayRange(r, f.opts.Location)
	var all []shiftlog.Message

	for _, day := range days {
		if !f.opts.SkipCache {
			fetched, err := f.store.IsDayFetched(ctx, userID, channelID, day, kindHistory)
			if err != nil {
				return nil, err
			}
			if fetched {
				cached, err := f.store.GetCachedMessages(ctx, channelID, []string{day})
				if err != nil {
					return nil, err
				}
				all = append(all, cached...)
				continue
			}
		}

		dayRange, err := dayToRange(day, f.opts.Location)
		if err != nil {
			return nil, err
		}
		var dayMsgs []shiftlog.Message
		cursor := ""
		for {
			var page shiftlog.HistoryPage
			err := f.rpc.Execute(ctx, "conversations.history", func(ctx context.Context) error {
				p, err := f.client.History(ctx, channelID, dayRange, cursor)
				if err != nil {
					return err
				}
				page = p
				return nil
			})
			if err != nil {
				return nil, err
			}
			dayMsgs = append(dayMsgs, page.Messages...)
			if !page.HasMore {
				break
			}
			cursor = page.NextCursor
		}
		if err := f.store.CacheMessages(ctx, channelID, dayMsgs); err != nil {
			return nil, err
		}
		if err := f.store.MarkDayFetched(ctx, userID, channelID, day, kindHistory); err != nil {
			return nil, err
		}
		all = append(all, dayMsgs...)
	}

	return all, nil
}

// fetchThreadParticipation fetches a thread's full reply list, uncached,
// and filters it to the original range. Returns nil if nothing in the
// thread falls within the original range.
func (f *Fetcher) fetchThreadParticipation(ctx context.Context, channelID, parentTs string, r shiftlog.TimeRange) (*shiftlog.ThreadParticipation, error) {
	var replies []shiftlog.Message
	err := f.rpc.Execute(ctx, "conversations.replies", func(ctx context.Context) error {
		rs, err := f.client.Replies(ctx, channelID, parentTs)
		if err != nil {
			return err
		}
		replies = rs
		return nil
	})
	if err != nil {
		return nil, err
	}

	var parent shiftlog.Message
	var filtered []shiftlog.Message
	for _, m := range replies {
		if m.Ts == parentTs {
			parent = m
			continue
		}
		if r.Contains(m.TsFloat()) {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) == 0 {
		return nil, nil
	}
	return &shiftlog.ThreadParticipation{
		ChannelID: channelID,
		ParentTs:  parentTs,
		Parent:    parent,
		Replies:   filtered,
	}, nil
}

// fetchMentions runs phase 4, cached per day per user.
func (f *Fetcher) fetchMentions(ctx context.Context, userID string, r shiftlog.TimeRange) ([]shiftlog.Message, error) {
	days := shiftlog.DayRange(r, f.opts.Location)
	var all []shiftlog.Message
	query := fmt.Sprintf("<@%s>", userID)

	for _, day := range days {
		if !f.opts.SkipCache {
			fetched, err := f.store.IsDayFetched(ctx, userID, scopeMentions, day, kindMentions)
			if err != nil {
				return nil, err
			}
			if fetched {
				cached, err := f.store.GetCachedMentions(ctx, userID, []string{day})
				if err != nil {
					return nil, err
				}
				all = append(all, filterByRange(cached, r)...)
				continue
			}
		}

		dayRange, err := dayToRange(day, f.opts.Location)
		if err != nil {
			return nil, err
		}
		var hits []shiftlog.SearchResult
		err = f.rpc.Execute(ctx, "search.mentions", func(ctx context.Context) error {
			h, err := f.client.Search(ctx, query, dayRange)
			if err != nil {
				return err
			}
			hits = h
			return nil
		})
		if err != nil {
			return nil, err
		}
		dayMsgs := make([]shiftlog.Message, 0, len(hits))
		for _, h := range hits {
			dayMsgs = append(dayMsgs, h.Message)
		}
		if err := f.store.CacheMentions(ctx, userID, dayMsgs); err != nil {
			return nil, err
		}
		if err := f.store.MarkDayFetched(ctx, userID, scopeMentions, day, kindMentions); err != nil {
			return nil, err
		}
		all = append(all, filterByRange(dayMsgs, r)...)
	}

	return all, nil
}

// fetchReactions runs phases 5 and 6: cached per day per user, paged and
// bucketed by day when any day in range is uncached.
func (f *Fetcher) fetchReactions(ctx context.Context, userID string, r shiftlog.TimeRange) ([]shiftlog.Reaction, error) {
	days := shiftlog.DayRange(r, f.opts.Location)

	if !f.opts.SkipCache {
		allFetched := true
		for _, day := range days {
			fetched, err := f.store.IsDayFetched(ctx, userID, scopeReactions, day, kindReactions)
			if err != nil {
				return nil, err
			}
			if !fetched {
				allFetched = false
				break
			}
		}
		if allFetched {
			cached, err := f.store.GetCachedReactions(ctx, userID, days)
			if err != nil {
				return nil, err
			}
			return filterReactionsByRange(cached, r), nil
		}
	}

	var all []shiftlog.Reaction
	cursor := ""
	for {
		var page []shiftlog.Reaction
		var hasMore bool
		var next string
		err := f.rpc.Execute(ctx, "reactions.list", func(ctx context.Context) error {
			items, more, nextCursor, err := f.client.Reactions(ctx, userID, cursor)
			if err != nil {
				return err
			}
			page, hasMore, next = items, more, nextCursor
			return nil
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if !hasMore {
			break
		}
		cursor = next
	}

	if err := f.store.CacheReactions(ctx, userID, all); err != nil {
		return nil, err
	}
	for _, day := range days {
		if err := f.store.MarkDayFetched(ctx, userID, scopeReactions, day, kindReactions); err != nil {
			return nil, err
		}
	}

	return filterReactionsByRange(all, r), nil
}

func filterByRange(msgs []shiftlog.Message, r shiftlog.TimeRange) []shiftlog.Message {
	out := make([]shiftlog.Message, 0, len(msgs))
	for _, m := range msgs {
		if r.Contains(m.TsFloat()) {
			out = append(out, m)
		}
	}
	return out
}

func filterReactionsByRange(reactions []shiftlog.Reaction, r shiftlog.TimeRange) []shiftlog.Reaction {
	out := make([]shiftlog.Reaction, 0, len(reactions))
	for _, rx := range reactions {
		ts, err := shiftlog.ParseTs(rx.Ts)
		if err == nil && r.Contains(ts) {
			out = append(out, rx)
		}
	}
	return out
}

func dayToRange(day string, loc *time.Location) (shiftlog.TimeRange, error) {
	start, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return shiftlog.TimeRange{}, fmt.Errorf("fetch: invalid day bucket %q: %w", day, err)
	}
	end := start.Add(24 * time.Hour)
	return shiftlog.TimeRange{Start: float64(start.Unix()), End: float64(end.Unix())}, nil
}
