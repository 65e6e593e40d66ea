package summarize

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nevindra/shiftlog"
	"github.com/nevindra/shiftlog/internal/pool"
	"github.com/nevindra/shiftlog/reference"
)

// Enricher runs the pre-consolidation enrichment pass (§4.H.5): a permalink
// per conversation and synthesized attachments for intra-platform message
// links that the platform didn't unfurl natively. One instance per job, so
// its linked-message cache stays scoped to a single run.
type Enricher struct {
	client shiftlog.ChatClient
	pool   *pool.Pool

	linkMu    sync.Mutex
	linkCache map[linkKey]*shiftlog.Attachment
	linkGroup singleflight.Group
}

type linkKey struct{ channel, ts string }

// NewEnricher builds an Enricher bounding its fetches to concurrency.
func NewEnricher(client shiftlog.ChatClient, concurrency int) *Enricher {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Enricher{
		client:    client,
		pool:      pool.New(concurrency),
		linkCache: make(map[linkKey]*shiftlog.Attachment),
	}
}

// Permalinks fetches one permalink per conversation, keyed by conversation
// id, falling back to the channel's own URL on failure. Runs bounded and in
// parallel.
func (e *Enricher) Permalinks(ctx context.Context, convs []shiftlog.Conversation) map[string]string {
	out := make(map[string]string, len(convs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, conv := range convs {
		conv := conv
		if len(conv.Messages) == 0 {
			continue
		}
		wg.Add(1)
		e.pool.Go(func() {
			defer wg.Done()
			first := conv.Messages[0]
			link, err := e.client.Permalink(ctx, conv.ChannelID, first.Ts)
			if err != nil || link == "" {
				link = channelFallbackURL(conv.ChannelID)
			}
			mu.Lock()
			out[conv.ID] = link
			mu.Unlock()
		})
	}
	wg.Wait()
	return out
}

// channelFallbackURL is used when a message-level permalink can't be
// fetched; the channel itself is still a valid, if less precise, link.
func channelFallbackURL(channelID string) string {
	return "https://app.slack.com/client/_/" + channelID
}

// ResolveLinkedMessages scans convs for intra-platform message links
// (reference.RefSlackMessage hits) and, for any such link whose message
// lacks a native unfurl attachment already, fetches the linked message and
// synthesizes a shared_message Attachment carrying its text and author.
// Lookups are bounded and de-duplicated by (channel, ts) with singleflight
// the same way resolveDisplayName de-dupes name lookups, so a link repeated
// across conversations costs one RPC.
func (e *Enricher) ResolveLinkedMessages(ctx context.Context, convs []shiftlog.Conversation) {
	var wg sync.WaitGroup
	var attachMu sync.Mutex

	for ci := range convs {
		for mi := range convs[ci].Messages {
			m := &convs[ci].Messages[mi]
			if hasNativeUnfurl(*m) {
				continue
			}
			for _, ref := range reference.Extract(m.Text, m.Ts) {
				if ref.Type != shiftlog.RefSlackMessage {
					continue
				}
				channel, ts, ok := parseSlackMessageRef(ref.Value)
				if !ok {
					continue
				}
				m := m
				k := linkKey{channel, ts}
				wg.Add(1)
				e.pool.Go(func() {
					defer wg.Done()
					a := e.resolveLink(ctx, k)
					if a == nil {
						return
					}
					attachMu.Lock()
					m.Attachments = append(m.Attachments, *a)
					attachMu.Unlock()
				})
			}
		}
	}
	wg.Wait()
}

// resolveLink fetches the linked message once per key, permanently caching
// the result (nil on failure) and de-duplicating concurrent fetches for the
// same key via singleflight.
func (e *Enricher) resolveLink(ctx context.Context, k linkKey) *shiftlog.Attachment {
	e.linkMu.Lock()
	if a, ok := e.linkCache[k]; ok {
		e.linkMu.Unlock()
		return a
	}
	e.linkMu.Unlock()

	v, _, _ := e.linkGroup.Do(k.channel+"|"+k.ts, func() (interface{}, error) {
		msg, err := e.client.GetMessage(ctx, k.channel, k.ts)
		var a *shiftlog.Attachment
		if err == nil {
			a = &shiftlog.Attachment{Kind: "shared_message", Text: msg.Text, AuthorID: msg.User, ChannelID: k.channel}
		}
		e.linkMu.Lock()
		e.linkCache[k] = a
		e.linkMu.Unlock()
		return a, nil
	})
	a, _ := v.(*shiftlog.Attachment)
	return a
}

// hasNativeUnfurl reports whether m already carries an attachment, meaning
// the platform resolved any links in it natively.
func hasNativeUnfurl(m shiftlog.Message) bool {
	return len(m.Attachments) > 0
}

// parseSlackMessageRef splits a reference.RefSlackMessage value
// ("slack:<channel>:<ts>") back into its channel and ts components.
func parseSlackMessageRef(value string) (channel, ts string, ok bool) {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) != 3 || parts[0] != "slack" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
