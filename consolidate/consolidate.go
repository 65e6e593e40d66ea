// Package consolidate implements shiftlog's consolidator: the fixed
// bot-merge / trivial-merge / union-find-grouping sequence that turns a
// channel's segmented conversations into topic-level ConversationGroups
// (spec §4.G).
package consolidate

import (
	"math"
	"sort"
	"strings"

	"github.com/nevindra/shiftlog"
	"github.com/nevindra/shiftlog/embedding"
	"github.com/nevindra/shiftlog/reference"
)

// workIndicators are substrings whose presence spares an otherwise-trivial,
// unmerged conversation from being dropped as an orphan.
var workIndicators = []string{
	"confirm", "verified", "tested", "checked", "fixed", "done", "complete",
	"approved", "reviewed", "resolved", "merged", "deployed", "updated",
	"shipped", "launched", "released",
}

// Options configures the consolidator. Zero values are replaced by spec
// defaults in New.
type Options struct {
	BotMergeWindowMinutes float64

	TrivialMaxMessages        int
	TrivialMaxCharacters      int
	TrivialMergeWindowMinutes float64
	DropOrphans               bool

	AdjacentMergeWindowMinutes float64

	ProximityDMWindowMinutes float64
	ProximityDMMinSimilarity float64
	ProximityWindowMinutes   float64
	ProximityMinSimilarity   float64

	SameAuthorMaxGapMinutes float64
	SameAuthorMinSimilarity float64

	SimilarityMaxGapMinutes float64
	SimilarityThreshold     float64

	ReferenceWeight float64
	EmbeddingWeight float64
}

// New fills unset Options fields with spec §4.G defaults. DropOrphans has
// no zero-value ambiguity problem (bool), so it defaults true unless the
// caller explicitly built Options with DropOrphans: false.
func New(opts Options) *Consolidator {
	if opts.BotMergeWindowMinutes == 0 {
		opts.BotMergeWindowMinutes = 30
	}
	if opts.TrivialMaxMessages == 0 {
		opts.TrivialMaxMessages = 2
	}
	if opts.TrivialMaxCharacters == 0 {
		opts.TrivialMaxCharacters = 100
	}
	if opts.TrivialMergeWindowMinutes == 0 {
		opts.TrivialMergeWindowMinutes = 30
	}
	if opts.AdjacentMergeWindowMinutes == 0 {
		opts.AdjacentMergeWindowMinutes = 15
	}
	if opts.ProximityDMWindowMinutes == 0 {
		opts.ProximityDMWindowMinutes = 180
	}
	if opts.ProximityDMMinSimilarity == 0 {
		opts.ProximityDMMinSimilarity = 0.05
	}
	if opts.ProximityWindowMinutes == 0 {
		opts.ProximityWindowMinutes = 90
	}
	if opts.ProximityMinSimilarity == 0 {
		opts.ProximityMinSimilarity = 0.20
	}
	if opts.SameAuthorMaxGapMinutes == 0 {
		opts.SameAuthorMaxGapMinutes = 360
	}
	if opts.SameAuthorMinSimilarity == 0 {
		opts.SameAuthorMinSimilarity = 0.20
	}
	if opts.SimilarityMaxGapMinutes == 0 {
		opts.SimilarityMaxGapMinutes = 240
	}
	if opts.SimilarityThreshold == 0 {
		opts.SimilarityThreshold = 0.40
	}
	if opts.ReferenceWeight == 0 {
		opts.ReferenceWeight = 0.6
	}
	if opts.EmbeddingWeight == 0 {
		opts.EmbeddingWeight = 0.4
	}
	return &Consolidator{opts: opts}
}

// Consolidator implements the spec §4.G pipeline.
type Consolidator struct {
	opts Options
}

// Stats counts how each merge rule contributed, per spec §4.G's "ancillary,
// not authoritative" stats requirement.
type Stats struct {
	BotsMerged       int
	TrivialsMerged   int
	TrivialsDropped  int
	AdjacentMerges   int
	ProximityMerges  int
	SameAuthorMerges int
	ReferenceMerges  int
}

// Consolidate runs the full pipeline for one channel's segmented
// conversations. embeddings maps conversation id to its cached embedding;
// a nil map (or missing/nil entries) degrades the hybrid score to
// reference-only similarity, per spec §4.F.
func (c *Consolidator) Consolidate(convs []shiftlog.Conversation, requestingUser string, embeddings map[string][]float32) ([]shiftlog.ConversationGroup, Stats) {
	var stats Stats

	sorted := append([]shiftlog.Conversation(nil), convs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime < sorted[j].StartTime })

	afterBots := c.botMerge(sorted, &stats)
	kept := c.trivialMergeAndDrop(afterBots, &stats)
	if len(kept) == 0 {
		return nil, stats
	}

	refsByID := make(map[string]shiftlog.ConversationReferences, len(kept))
	simSetByID := make(map[string]map[string]bool, len(kept))
	for _, conv := range kept {
		cr := reference.ExtractFromConversation(conv)
		refsByID[conv.ID] = cr
		simSetByID[conv.ID] = reference.RefsForSimilarity(cr)
	}

	uf := newUnionFind(len(kept))
	for i := 0; i < len(kept); i++ {
		for j := i + 1; j < len(kept); j++ {
			c.evaluatePair(kept[i], kept[j], i, j, uf, requestingUser, simSetByID, embeddings, &stats)
		}
	}

	groupedIdx := make(map[int][]int)
	for i := range kept {
		root := uf.find(i)
		groupedIdx[root] = append(groupedIdx[root], i)
	}

	groups := make([]shiftlog.ConversationGroup, 0, len(groupedIdx))
	for _, idxs := range groupedIdx {
		members := make([]shiftlog.Conversation, len(idxs))
		var refSets []shiftlog.ConversationReferences
		for k, idx := range idxs {
			members[k] = kept[idx]
			refSets = append(refSets, refsByID[kept[idx].ID])
		}
		sort.SliceStable(members, func(i, j int) bool { return members[i].StartTime < members[j].StartTime })
		groups = append(groups, shiftlog.AssembleGroup(shiftlog.NewID(), members, reference.SharedReferences(refSets)))
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].StartTime < groups[j].StartTime })

	return groups, stats
}

func (c *Consolidator) evaluatePair(a, b shiftlog.Conversation, i, j int, uf *unionFind, requestingUser string, simSetByID map[string]map[string]bool, embeddings map[string][]float32, stats *Stats) {
	gap := gapMinutes(a.EndTime, b.StartTime)

	if gap <= c.opts.AdjacentMergeWindowMinutes {
		uf.union(i, j)
		stats.AdjacentMerges++
		return
	}

	score := c.hybridSimilarity(a, b, simSetByID, embeddings)

	if sameAuthor(a, b, requestingUser) {
		window, threshold := c.opts.ProximityWindowMinutes, c.opts.ProximityMinSimilarity
		if isDMConversation(a) && isDMConversation(b) {
			window, threshold = c.opts.ProximityDMWindowMinutes, c.opts.ProximityDMMinSimilarity
		}
		if gap <= window && score >= threshold {
			uf.union(i, j)
			stats.ProximityMerges++
			return
		}
		if gap <= c.opts.SameAuthorMaxGapMinutes && score >= c.opts.SameAuthorMinSimilarity {
			uf.union(i, j)
			stats.SameAuthorMerges++
			return
		}
	}

	if gap <= c.opts.SimilarityMaxGapMinutes && score >= c.opts.SimilarityThreshold {
		uf.union(i, j)
		stats.ReferenceMerges++
	}
}

func (c *Consolidator) hybridSimilarity(a, b shiftlog.Conversation, simSetByID map[string]map[string]bool, embeddings map[string][]float32) float64 {
	refSim := reference.Jaccard(simSetByID[a.ID], simSetByID[b.ID])

	var embA, embB []float32
	if embeddings != nil {
		embA = embeddings[a.ID]
		embB = embeddings[b.ID]
	}
	embAvailable := embA != nil && embB != nil
	embSim := 0.0
	if embAvailable {
		embSim = float64(embedding.CosineSimilarity(embA, embB))
	}
	return embedding.HybridScore(refSim, embSim, embAvailable, c.opts.ReferenceWeight, c.opts.EmbeddingWeight)
}

// botMerge implements spec §4.G step 1: a bot conversation within the
// window of an adjacent non-bot conversation is absorbed into it,
// preferring the previous non-bot over the next.
func (c *Consolidator) botMerge(convs []shiftlog.Conversation, stats *Stats) []shiftlog.Conversation {
	work := append([]shiftlog.Conversation(nil), convs...)
	var out []shiftlog.Conversation
	for i := 0; i < len(work); i++ {
		conv := work[i]
		if !conv.IsBotConversation() {
			out = append(out, conv)
			continue
		}
		if len(out) > 0 && gapMinutes(out[len(out)-1].EndTime, conv.StartTime) <= c.opts.BotMergeWindowMinutes {
			out[len(out)-1] = absorb(out[len(out)-1], conv)
			stats.BotsMerged++
			continue
		}
		if i+1 < len(work) && !work[i+1].IsBotConversation() && gapMinutes(conv.EndTime, work[i+1].StartTime) <= c.opts.BotMergeWindowMinutes {
			work[i+1] = absorb(work[i+1], conv)
			stats.BotsMerged++
			continue
		}
		out = append(out, conv)
	}
	return out
}

// trivialMergeAndDrop implements spec §4.G step 2.
func (c *Consolidator) trivialMergeAndDrop(convs []shiftlog.Conversation, stats *Stats) []shiftlog.Conversation {
	work := append([]shiftlog.Conversation(nil), convs...)
	var out []shiftlog.Conversation
	for i := 0; i < len(work); i++ {
		conv := work[i]
		if !c.isTrivial(conv) {
			out = append(out, conv)
			continue
		}

		prevGap, havePrev := math.Inf(1), false
		if len(out) > 0 && !c.isTrivial(out[len(out)-1]) {
			prevGap, havePrev = gapMinutes(out[len(out)-1].EndTime, conv.StartTime), true
		}
		nextGap, haveNext := math.Inf(1), false
		if i+1 < len(work) && !c.isTrivial(work[i+1]) {
			nextGap, haveNext = gapMinutes(conv.EndTime, work[i+1].StartTime), true
		}

		switch {
		case havePrev && prevGap <= c.opts.TrivialMergeWindowMinutes && (!haveNext || prevGap <= nextGap):
			out[len(out)-1] = absorb(out[len(out)-1], conv)
			stats.TrivialsMerged++
			continue
		case haveNext && nextGap <= c.opts.TrivialMergeWindowMinutes:
			work[i+1] = absorb(work[i+1], conv)
			stats.TrivialsMerged++
			continue
		}

		if c.opts.DropOrphans && !containsWorkIndicator(conv.Text()) {
			stats.TrivialsDropped++
			continue
		}
		out = append(out, conv)
	}
	return out
}

func (c *Consolidator) isTrivial(conv shiftlog.Conversation) bool {
	return conv.MessageCount <= c.opts.TrivialMaxMessages && len(conv.Text()) < c.opts.TrivialMaxCharacters
}

// absorb merges other's messages into target, keeping target's identity
// (id, channel, thread-ness) as the surviving conversation.
func absorb(target, other shiftlog.Conversation) shiftlog.Conversation {
	messages := append(append([]shiftlog.Message(nil), target.Messages...), other.Messages...)
	shiftlog.SortMessagesByTs(messages)
	target.Messages = messages
	target.Recompute()
	target.UserMessageCount += other.UserMessageCount
	return target
}

func containsWorkIndicator(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range workIndicators {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func sameAuthor(a, b shiftlog.Conversation, requestingUser string) bool {
	aSet, bSet := toSet(a.Participants), toSet(b.Participants)
	if requestingUser != "" && aSet[requestingUser] && bSet[requestingUser] {
		return true
	}
	if len(a.Participants) == 1 && len(b.Participants) == 1 && a.Participants[0] == b.Participants[0] {
		return true
	}
	return reference.Jaccard(aSet, bSet) >= 0.7
}

func isDMConversation(conv shiftlog.Conversation) bool {
	return strings.HasPrefix(conv.ChannelID, "D")
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

// gapMinutes returns the absolute gap, in minutes, between endTs and
// startTs (spec §4.G: |ts(B.start) - ts(A.end)|).
func gapMinutes(endTs, startTs float64) float64 {
	return math.Abs(startTs-endTs) / 60
}

// unionFind implements disjoint-set union with path compression and
// arbitrary-order union (spec §4.G: "any order acceptable").
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}
