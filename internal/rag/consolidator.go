package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

// Consolidate turns the query's retrieved chunks into a smaller set
// of evidence groups: buckets sharing a parent heading collapse into
// the parent when they cover at least half its span (recursing
// upward), the rest merge into adjacent runs whose content is
// re-read from the sanitized source file. Groups below the minimum
// content length are dropped.
//
// Warnings report non-fatal degradations, currently stale sanitized
// sources that forced a stored-content fallback.
func (p *Pipeline) Consolidate(ctx context.Context, queryID string) (*store.Query, []string, error) {
	q, err := p.queries.GetQuery(ctx, queryID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireMinState(q, store.StateRetrieved); err != nil {
		return nil, nil, err
	}
	if len(q.RetrievedContext) == 0 {
		return nil, nil, ragerr.Precondition(
			"query " + q.ID + " has no retrieved context to consolidate")
	}

	ancestors, err := p.loadAncestors(ctx, q.RetrievedContext)
	if err != nil {
		return nil, nil, err
	}

	groups, warnings, err := p.consolidateItems(ctx, q, ancestors)
	if err != nil {
		return nil, nil, err
	}

	transition(q, store.StateConsolidated)
	q.CleanRetrievalContext = groups
	q.UpdatedAt = time.Now().UTC()
	if err := p.queries.UpdateQuery(ctx, q); err != nil {
		return nil, nil, err
	}

	slog.Info("query consolidated",
		"query_id", q.ID,
		"retrieved", len(q.RetrievedContext),
		"groups", len(groups),
		"warnings", len(warnings))
	return q, warnings, nil
}

// consolidationItem is an in-flight group during the bottom-up sweep.
type consolidationItem struct {
	chunkIDs  []int64
	workID    int64
	groupID   *int64 // persisted as the group's parent_id
	bucketID  *int64 // parent the item still buckets under, nil = terminal
	startLine int
	endLine   int
	score     float64
	contents  []string // members' stored contents in order
	isParent  bool     // parent replacement; content is the parent's own
	content   string   // set for parent replacements
}

func (it *consolidationItem) span() int { return it.endLine - it.startLine + 1 }

// loadAncestors resolves the full parent closure of the retrieved
// chunks: every transitive heading ancestor, keyed by chunk id.
func (p *Pipeline) loadAncestors(ctx context.Context, retrieved []store.RetrievedChunk) (map[int64]*store.Chunk, error) {
	ancestors := make(map[int64]*store.Chunk)

	frontier := make([]int64, 0, len(retrieved))
	seen := make(map[int64]bool)
	for _, rc := range retrieved {
		if rc.ParentID != nil && !seen[*rc.ParentID] {
			seen[*rc.ParentID] = true
			frontier = append(frontier, *rc.ParentID)
		}
	}

	for len(frontier) > 0 {
		chunks, err := p.gateway.GetChunks(ctx, frontier)
		if err != nil {
			return nil, err
		}
		var next []int64
		for _, c := range chunks {
			ancestors[c.ID] = c
			if c.ParentID != nil && !seen[*c.ParentID] {
				seen[*c.ParentID] = true
				next = append(next, *c.ParentID)
			}
		}
		frontier = next
	}
	return ancestors, nil
}

// chunkDepth counts ancestors above the chunk, walking to the root.
func chunkDepth(id int64, ancestors map[int64]*store.Chunk) int {
	depth := 0
	for {
		c, ok := ancestors[id]
		if !ok || c.ParentID == nil {
			return depth
		}
		depth++
		id = *c.ParentID
	}
}

func (p *Pipeline) consolidateItems(ctx context.Context, q *store.Query, ancestors map[int64]*store.Chunk) ([]store.ConsolidatedGroup, []string, error) {
	pool := make([]*consolidationItem, 0, len(q.RetrievedContext))
	for _, rc := range q.RetrievedContext {
		pool = append(pool, &consolidationItem{
			chunkIDs:  []int64{rc.ChunkID},
			workID:    rc.WorkID,
			groupID:   rc.ParentID,
			bucketID:  rc.ParentID,
			startLine: rc.StartLine,
			endLine:   rc.EndLine,
			score:     rc.FinalScore,
			contents:  []string{rc.Content},
		})
	}

	final := p.sweepBuckets(pool, ancestors)

	var warnings []string
	groups := make([]store.ConsolidatedGroup, 0, len(final))
	for _, it := range final {
		group, keep, warning, err := p.buildGroup(ctx, q, it, ancestors)
		if err != nil {
			return nil, nil, err
		}
		if warning != "" {
			warnings = append(warnings, warning)
		}
		if keep {
			groups = append(groups, group)
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Score != groups[j].Score {
			return groups[i].Score > groups[j].Score
		}
		if groups[i].WorkID != groups[j].WorkID {
			return groups[i].WorkID < groups[j].WorkID
		}
		return groups[i].StartLine < groups[j].StartLine
	})
	return groups, warnings, nil
}

// sweepBuckets processes parent buckets deepest first. A bucket whose
// children cover enough of the parent collapses into the parent and
// re-enters the pool one level up; otherwise its children coalesce
// into adjacent runs and are done.
func (p *Pipeline) sweepBuckets(pool []*consolidationItem, ancestors map[int64]*store.Chunk) []*consolidationItem {
	var final []*consolidationItem

	for len(pool) > 0 {
		type bucketKey struct {
			workID   int64
			parentID int64
		}
		buckets := make(map[bucketKey][]*consolidationItem)
		var next []*consolidationItem

		maxDepth := -1
		for _, it := range pool {
			if it.bucketID == nil {
				final = append(final, it)
				continue
			}
			key := bucketKey{it.workID, *it.bucketID}
			buckets[key] = append(buckets[key], it)
			if d := chunkDepth(*it.bucketID, ancestors); d > maxDepth {
				maxDepth = d
			}
		}
		if len(buckets) == 0 {
			break
		}

		for key, items := range buckets {
			parent, ok := ancestors[key.parentID]
			if !ok || chunkDepth(key.parentID, ancestors) != maxDepth {
				// Shallower buckets wait for deeper ones to resolve.
				if !ok {
					for _, it := range items {
						it.bucketID = nil
					}
					final = append(final, items...)
					continue
				}
				next = append(next, items...)
				continue
			}

			if coverageOf(items, parent) >= p.cfg.CoverageThreshold {
				next = append(next, replaceWithParent(items, parent))
			} else {
				final = append(final, p.mergeAdjacent(items)...)
			}
		}
		pool = next
	}
	return final
}

// coverageOf computes the fraction of the parent's lines covered by
// the items' spans, overlaps counted once.
func coverageOf(items []*consolidationItem, parent *store.Chunk) float64 {
	type interval struct{ start, end int }
	clipped := make([]interval, 0, len(items))
	for _, it := range items {
		start, end := it.startLine, it.endLine
		if start < parent.StartLine {
			start = parent.StartLine
		}
		if end > parent.EndLine {
			end = parent.EndLine
		}
		if start <= end {
			clipped = append(clipped, interval{start, end})
		}
	}
	if len(clipped) == 0 {
		return 0
	}
	sort.Slice(clipped, func(i, j int) bool { return clipped[i].start < clipped[j].start })

	covered := 0
	curStart, curEnd := clipped[0].start, clipped[0].end
	for _, iv := range clipped[1:] {
		if iv.start <= curEnd+1 {
			if iv.end > curEnd {
				curEnd = iv.end
			}
			continue
		}
		covered += curEnd - curStart + 1
		curStart, curEnd = iv.start, iv.end
	}
	covered += curEnd - curStart + 1

	return float64(covered) / float64(parent.Span())
}

// replaceWithParent collapses a bucket into its parent chunk. The
// result buckets under the grandparent for another sweep pass.
func replaceWithParent(items []*consolidationItem, parent *store.Chunk) *consolidationItem {
	score := items[0].score
	for _, it := range items[1:] {
		if it.score > score {
			score = it.score
		}
	}
	parentID := parent.ID
	return &consolidationItem{
		chunkIDs:  []int64{parent.ID},
		workID:    parent.WorkID,
		groupID:   &parentID,
		bucketID:  parent.ParentID,
		startLine: parent.StartLine,
		endLine:   parent.EndLine,
		score:     score,
		contents:  []string{parent.Content},
		isParent:  true,
		content:   parent.Content,
	}
}

// mergeAdjacent sorts a bucket's items by start line and coalesces
// runs whose gap stays within the configured threshold.
func (p *Pipeline) mergeAdjacent(items []*consolidationItem) []*consolidationItem {
	sort.SliceStable(items, func(i, j int) bool { return items[i].startLine < items[j].startLine })

	var runs []*consolidationItem
	var run *consolidationItem
	for _, it := range items {
		it.bucketID = nil
		if run != nil && it.startLine-run.endLine <= p.cfg.GapThreshold {
			run.chunkIDs = append(run.chunkIDs, it.chunkIDs...)
			run.contents = append(run.contents, it.contents...)
			if it.endLine > run.endLine {
				run.endLine = it.endLine
			}
			if it.score > run.score {
				run.score = it.score
			}
			continue
		}
		run = it
		runs = append(runs, run)
	}
	return runs
}

// buildGroup enriches one final item, computes its heading chain, and
// applies the content filters. keep=false drops the group; a
// non-empty warning reports a stale-source fallback.
func (p *Pipeline) buildGroup(ctx context.Context, q *store.Query, it *consolidationItem, ancestors map[int64]*store.Chunk) (store.ConsolidatedGroup, bool, string, error) {
	content := it.content
	warning := ""
	if !it.isParent {
		enriched, err := p.gateway.ReadSanitizedSlice(ctx, it.workID, it.startLine, it.endLine)
		switch {
		case err == nil:
			content = enriched
			if heading := leadingHeading(it.contents); heading != "" {
				content = heading + "\n\n" + content
			}
		case ragerr.HasCode(err, ragerr.ErrCodeStaleSource):
			slog.Warn("sanitized source stale, using stored chunk content",
				"query_id", q.ID, "work_id", it.workID, "error", err)
			warning = fmt.Sprintf("work %d: sanitized source stale, used stored chunk content", it.workID)
			content = strings.Join(it.contents, "\n\n")
		default:
			return store.ConsolidatedGroup{}, false, "", err
		}
	}

	if len(content) < p.cfg.MinContentChars {
		return store.ConsolidatedGroup{}, false, warning, nil
	}
	if it.groupID != nil {
		if parent, ok := ancestors[*it.groupID]; ok && p.cfg.CoverageFloor > 0 {
			if coverageOf([]*consolidationItem{it}, parent) < p.cfg.CoverageFloor {
				return store.ConsolidatedGroup{}, false, warning, nil
			}
		}
	}

	return store.ConsolidatedGroup{
		ChunkIDs:     it.chunkIDs,
		ParentID:     it.groupID,
		WorkID:       it.workID,
		Content:      content,
		StartLine:    it.startLine,
		EndLine:      it.endLine,
		Score:        it.score,
		HeadingChain: headingChain(it.groupID, ancestors),
	}, true, warning, nil
}

// leadingHeading returns the first non-blank stored line when it is a
// markdown heading, so the section title survives enrichment.
func leadingHeading(contents []string) string {
	for _, c := range contents {
		for _, line := range strings.Split(c, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, "#") {
				return trimmed
			}
			return ""
		}
	}
	return ""
}

// headingChain walks parent pointers to the root and returns the
// ancestor heading titles, root first. It never consults stored
// breadcrumbs.
func headingChain(parentID *int64, ancestors map[int64]*store.Chunk) []string {
	var chain []string
	id := parentID
	for id != nil {
		c, ok := ancestors[*id]
		if !ok {
			break
		}
		if title := headingTitle(c); title != "" {
			chain = append(chain, title)
		}
		id = c.ParentID
	}
	// Walked leaf to root; callers want root first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// headingTitle extracts the display title of a heading chunk.
func headingTitle(c *store.Chunk) string {
	for _, line := range strings.Split(c.Content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
	}
	return ""
}
