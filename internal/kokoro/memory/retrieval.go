package memory

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/ayane-dev/Kokoro/common/trace"
)

// HistoryItem is the core-fields view of a record handed to the prompt
// builder: role, content, and creation time only.
type HistoryItem struct {
	Role      Source `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// SearchResult is one hybrid-search hit after similarity filtering and
// id-level deduplication.
type SearchResult struct {
	RecordID   string
	Content    string
	Topics     []string
	Similarity float64
}

// RecentHistory returns the most recent limit records across both tiers in
// non-decreasing timestamp order, regardless of the score-ordered internal
// eviction passes. A non-positive limit returns nil.
func (m *Manager) RecentHistory(limit int) []HistoryItem {
	if limit <= 0 {
		return nil
	}

	m.mu.Lock()
	all := make([]*Record, 0, len(m.short)+len(m.long))
	all = append(all, m.long...)
	all = append(all, m.short...)
	m.mu.Unlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].before(all[j]) })

	if len(all) > limit {
		all = all[len(all)-limit:]
	}

	items := make([]HistoryItem, len(all))
	for i, r := range all {
		items[i] = HistoryItem{Role: r.Source, Content: r.Content, Timestamp: r.Timestamp}
	}
	return items
}

// MemoriesByTopic returns up to limit records carrying the given topic,
// most recent first. Matched long-term records get their last-reference
// time bumped — the only mutation retrieval is allowed to make.
func (m *Manager) MemoriesByTopic(topic string, limit int) []*Record {
	if limit <= 0 {
		return nil
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	matched := append([]*Record(nil), m.byTopic[topic]...)
	sort.SliceStable(matched, func(i, j int) bool { return matched[j].before(matched[i]) })
	if len(matched) > limit {
		matched = matched[:limit]
	}

	if m.bumpReferencedLocked(matched, now) {
		m.markMutatedLocked(now)
	}

	out := make([]*Record, len(matched))
	for i, r := range matched {
		cp := *r
		out[i] = &cp
	}
	return out
}

// ImportantPrompts returns the standing-instruction records — those tagged
// with the reserved user_instruction topic — in chronological order. They
// are meant to be injected verbatim into every prompt regardless of recency.
func (m *Manager) ImportantPrompts() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := append([]*Record(nil), m.byTopic[TopicUserInstruction]...)
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].before(matched[j]) })

	out := make([]*Record, len(matched))
	for i, r := range matched {
		cp := *r
		out[i] = &cp
	}
	return out
}

// HybridSearch combines a lexical/topic pass over the in-process stores
// with the semantic collaborator's embedding pass. Results below
// minSimilarity are discarded, duplicates are collapsed by record id
// (keeping the higher similarity), and the merged list is truncated to
// limit, most similar first.
func (m *Manager) HybridSearch(ctx context.Context, query string, limit int, minSimilarity float64) []SearchResult {
	if limit <= 0 || query == "" {
		return nil
	}

	now := time.Now()
	queryTopics := m.classifySafe(query).Topics

	// Lexical pass under the lock.
	m.mu.Lock()
	byID := make(map[string]SearchResult)
	lexicalPass := func(records []*Record) {
		for _, r := range records {
			sim := lexicalSimilarity(query, queryTopics, r)
			if sim < minSimilarity || sim <= 0 {
				continue
			}
			if prev, ok := byID[r.ID]; !ok || sim > prev.Similarity {
				byID[r.ID] = SearchResult{
					RecordID:   r.ID,
					Content:    r.Content,
					Topics:     append([]string(nil), r.Topics...),
					Similarity: sim,
				}
			}
		}
	}
	lexicalPass(m.short)
	lexicalPass(m.long)
	m.mu.Unlock()

	// Semantic pass with the lock released — collaborators are black boxes
	// and must never be called under the store lock.
	hits, err := m.searcher.Search(ctx, m.userID, query, limit)
	if err != nil {
		m.logger.Warn("memory: semantic search failed, lexical results only",
			"user_id", m.userID,
			"trace", trace.FromContext(ctx),
			"err", err,
		)
		hits = nil
	}
	for _, h := range hits {
		if h.Similarity < minSimilarity {
			continue
		}
		if prev, ok := byID[h.RecordID]; !ok || h.Similarity > prev.Similarity {
			byID[h.RecordID] = SearchResult{
				RecordID:   h.RecordID,
				Content:    h.Content,
				Similarity: h.Similarity,
			}
		}
	}

	results := make([]SearchResult, 0, len(byID))
	for _, res := range byID {
		results = append(results, res)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > limit {
		results = results[:limit]
	}

	// Bump last-reference on matched long-term records.
	m.mu.Lock()
	matchedIDs := make(map[string]struct{}, len(results))
	for _, res := range results {
		matchedIDs[res.RecordID] = struct{}{}
	}
	var matched []*Record
	for _, r := range m.long {
		if _, ok := matchedIDs[r.ID]; ok {
			matched = append(matched, r)
		}
	}
	if m.bumpReferencedLocked(matched, now) {
		m.markMutatedLocked(now)
	}
	m.mu.Unlock()

	return results
}

// bumpReferencedLocked refreshes LastReference on matched long-term records.
// Short-term records are skipped — their recency is creation-based. Must be
// called with mu held. Reports whether anything was bumped.
func (m *Manager) bumpReferencedLocked(matched []*Record, now time.Time) bool {
	longSet := make(map[*Record]struct{}, len(m.long))
	for _, r := range m.long {
		longSet[r] = struct{}{}
	}
	bumped := false
	for _, r := range matched {
		if _, ok := longSet[r]; ok {
			r.LastReference = now.Unix()
			bumped = true
		}
	}
	return bumped
}

// lexicalSimilarity scores a record against a query in [0, 1] without
// embeddings: token-overlap Jaccard (words for spaced scripts, rune bigrams
// for CJK) with a topic-match floor so topically related records surface
// even when they share no surface tokens.
func lexicalSimilarity(query string, queryTopics []string, r *Record) float64 {
	qTokens := tokenize(query)
	cTokens := tokenize(r.Content)

	var sim float64
	if len(qTokens) > 0 && len(cTokens) > 0 {
		inter := 0
		for tok := range qTokens {
			if _, ok := cTokens[tok]; ok {
				inter++
			}
		}
		union := len(qTokens) + len(cTokens) - inter
		if union > 0 {
			sim = float64(inter) / float64(union)
		}
	}

	const topicFloor = 0.3
	for _, qt := range queryTopics {
		if qt != TopicOther && r.HasTopic(qt) && sim < topicFloor {
			sim = topicFloor
			break
		}
	}
	return sim
}

// tokenize splits text into a lowercase token set: whitespace-delimited
// words for alphabetic runs and overlapping rune bigrams for Han script,
// which has no word boundaries to split on.
func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var word []rune
	var prevHan rune

	flush := func() {
		if len(word) > 0 {
			tokens[strings.ToLower(string(word))] = struct{}{}
			word = word[:0]
		}
	}

	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens[string(r)] = struct{}{}
			if prevHan != 0 {
				tokens[string([]rune{prevHan, r})] = struct{}{}
			}
			prevHan = r
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word = append(word, r)
			prevHan = 0
		default:
			flush()
			prevHan = 0
		}
	}
	flush()
	return tokens
}
