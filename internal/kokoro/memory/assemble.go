package memory

import "context"

// PromptAssembler builds the bounded, relevance-ranked memory block injected
// into each prompt. It layers three sources:
//
//  1. Standing instructions (ImportantPrompts) — always included, first.
//  2. The recent history window — priority claim on the remaining budget.
//  3. Hybrid-search hits for the current message — fill whatever is left.
//
// The budget is a soft token limit estimated at ~4 characters per token.
type PromptAssembler struct {
	MaxTokens     int     // total token budget for the memory block
	HistoryLimit  int     // how many recent turns to consider (default: 20)
	SearchLimit   int     // how many hybrid hits to consider (default: 5)
	MinSimilarity float64 // hybrid-search similarity floor (default: 0.3)
}

// DefaultMaxTokens is the default token budget for the assembled block.
const DefaultMaxTokens = 2000

const (
	defaultHistoryLimit = 20
	defaultSearchLimit  = 5
	defaultMinSim       = 0.3
)

// Assemble produces the memory block for one prompt. The returned items are
// ordered for the context window: instructions, then relevant recall, then
// the recent transcript (oldest first). Returns nil when there is nothing
// worth injecting.
func (a *PromptAssembler) Assemble(ctx context.Context, m *Manager, currentMsg string) []HistoryItem {
	maxTokens := a.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	historyLimit := a.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	searchLimit := a.SearchLimit
	if searchLimit <= 0 {
		searchLimit = defaultSearchLimit
	}
	minSim := a.MinSimilarity
	if minSim <= 0 {
		minSim = defaultMinSim
	}

	// Standing instructions come off the top of the budget unconditionally.
	var instructions []HistoryItem
	for _, r := range m.ImportantPrompts() {
		instructions = append(instructions, HistoryItem{
			Role: SourceSystem, Content: r.Content, Timestamp: r.Timestamp,
		})
	}
	remaining := maxTokens - estimateTokens(instructions)
	if remaining < 0 {
		remaining = 0
	}

	// Recent history has priority; trim oldest-first when it alone overflows.
	history := m.RecentHistory(historyLimit)
	for len(history) > 1 && estimateTokens(history) > remaining {
		history = history[1:]
	}
	remaining -= estimateTokens(history)
	if remaining < 0 {
		remaining = 0
	}

	// Hybrid recall fills the rest, most similar first, skipping anything
	// already present in the history window.
	seen := make(map[string]struct{}, len(history))
	for _, h := range history {
		seen[h.Content] = struct{}{}
	}
	var recall []HistoryItem
	for _, res := range m.HybridSearch(ctx, currentMsg, searchLimit, minSim) {
		if _, dup := seen[res.Content]; dup {
			continue
		}
		item := HistoryItem{Role: SourceSystem, Content: "相关记忆: " + res.Content}
		cost := estimateTokens([]HistoryItem{item})
		if cost > remaining {
			break
		}
		recall = append(recall, item)
		remaining -= cost
	}

	out := make([]HistoryItem, 0, len(instructions)+len(recall)+len(history))
	out = append(out, instructions...)
	out = append(out, recall...)
	out = append(out, history...)
	if len(out) == 0 {
		return nil
	}
	return out
}

// estimateTokens returns a rough token count for a history slice: ~4
// characters per token plus a small per-item overhead for role framing.
// Intentionally imprecise — the budget is a soft limit.
func estimateTokens(items []HistoryItem) int {
	const charsPerToken = 4
	const perItemOverhead = 4

	total := 0
	for _, it := range items {
		total += len(it.Content)/charsPerToken + perItemOverhead
	}
	return total
}
