package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ayane-dev/Kokoro/internal/kokoro/semantic"
)

func TestRecentHistory_ChronologicalAcrossTiers(t *testing.T) {
	m := newTestManager(t, Config{MaxShortTerm: 3, MaxLongTerm: 100})
	ctx := context.Background()
	base := time.Now().Add(-10 * time.Minute)

	for i := 0; i < 8; i++ {
		content := fmt.Sprintf("对话片段编号%d", i)
		if _, err := m.addMemoryAt(ctx, content, SourceUser, AddOptions{}, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}

	// 3 stay short-term, 5 were promoted; history must still read in one
	// unbroken chronological line.
	items := m.RecentHistory(100)
	if len(items) != 8 {
		t.Fatalf("expected all 8 records, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i].Timestamp < items[i-1].Timestamp {
			t.Fatalf("history out of order at %d: %v", i, items)
		}
	}

	// A tight limit keeps the most recent tail.
	tail := m.RecentHistory(3)
	if len(tail) != 3 || tail[2].Content != "对话片段编号7" {
		t.Errorf("limit must keep the newest records: %v", tail)
	}

	if got := m.RecentHistory(0); got != nil {
		t.Errorf("non-positive limit must return nil, got %v", got)
	}
}

func TestMemoriesByTopic_BumpsLongTermReference(t *testing.T) {
	m := newTestManager(t, Config{MaxShortTerm: 1, MaxLongTerm: 100})
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)

	if _, err := m.addMemoryAt(ctx, "上次推荐的那部电影真好看", SourceUser, AddOptions{}, old); err != nil {
		t.Fatal(err)
	}
	// Push the first record into long-term.
	if _, err := m.addMemoryAt(ctx, "今天也在写代码", SourceUser, AddOptions{}, time.Now()); err != nil {
		t.Fatal(err)
	}

	got := m.MemoriesByTopic(TopicEntertainment, 5)
	if len(got) != 1 {
		t.Fatalf("expected 1 entertainment record, got %d", len(got))
	}
	if got[0].LastReference <= old.Unix() {
		t.Error("topical retrieval must bump LastReference on long-term records")
	}

	// Returned records are copies; mutating them must not corrupt the store.
	got[0].Content = "mutated"
	if again := m.MemoriesByTopic(TopicEntertainment, 5); again[0].Content == "mutated" {
		t.Error("MemoriesByTopic must return copies")
	}
}

func TestImportantPrompts_ChronologicalInstructions(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	if _, err := m.addMemoryAt(ctx, "记住我不吃香菜", SourceUser, AddOptions{}, base); err != nil {
		t.Fatal(err)
	}
	if _, err := m.addMemoryAt(ctx, "以后不要半夜给我发消息", SourceUser, AddOptions{}, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.addMemoryAt(ctx, "今天天气不错", SourceUser, AddOptions{}, base.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}

	prompts := m.ImportantPrompts()
	if len(prompts) != 2 {
		t.Fatalf("expected 2 standing instructions, got %d", len(prompts))
	}
	if prompts[0].Content != "记住我不吃香菜" || prompts[1].Content != "以后不要半夜给我发消息" {
		t.Errorf("instructions must come back in creation order: %v, %v", prompts[0].Content, prompts[1].Content)
	}
}

func TestHybridSearch_LexicalOnly(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	if _, err := m.AddMemory(ctx, "昨天调了一整天的服务器配置", SourceUser, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddMemory(ctx, "晚饭吃了咖喱饭", SourceUser, AddOptions{}); err != nil {
		t.Fatal(err)
	}

	results := m.HybridSearch(ctx, "服务器配置", 5, 0.1)
	if len(results) == 0 {
		t.Fatal("expected a lexical hit for overlapping tokens")
	}
	if results[0].Content != "昨天调了一整天的服务器配置" {
		t.Errorf("best hit should be the overlapping record: %q", results[0].Content)
	}
	for _, r := range results {
		if r.Content == "晚饭吃了咖喱饭" {
			t.Error("unrelated record must not clear the similarity floor")
		}
	}
}

func TestHybridSearch_MergesAndFiltersSemanticHits(t *testing.T) {
	searcher := &stubSearcher{}
	m := NewManager("alice", Config{HistoryDir: t.TempDir()}, nil, searcher, nil)
	ctx := context.Background()

	rec, err := m.AddMemory(ctx, "养了一只叫雪球的猫", SourceUser, AddOptions{})
	if err != nil {
		t.Fatal(err)
	}

	searcher.hits = []semantic.Hit{
		{RecordID: rec.ID, Content: rec.Content, Similarity: 0.9},
		{RecordID: "other", Content: "周末去了水族馆", Similarity: 0.55},
		{RecordID: "weak", Content: "无关内容", Similarity: 0.2},
	}

	results := m.HybridSearch(ctx, "我的猫叫什么", 5, 0.5)

	if len(results) != 2 {
		t.Fatalf("expected the sub-floor hit filtered out, got %d results: %v", len(results), results)
	}
	if results[0].RecordID != rec.ID || results[0].Similarity != 0.9 {
		t.Errorf("duplicate ids must collapse keeping the higher similarity: %+v", results[0])
	}
	if results[1].RecordID != "other" {
		t.Errorf("expected semantic-only hit second: %+v", results[1])
	}
}

func TestHybridSearch_SemanticFailureDegradesToLexical(t *testing.T) {
	searcher := &stubSearcher{searchErr: errors.New("backend down")}
	m := NewManager("alice", Config{HistoryDir: t.TempDir()}, nil, searcher, nil)
	ctx := context.Background()

	if _, err := m.AddMemory(ctx, "周末打算去爬山", SourceUser, AddOptions{}); err != nil {
		t.Fatal(err)
	}

	results := m.HybridSearch(ctx, "周末去爬山吗", 5, 0.1)
	if len(results) != 1 {
		t.Fatalf("lexical results must survive a semantic backend failure: %v", results)
	}
}

func TestHybridSearch_TopicFloor(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	// No surface-token overlap with the query, but both classify as 情感.
	if _, err := m.AddMemory(ctx, "最近一个人住总觉得孤独", SourceUser, AddOptions{}); err != nil {
		t.Fatal(err)
	}

	results := m.HybridSearch(ctx, "我心情不好，有点难过", 5, 0.3)
	found := false
	for _, r := range results {
		if r.Content == "最近一个人住总觉得孤独" {
			found = true
			if r.Similarity < 0.3 {
				t.Errorf("topic-floored similarity must be >= 0.3, got %v", r.Similarity)
			}
		}
	}
	if !found {
		t.Error("topically related record must surface via the topic floor")
	}
}

func TestTokenize_HanAndLatin(t *testing.T) {
	tokens := tokenize("今天Debug了server")

	for _, want := range []string{"今", "天", "今天", "debug", "server"} {
		if _, ok := tokens[want]; !ok {
			t.Errorf("missing token %q in %v", want, tokens)
		}
	}
	if _, ok := tokens["天d"]; ok {
		t.Error("bigrams must not span script boundaries")
	}
}
