package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNoopSummariser_TailConcatenation(t *testing.T) {
	items := []HistoryItem{
		{Role: SourceUser, Content: "第一句"},
		{Role: SourceAssistant, Content: "第二句"},
		{Role: SourceUser, Content: "第三句"},
		{Role: SourceAssistant, Content: "第四句"},
	}

	got, err := NoopSummariser{}.Summarise(context.Background(), items)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "第一句") {
		t.Errorf("only the last 3 turns belong in the summary: %q", got)
	}
	for _, want := range []string{"assistant: 第二句", "user: 第三句", "assistant: 第四句"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q: %q", want, got)
		}
	}
}

func TestNoopSummariser_EmptyWindow(t *testing.T) {
	got, err := NoopSummariser{}.Summarise(context.Background(), nil)
	if err != nil || got != "" {
		t.Errorf("empty window must yield empty summary, got %q, %v", got, err)
	}
}

func TestSealSession_StoresSystemSummary(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	if _, err := m.AddMemory(ctx, "今天上线了新版本", SourceUser, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddMemory(ctx, "恭喜，辛苦了", SourceAssistant, AddOptions{}); err != nil {
		t.Fatal(err)
	}

	rec, err := m.SealSession(ctx, NoopSummariser{})
	if err != nil {
		t.Fatalf("SealSession: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a summary record")
	}
	if rec.Source != SourceSystemSummary {
		t.Errorf("summary must be a system_summary record, got %q", rec.Source)
	}
	if !strings.Contains(rec.Content, "今天上线了新版本") {
		t.Errorf("summary should carry the window tail: %q", rec.Content)
	}

	short, _ := m.Counts()
	if short != 3 {
		t.Errorf("summary must enter the store via normal ingestion: short=%d", short)
	}
}

func TestSealSession_EmptyWindowIsNoop(t *testing.T) {
	m := newTestManager(t, Config{})
	rec, err := m.SealSession(context.Background(), NoopSummariser{})
	if err != nil || rec != nil {
		t.Errorf("sealing an empty window must be a no-op, got %v, %v", rec, err)
	}
}

type failingSummariser struct{}

func (failingSummariser) Summarise(context.Context, []HistoryItem) (string, error) {
	return "", errors.New("llm unavailable")
}

func TestSealSession_SummariserErrorPropagates(t *testing.T) {
	m := newTestManager(t, Config{})
	if _, err := m.AddMemory(context.Background(), "有内容可以总结", SourceUser, AddOptions{}); err != nil {
		t.Fatal(err)
	}

	if _, err := m.SealSession(context.Background(), failingSummariser{}); err == nil {
		t.Error("summariser failure must propagate")
	}
	if short, _ := m.Counts(); short != 1 {
		t.Errorf("a failed seal must not grow the store: short=%d", short)
	}
}
