package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	base := time.Now().Add(-30 * time.Minute)

	m := NewManager("alice", Config{HistoryDir: dir, MaxShortTerm: 2}, nil, nil, nil)
	if _, err := m.addMemoryAt(ctx, "记住我对花生过敏", SourceUser, AddOptions{}, base); err != nil {
		t.Fatal(err)
	}
	if _, err := m.addMemoryAt(ctx, "今天加班写代码", SourceUser, AddOptions{}, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.addMemoryAt(ctx, "晚上一起看电影吧", SourceAssistant, AddOptions{}, base.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	wantShort, wantLong := m.Counts()

	if err := m.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A fresh manager over the same directory sees the same state.
	m2 := NewManager("alice", Config{HistoryDir: dir, MaxShortTerm: 2}, nil, nil, nil)
	m2.Load()

	short, long := m2.Counts()
	if short != wantShort || long != wantLong {
		t.Fatalf("round trip changed counts: got %d/%d, want %d/%d", short, long, wantShort, wantLong)
	}

	history := m2.RecentHistory(10)
	if len(history) != 3 {
		t.Fatalf("expected 3 records after reload, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp < history[i-1].Timestamp {
			t.Error("reloaded history must stay chronological")
		}
	}

	prompts := m2.ImportantPrompts()
	if len(prompts) != 1 || prompts[0].Content != "记住我对花生过敏" {
		t.Errorf("instruction must survive reload via the rebuilt index: %v", prompts)
	}

	// Dedup index must be rebuilt: re-adding known content merges.
	rec, err := m2.AddMemory(ctx, "今天加班写代码", SourceUser, AddOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if s, l := m2.Counts(); s+l != 3 {
		t.Errorf("duplicate after reload must merge, got %d records (merged into %s)", s+l, rec.ID)
	}
}

func TestLoad_CorruptTierDegradesPerTier(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	base := time.Now().Add(-10 * time.Minute)

	m := NewManager("alice", Config{HistoryDir: dir, MaxShortTerm: 1}, nil, nil, nil)
	if _, err := m.addMemoryAt(ctx, "被挤进长期记忆的对话", SourceUser, AddOptions{}, base); err != nil {
		t.Fatal(err)
	}
	if _, err := m.addMemoryAt(ctx, "留在短期记忆的对话", SourceUser, AddOptions{}, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}

	// Corrupt only the short-term file; the long-term tier must still load.
	if err := os.WriteFile(filepath.Join(dir, "alice_short.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	m2 := NewManager("alice", Config{HistoryDir: dir, MaxShortTerm: 1}, nil, nil, nil)
	m2.Load()
	short, long := m2.Counts()
	if short != 0 {
		t.Errorf("corrupt short-term tier must degrade to empty, got %d", short)
	}
	if long != 1 {
		t.Errorf("intact long-term tier must survive the other tier's corruption, got %d", long)
	}
}

func TestLoad_SchemaViolationDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	// Valid JSON, wrong shape: records must be objects with required fields.
	bad := `[{"id": "", "content": 42}]`
	if err := os.WriteFile(filepath.Join(dir, "alice_short.json"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager("alice", Config{HistoryDir: dir}, nil, nil, nil)
	m.Load()
	if short, _ := m.Counts(); short != 0 {
		t.Errorf("schema-invalid snapshot must load as empty, got %d records", short)
	}
}

func TestLoad_FillsOptionalFieldDefaults(t *testing.T) {
	dir := t.TempDir()
	legacy := []map[string]any{{
		"id":        "r1",
		"content":   "旧版本落盘的记录",
		"source":    "user",
		"timestamp": time.Now().Add(-time.Hour).Unix(),
	}}
	data, err := json.Marshal(legacy)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "alice_short.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager("alice", Config{HistoryDir: dir}, nil, nil, nil)
	m.Load()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.short) != 1 {
		t.Fatalf("expected 1 record, got %d", len(m.short))
	}
	r := m.short[0]
	if r.LastReference != r.Timestamp {
		t.Error("missing last_reference_time must default to timestamp")
	}
	if r.ContentHash != HashContent(r.Content) {
		t.Error("missing content_hash must be recomputed")
	}
	if r.Emotion == "" {
		t.Error("missing emotion must default to neutral")
	}
}

func TestSave_AtomicSnapshotIsValidJSON(t *testing.T) {
	dir := t.TempDir()
	m := NewManager("alice", Config{HistoryDir: dir}, nil, nil, nil)
	if _, err := m.AddMemory(context.Background(), "测试落盘的内容", SourceUser, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "alice_short.json"))
	if err != nil {
		t.Fatal(err)
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		t.Fatalf("snapshot must be valid JSON: %v", err)
	}
	if len(recs) != 1 || recs[0].Content != "测试落盘的内容" {
		t.Errorf("unexpected snapshot contents: %+v", recs)
	}

	// No temp files may be left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "alice_short.json" && e.Name() != longTermSubdir {
			t.Errorf("unexpected leftover file: %s", e.Name())
		}
	}
}

func TestRemoveSnapshots_MissingFilesAreFine(t *testing.T) {
	m := NewManager("ghost", Config{HistoryDir: t.TempDir()}, nil, nil, nil)
	if err := m.removeSnapshots(); err != nil {
		t.Errorf("removing non-existent snapshots must not error: %v", err)
	}
}

func TestSaveLoad_PreferencesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager("alice", Config{HistoryDir: dir}, nil, nil, nil)
	if _, err := m.AddMemory(context.Background(), "我最喜欢看电影了", SourceUser, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}

	m2 := NewManager("alice", Config{HistoryDir: dir}, nil, nil, nil)
	m2.Load()
	prefs := m2.Preferences()
	if prefs.LikedTopics[TopicEntertainment] != 1 {
		t.Errorf("preference counters must survive reload: %v", prefs.LikedTopics)
	}
}
