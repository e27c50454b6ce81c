package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRegistry_OpenReturnsSharedInstance(t *testing.T) {
	reg := NewRegistry(Config{HistoryDir: t.TempDir()}, nil, nil, nil)
	defer reg.Shutdown()

	a := reg.Open("alice")
	b := reg.Open("alice")
	if a != b {
		t.Error("Open must return the same manager for the same user")
	}
	if c := reg.Open("bob"); c == a {
		t.Error("different users must get different managers")
	}

	users := reg.Users()
	if len(users) != 2 {
		t.Errorf("expected 2 open users, got %v", users)
	}
}

func TestRegistry_IsolatedInstances(t *testing.T) {
	// Two registries over different directories must not share state; that is
	// the reason the registry exists instead of a package-level singleton.
	regA := NewRegistry(Config{HistoryDir: t.TempDir()}, nil, nil, nil)
	defer regA.Shutdown()
	regB := NewRegistry(Config{HistoryDir: t.TempDir()}, nil, nil, nil)
	defer regB.Shutdown()

	if _, err := regA.Open("alice").AddMemory(context.Background(), "只属于A的记忆", SourceUser, AddOptions{}); err != nil {
		t.Fatal(err)
	}

	short, long := regB.Open("alice").Counts()
	if short != 0 || long != 0 {
		t.Errorf("registries must be isolated: short=%d long=%d", short, long)
	}
}

func TestRegistry_ClearHistoryRemovesStateAndFiles(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(Config{HistoryDir: dir}, nil, nil, nil)
	defer reg.Shutdown()

	m := reg.Open("alice")
	if _, err := m.AddMemory(context.Background(), "要被清除的记录", SourceUser, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}

	if err := reg.ClearHistory(context.Background(), "alice"); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}

	if short, long := m.Counts(); short != 0 || long != 0 {
		t.Errorf("in-memory state must be wiped: short=%d long=%d", short, long)
	}
	if _, err := os.Stat(filepath.Join(dir, "alice_short.json")); !os.IsNotExist(err) {
		t.Error("short-term snapshot file must be removed")
	}
	if _, err := os.Stat(filepath.Join(dir, longTermSubdir, "alice_long.json")); !os.IsNotExist(err) {
		t.Error("long-term snapshot file must be removed")
	}
}

func TestRegistry_ClearHistoryForUnopenedUser(t *testing.T) {
	dir := t.TempDir()

	// Leave files behind from a previous "run".
	first := NewRegistry(Config{HistoryDir: dir}, nil, nil, nil)
	m := first.Open("alice")
	if _, err := m.AddMemory(context.Background(), "上一次运行留下的记录", SourceUser, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	first.Shutdown()

	second := NewRegistry(Config{HistoryDir: dir}, nil, nil, nil)
	defer second.Shutdown()
	if err := second.ClearHistory(context.Background(), "alice"); err != nil {
		t.Fatalf("ClearHistory for unopened user: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "alice_short.json")); !os.IsNotExist(err) {
		t.Error("stale snapshot files must be removed even for unopened users")
	}
}

func TestRegistry_ShutdownPersistsEverything(t *testing.T) {
	dir := t.TempDir()

	reg := NewRegistry(Config{HistoryDir: dir}, nil, nil, nil)
	if _, err := reg.Open("alice").AddMemory(context.Background(), "重启后还要记得这句", SourceUser, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	reg.Shutdown()

	// A fresh registry over the same directory restores the state.
	reg2 := NewRegistry(Config{HistoryDir: dir}, nil, nil, nil)
	defer reg2.Shutdown()
	short, long := reg2.Open("alice").Counts()
	if short+long != 1 {
		t.Errorf("record must survive shutdown and reload: short=%d long=%d", short, long)
	}
}

func TestRegistry_Stats(t *testing.T) {
	reg := NewRegistry(Config{HistoryDir: t.TempDir()}, nil, nil, nil)
	defer reg.Shutdown()

	if _, err := reg.Open("bob").AddMemory(context.Background(), "鲍勃的一句话", SourceUser, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	reg.Open("alice")

	stats := reg.Stats()
	if len(stats) != 2 {
		t.Fatalf("expected stats for 2 users, got %d", len(stats))
	}
	// Sorted by user id for stable output.
	if stats[0].UserID != "alice" || stats[1].UserID != "bob" {
		t.Errorf("stats must be sorted by user id: %+v", stats)
	}
	if stats[1].ShortTerm != 1 {
		t.Errorf("bob must show one short-term record: %+v", stats[1])
	}
}
