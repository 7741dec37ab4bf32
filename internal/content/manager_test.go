package content

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func testDoc(t *testing.T, path, raw string, src Source) *Document {
	t.Helper()
	d, err := ParseDocument(path, []byte(raw), src)
	if err != nil {
		t.Fatalf("ParseDocument(%s): %v", path, err)
	}
	return d
}

func testSnapshot(t *testing.T, title string) Snapshot {
	t.Helper()
	return Snapshot{
		Docs: map[string]*Document{
			"data/home.json": testDoc(t, "data/home.json", fmt.Sprintf(`{"title": %q}`, title), SourceSeed),
		},
		Meta: Meta{Version: "1.0.0", SHA256: "abc123", Source: SourceSeed},
	}
}

func TestManager_BeforeFirstSet(t *testing.T) {
	m := NewManager()
	if _, ok := m.Get(); ok {
		t.Fatal("new manager reports a snapshot")
	}
	if _, ok := m.Document("data/home.json"); ok {
		t.Fatal("Document found before Set")
	}
	if m.ContentVersion() != "" || m.ContentHash() != "" || m.Source() != SourceUnknown || !m.LoadedAt().IsZero() {
		t.Fatalf("header info before Set: %q %q %q %v", m.ContentVersion(), m.ContentHash(), m.Source(), m.LoadedAt())
	}
	if m.ReadyErr() == nil {
		t.Fatal("ready before Set")
	}
	m.Set(Snapshot{Meta: Meta{Version: "1.0.0"}})
	if m.ReadyErr() == nil {
		t.Fatal("a snapshot without documents must not be ready")
	}
}

func TestManager_SetPublishesACopy(t *testing.T) {
	m := NewManager()
	snap := testSnapshot(t, "Hello")
	m.Set(snap)

	if m.ContentVersion() != "1.0.0" || m.ContentHash() != "abc123" || m.Source() != SourceSeed {
		t.Fatalf("header info: %q %q %q", m.ContentVersion(), m.ContentHash(), m.Source())
	}
	if m.LoadedAt().IsZero() {
		t.Fatal("LoadedAt not stamped")
	}

	snap.Docs["data/home.json"].Data["title"] = "Mutated"
	snap.Docs["data/other.json"] = testDoc(t, "data/other.json", `{}`, SourceSeed)
	doc, _ := m.Document("data/home.json")
	if doc.String("title") != "Hello" {
		t.Fatal("manager shares the caller's document")
	}
	if _, ok := m.Document("data/other.json"); ok {
		t.Fatal("manager shares the caller's map")
	}

	doc.Data["title"] = "Mutated"
	if again, _ := m.Document("data/home.json"); again.String("title") != "Hello" {
		t.Fatal("Document hands out the published copy")
	}
}

func TestManager_SetKeepsLoadedAtAndReplaces(t *testing.T) {
	m := NewManager()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first := testSnapshot(t, "First")
	first.LoadedAt = fixed
	m.Set(first)
	if !m.LoadedAt().Equal(fixed) {
		t.Fatalf("LoadedAt = %v", m.LoadedAt())
	}
	m.Set(testSnapshot(t, "Second"))
	if doc, _ := m.Document("data/home.json"); doc.String("title") != "Second" {
		t.Fatalf("title = %q", doc.String("title"))
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager()
	m.Set(testSnapshot(t, "v0"))

	snaps := make([]Snapshot, 10)
	for i := range snaps {
		snaps[i] = testSnapshot(t, fmt.Sprintf("v%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Set(snaps[j%len(snaps)])
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if doc, ok := m.Document("data/home.json"); !ok || doc.String("title") == "" {
					t.Error("reader saw a missing document")
					return
				}
				_ = m.ContentHash()
				_ = m.ReadyErr()
			}
		}()
	}
	wg.Wait()
}
