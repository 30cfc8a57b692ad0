package client

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Set("analytics_queue", `[{"kind":"view"}]`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, ok := reopened.Get("analytics_queue")
	if !ok || v != `[{"kind":"view"}]` {
		t.Fatalf("expected persisted value, got %q (ok=%v)", v, ok)
	}

	reopened.Delete("analytics_queue")
	third, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen after delete: %v", err)
	}
	if _, ok := third.Get("analytics_queue"); ok {
		t.Fatal("expected deleted key to stay deleted across reopen")
	}
}

func TestFileStore_CorruptFile_StartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.json")
	if err := os.WriteFile(path, []byte("{{{{"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, ok := store.Get("anything"); ok {
		t.Fatal("expected corrupt state to be discarded")
	}
}
