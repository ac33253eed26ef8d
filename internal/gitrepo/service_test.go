package gitrepo

import (
	"testing"
)

func TestSnapshotAndHistory(t *testing.T) {
	service := New(t.TempDir())

	first, err := service.Snapshot("proj", "# Proj\n\n- v1\n", "Add section \"Notes\"")
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	if len(first.Hash) != 7 {
		t.Fatalf("hash = %q, want 7-char prefix", first.Hash)
	}

	second, err := service.Snapshot("proj", "# Proj\n\n- v1\n- v2\n", "Update section \"Notes\"")
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	history, err := service.History("proj", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length %d, want 2", len(history))
	}
	// Newest first.
	if history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("history order wrong: %+v", history)
	}
	if history[0].Message != "Update section \"Notes\"" {
		t.Fatalf("message = %q", history[0].Message)
	}
}

func TestSnapshotSkipsUnchangedContent(t *testing.T) {
	service := New(t.TempDir())

	if _, err := service.Snapshot("proj", "same content", "first"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	info, err := service.Snapshot("proj", "same content", "second")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if info.Hash != "" {
		t.Fatalf("unchanged content should not commit, got %+v", info)
	}

	history, err := service.History("proj", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length %d, want 1", len(history))
	}
}

func TestHistoryLimit(t *testing.T) {
	service := New(t.TempDir())
	for i := 0; i < 5; i++ {
		content := "# Proj\n\n- v" + string(rune('0'+i)) + "\n"
		if _, err := service.Snapshot("proj", content, "commit"); err != nil {
			t.Fatalf("snapshot %d: %v", i, err)
		}
	}

	history, err := service.History("proj", 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length %d, want 3", len(history))
	}
}

func TestHistoryMissingProject(t *testing.T) {
	service := New(t.TempDir())
	history, err := service.History("never-seen", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %+v", history)
	}
}

func TestContentAt(t *testing.T) {
	service := New(t.TempDir())

	first, err := service.Snapshot("proj", "version one", "v1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := service.Snapshot("proj", "version two", "v2"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// The 7-char prefix returned by Snapshot resolves.
	content, err := service.ContentAt("proj", first.Hash)
	if err != nil {
		t.Fatalf("content at %s: %v", first.Hash, err)
	}
	if content != "version one" {
		t.Fatalf("content = %q", content)
	}
}

func TestContentAtUnknownHash(t *testing.T) {
	service := New(t.TempDir())
	if _, err := service.Snapshot("proj", "x", "c"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := service.ContentAt("proj", "abcdef0"); err == nil {
		t.Fatalf("expected error for unknown hash")
	}
}
