package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName("cave"))
	in := FogSnapshotV1{
		Header:   Header{SceneID: "cave", SessionID: "s1", RequestID: 7, SavedAt: "2026-01-02T03:04:05Z"},
		Explored: "AAAAUAAUAAAU",
		Vision:   "",
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Header.Version != Version || out.Header.SceneID != "cave" || out.Header.RequestID != 7 {
		t.Fatalf("header: %+v", out.Header)
	}
	if out.Explored != in.Explored || out.Vision != in.Vision {
		t.Fatalf("body: %+v", out)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.SessionID != "s1" || h.SavedAt != in.Header.SavedAt {
		t.Fatalf("ReadHeader: %+v", h)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %d entries", len(entries))
	}
}

func TestSnapshot_ReadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.fog.zst")
	if err := os.WriteFile(path, []byte("not zstd"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected error")
	}
}
