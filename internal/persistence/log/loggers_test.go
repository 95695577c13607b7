package log

import (
	"path/filepath"
	"testing"
	"time"
)

func TestEventLogger_WritesAndRotates(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	if err := l.WriteEvent(EventEntry{Scene: "cave", Channel: "vision", ID: 1, Polygons: 2, Area: 12.5}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := l.WriteEvent(EventEntry{Scene: "cave", Channel: "explored", ID: 1, Polygons: 1, Area: 4}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := l.WriteEvent(EventEntry{Scene: "cave", Channel: "vision", ID: 2}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	first, err := ReadEvents(filepath.Join(dir, "events-2026-03-01-10.jsonl.zst"))
	if err != nil {
		t.Fatalf("read first hour: %v", err)
	}
	if len(first) != 2 || first[0].Area != 12.5 || first[1].Channel != "explored" {
		t.Fatalf("first hour: %+v", first)
	}
	if first[0].Time == "" {
		t.Fatalf("time not stamped")
	}
	second, err := ReadEvents(filepath.Join(dir, "events-2026-03-01-11.jsonl.zst"))
	if err != nil {
		t.Fatalf("read second hour: %v", err)
	}
	if len(second) != 1 || second[0].ID != 2 {
		t.Fatalf("second hour: %+v", second)
	}
}
