package mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

type fakeUploader struct {
	mu       sync.Mutex
	keys     []string
	failures int
}

func (f *fakeUploader) Upload(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("boom")
	}
	f.keys = append(f.keys, key)
	return nil
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newTestMirror(up Uploader, base string) *Mirror {
	m := New(up, Options{BaseDir: base, Prefix: "/fog/", Workers: 2})
	m.backoff = func(int) time.Duration { return time.Millisecond }
	return m
}

func TestMirror_UploadsUnderPrefix(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "cave.fog.zst")
	b := filepath.Join(base, "deep", "mine.fog.zst")
	touch(t, a)
	touch(t, b)

	up := &fakeUploader{}
	m := newTestMirror(up, base)
	m.Enqueue(a)
	m.Enqueue(b)
	m.Close()

	sort.Strings(up.keys)
	if len(up.keys) != 2 || up.keys[0] != "fog/cave.fog.zst" || up.keys[1] != "fog/deep/mine.fog.zst" {
		t.Fatalf("keys: %v", up.keys)
	}
	if st := m.Stats(); st.UploadedTotal != 2 || st.EnqueuedTotal != 2 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestMirror_RetriesThenGivesUp(t *testing.T) {
	base := t.TempDir()
	p := filepath.Join(base, "cave.fog.zst")
	touch(t, p)

	up := &fakeUploader{failures: 2}
	m := newTestMirror(up, base)
	m.Enqueue(p)
	m.Close()
	if len(up.keys) != 1 {
		t.Fatalf("expected success after retries: %v", up.keys)
	}

	up = &fakeUploader{failures: 10}
	m = newTestMirror(up, base)
	m.Enqueue(p)
	m.Close()
	if st := m.Stats(); st.FailedTotal != 1 || st.LastErrorUnix == 0 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestMirror_SkipsPathsOutsideBase(t *testing.T) {
	base := t.TempDir()
	outside := filepath.Join(t.TempDir(), "other.fog.zst")
	touch(t, outside)

	up := &fakeUploader{}
	m := newTestMirror(up, base)
	m.Enqueue(outside)
	m.Enqueue(filepath.Join(base, "missing.fog.zst"))
	m.Close()
	if len(up.keys) != 0 || m.Stats().FailedTotal != 2 {
		t.Fatalf("keys=%v stats=%+v", up.keys, m.Stats())
	}
}

func TestNewS3_Validates(t *testing.T) {
	if _, err := NewS3(S3Options{Bucket: "fog"}); err == nil {
		t.Fatalf("missing endpoint should fail")
	}
	s, err := NewS3(S3Options{Endpoint: "https://objects.example.com/", Bucket: "fog"})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	if s.bucket != "fog" || s.client.EndpointURL().Scheme != "https" {
		t.Fatalf("client: %+v", s.client.EndpointURL())
	}
}
