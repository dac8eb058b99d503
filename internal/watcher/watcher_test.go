package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/typserve/internal/logging"
	"github.com/dshills/typserve/internal/vfs"
)

func newTestWatcher(t *testing.T, notify *vfs.NotifyModel) *Watcher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Debounce = 20 * time.Millisecond

	w, err := New(notify, cfg, logging.Discard())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestWatcherAppliesWrite(t *testing.T) {
	dir := t.TempDir()
	notify := vfs.NewNotifyModel()
	w := newTestWatcher(t, notify)

	if err := w.Watch(dir); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	path := filepath.Join(dir, "doc.typ")
	if err := os.WriteFile(path, []byte("= External\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	ok := waitFor(t, 3*time.Second, func() bool {
		src, err := notify.Content(path)
		return err == nil && src.Text() == "= External\n"
	})
	if !ok {
		t.Fatal("notify model never observed the write")
	}

	src, err := notify.Content(path)
	if err != nil {
		t.Fatalf("Content failed: %v", err)
	}
	if src.Layer() != vfs.LayerNotify {
		t.Errorf("layer: got %v, want notify", src.Layer())
	}
	if src.Tick() == 0 {
		t.Error("applied event should carry a nonzero tick")
	}
}

func TestWatcherAppliesRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.typ")
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	notify := vfs.NewNotifyModel()
	w := newTestWatcher(t, notify)
	if err := w.Watch(dir); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	ok := waitFor(t, 3*time.Second, func() bool {
		_, err := notify.Content(path)
		return err == vfs.ErrRemoved
	})
	if !ok {
		t.Fatal("notify model never observed the remove")
	}
}

func TestWatcherIgnoresUnwantedExtensions(t *testing.T) {
	dir := t.TempDir()
	notify := vfs.NewNotifyModel()
	w := newTestWatcher(t, notify)
	if err := w.Watch(dir); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	other := filepath.Join(dir, "notes.txt")
	wanted := filepath.Join(dir, "doc.typ")
	if err := os.WriteFile(other, []byte("ignored"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.WriteFile(wanted, []byte("watched"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		_, err := notify.Content(wanted)
		return err == nil
	})

	if _, err := notify.Content(other); err == nil {
		t.Error("non-markup file should not reach the notify model")
	}
}

func TestWatcherClose(t *testing.T) {
	notify := vfs.NewNotifyModel()
	cfg := DefaultConfig()
	w, err := New(notify, cfg, logging.Discard())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := w.Watch(t.TempDir()); err != ErrClosed {
		t.Errorf("Watch after close: got %v, want ErrClosed", err)
	}
}

func TestWatchMissingRoot(t *testing.T) {
	w := newTestWatcher(t, vfs.NewNotifyModel())

	if err := w.Watch(filepath.Join(t.TempDir(), "missing")); err != ErrPathNotExist {
		t.Errorf("error: got %v, want ErrPathNotExist", err)
	}
}

func TestIgnorePatterns(t *testing.T) {
	cfg := DefaultConfig()
	w := &Watcher{config: cfg}

	tests := []struct {
		path string
		want bool
	}{
		{"/ws/.git/config", true},
		{"/ws/doc.typ", false},
		{"/ws/tmp/scratch.tmp", true},
		{"/ws/sub/chapter.typ", false},
	}

	for _, tt := range tests {
		if got := w.ignored(tt.path); got != tt.want {
			t.Errorf("ignored(%q): got %v, want %v", tt.path, got, tt.want)
		}
	}
}
