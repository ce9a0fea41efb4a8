package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReportsChanges(t *testing.T) {
	dir := writeTestCatalog(t)
	var changed []string
	w := NewWatcher(dir, time.Hour, func(p string) { changed = append(changed, p) })
	w.scan(true)
	if len(changed) != 0 {
		t.Fatalf("priming must not report changes: %v", changed)
	}

	p := Paths{BaseDir: dir}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(p.CatalogPath(), future, future); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "crates", "Event.yaml"), "luck: 2\n")
	if err := os.Remove(p.CratePath("Premium")); err != nil {
		t.Fatal(err)
	}
	w.scan(false)

	want := map[string]bool{
		p.CatalogPath():        true,
		p.CratePath("Event"):   true,
		p.CratePath("Premium"): true,
	}
	if len(changed) != len(want) {
		t.Fatalf("got %v", changed)
	}
	for _, c := range changed {
		if !want[c] {
			t.Fatalf("unexpected change %q", c)
		}
	}
}

func TestWatcherDefaultsNonPositiveInterval(t *testing.T) {
	dir := writeTestCatalog(t)
	for _, iv := range []time.Duration{0, -time.Second} {
		w := NewWatcher(dir, iv, nil)
		if w.Interval != DefaultWatchInterval {
			t.Fatalf("interval %v became %v, want %v", iv, w.Interval, DefaultWatchInterval)
		}
		w.Start()
		w.Stop()
	}

	w := &Watcher{BaseDir: dir, stopCh: make(chan struct{}), lastMTime: map[string]time.Time{}}
	w.Start()
	w.Stop()
	if w.Interval != DefaultWatchInterval {
		t.Fatalf("zero-value watcher interval = %v", w.Interval)
	}
}
