package catalog

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// Watcher polls the catalog directory and triggers a callback when any YAML
// file is added, changed or removed.
type Watcher struct {
	BaseDir   string
	Interval  time.Duration
	onChange  func(path string)
	stopCh    chan struct{}
	lastMTime map[string]time.Time
}

// DefaultWatchInterval replaces a non-positive polling interval.
const DefaultWatchInterval = 2 * time.Second

// NewWatcher creates a watcher for baseDir and interval.
func NewWatcher(baseDir string, interval time.Duration, onChange func(string)) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{
		BaseDir:   baseDir,
		Interval:  interval,
		onChange:  onChange,
		stopCh:    make(chan struct{}),
		lastMTime: make(map[string]time.Time),
	}
}

// Start begins polling in a goroutine.
func (w *Watcher) Start() {
	if w.Interval <= 0 {
		w.Interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(w.Interval)
	// prime cache
	w.scan(true)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.scan(false)
			case <-w.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
}

// scan compares mtimes with the previous pass and reports every difference.
func (w *Watcher) scan(prime bool) {
	seen := make(map[string]time.Time, len(w.lastMTime))
	_ = filepath.WalkDir(w.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		seen[path] = fi.ModTime()
		return nil
	})

	var changed []string
	for p, mt := range seen {
		if last, ok := w.lastMTime[p]; !ok || mt.After(last) {
			changed = append(changed, p)
		}
	}
	for p := range w.lastMTime {
		if _, ok := seen[p]; !ok {
			changed = append(changed, p)
		}
	}
	w.lastMTime = seen

	if prime || w.onChange == nil {
		return
	}
	for _, p := range changed {
		w.onChange(p)
	}
}
