// Package watcher detects external edits to the project tree.
//
// A Detector keeps a snapshot of the tree (path, modification time, size)
// refreshed by a background poller and nudged by fsnotify events. Snapshots
// are immutable once published: the refresh goroutine builds a complete new
// snapshot and swaps it in under the lock, so readers never observe a
// partial update. Before each directive, the agent loop consumes the diff
// between the last-consumed baseline and the current snapshot as a compact
// path-level note; consuming advances the baseline.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/georgesalapa/micro-cc/logging"
)

// ignoredNames are directory or file names excluded from snapshots.
var ignoredNames = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".idea":        true,
	".vscode":      true,
	".venv":        true,
	"venv":         true,
	"node_modules": true,
	"__pycache__":  true,
	".micro-cc":    true,
	".DS_Store":    true,
}

func ignored(name string) bool {
	return ignoredNames[name] || strings.HasSuffix(name, ".swp") || strings.HasSuffix(name, ".swo")
}

// FileInfo is the snapshot entry for one file.
type FileInfo struct {
	ModTime time.Time
	Size    int64
}

// Snapshot maps relative file paths to their metadata. A published snapshot
// is never mutated.
type Snapshot map[string]FileInfo

// Diff is the path-level difference between two snapshots.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Empty reports whether the diff contains no changes.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Note renders the diff as a compact context note. Paths only, never file
// contents, so the note's size stays bounded by the number of changed files.
func (d Diff) Note() string {
	if d.Empty() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<file-changes>\n")
	for _, p := range d.Added {
		sb.WriteString("  added: " + p + "\n")
	}
	for _, p := range d.Modified {
		sb.WriteString("  modified: " + p + "\n")
	}
	for _, p := range d.Removed {
		sb.WriteString("  removed: " + p + "\n")
	}
	sb.WriteString("</file-changes>")
	return sb.String()
}

// diffSnapshots computes the sorted path-level diff from old to new.
func diffSnapshots(old, new Snapshot) Diff {
	var d Diff
	for path, info := range new {
		prev, ok := old[path]
		switch {
		case !ok:
			d.Added = append(d.Added, path)
		case !prev.ModTime.Equal(info.ModTime) || prev.Size != info.Size:
			d.Modified = append(d.Modified, path)
		}
	}
	for path := range old {
		if _, ok := new[path]; !ok {
			d.Removed = append(d.Removed, path)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Modified)
	return d
}

// Scan walks the project tree and builds a fresh snapshot.
func Scan(projectDir string) Snapshot {
	snap := make(Snapshot)
	_ = filepath.WalkDir(projectDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are simply absent from the snapshot
		}
		name := entry.Name()
		if entry.IsDir() {
			if path != projectDir && ignored(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignored(name) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(projectDir, path)
		if err != nil {
			rel = path
		}
		snap[rel] = FileInfo{ModTime: info.ModTime(), Size: info.Size()}
		return nil
	})
	return snap
}

// Detector watches one project directory. Instances are independent: two
// detectors on different directories share no state.
type Detector struct {
	projectDir string
	interval   time.Duration

	mu       sync.Mutex
	current  Snapshot
	baseline Snapshot

	fsw  *fsnotify.Watcher
	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Detector.
type Option func(*Detector)

// WithInterval overrides the poll interval (default 2s).
func WithInterval(interval time.Duration) Option {
	return func(d *Detector) {
		d.interval = interval
	}
}

// New creates a Detector for the given project directory.
func New(projectDir string, opts ...Option) *Detector {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		abs = projectDir
	}
	d := &Detector{
		projectDir: abs,
		interval:   2 * time.Second,
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ProjectDir returns the absolute directory being watched.
func (d *Detector) ProjectDir() string {
	return d.projectDir
}

// Start takes the initial snapshot (which becomes the first consumed
// baseline) and launches the refresh goroutine. fsnotify is best-effort: if
// the platform watcher cannot be created the poller alone keeps the
// snapshot fresh.
func (d *Detector) Start(ctx context.Context) error {
	initial := Scan(d.projectDir)
	d.mu.Lock()
	d.current = initial
	d.baseline = initial
	d.mu.Unlock()

	ctx = logging.WithComponent(ctx, "watcher")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn(ctx, "fsnotify unavailable, falling back to polling only", "error", err.Error())
	} else {
		d.fsw = fsw
		d.addWatchesRecursive(ctx, d.projectDir)
	}

	d.wg.Add(1)
	go d.run(ctx)
	return nil
}

// addWatchesRecursive registers fsnotify watches on the directory tree.
func (d *Detector) addWatchesRecursive(ctx context.Context, root string) {
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() {
			return nil
		}
		if path != root && ignored(entry.Name()) {
			return filepath.SkipDir
		}
		if werr := d.fsw.Add(path); werr != nil {
			logging.Debug(ctx, "watch add failed", "path", path, "error", werr.Error())
		}
		return nil
	})
}

func (d *Detector) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if d.fsw != nil {
		events = d.fsw.Events
		errs = d.fsw.Errors
	}

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.refresh()
		case <-d.kick:
			d.refresh()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// A created directory needs its own watch before events inside
			// it can arrive.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !ignored(filepath.Base(ev.Name)) {
					d.addWatchesRecursive(ctx, ev.Name)
				}
			}
			d.refresh()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logging.Debug(ctx, "watch error", "error", err.Error())
		}
	}
}

// refresh builds a complete new snapshot and publishes it.
func (d *Detector) refresh() {
	snap := Scan(d.projectDir)
	d.mu.Lock()
	d.current = snap
	d.mu.Unlock()
}

// Kick requests an immediate refresh without waiting for the poll tick.
func (d *Detector) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Current returns the latest published snapshot.
func (d *Detector) Current() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// ConsumeDiff rescans, computes the diff since the last consumed baseline,
// and advances the baseline. Callers deliver the returned diff exactly once.
func (d *Detector) ConsumeDiff() Diff {
	snap := Scan(d.projectDir)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = snap
	diff := diffSnapshots(d.baseline, snap)
	d.baseline = snap
	return diff
}

// Stop terminates the refresh goroutine and releases the fsnotify watcher.
func (d *Detector) Stop() {
	select {
	case <-d.done:
		return
	default:
	}
	close(d.done)
	d.wg.Wait()
	if d.fsw != nil {
		_ = d.fsw.Close()
	}
}
