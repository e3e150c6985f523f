package importer

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is how long a file must stay quiet after its last write event
// before the watcher imports it. Editors and sync tools write notes in
// several bursts.
const settleDelay = 250 * time.Millisecond

// Watcher imports note files dropped into a directory as they appear.
// Re-dropping an unchanged note is harmless: the engine's dedup hash turns
// it into a no-op.
type Watcher struct {
	evolver Evolver
	dir     string

	// mu protects pending.
	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a drop-directory watcher feeding the given engine.
func NewWatcher(evolver Evolver, dir string) *Watcher {
	return &Watcher{
		evolver: evolver,
		dir:     dir,
		pending: make(map[string]*time.Timer),
	}
}

// Run watches the directory until ctx is cancelled. Files already present at
// startup are imported first, so notes dropped while the daemon was down are
// not lost.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	w.importExisting(ctx)

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isNoteFile(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("import: watcher error: %v", err)
		}
	}
}

// schedule (re)arms the settle timer for a path; the import runs once the
// write bursts stop.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(settleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.process(ctx, path)
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

// importExisting processes note files already sitting in the drop directory.
func (w *Watcher) importExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Printf("import: reading %s: %v", w.dir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isNoteFile(entry.Name()) {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("import: read %s: %v", path, err)
		return
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return
	}

	rel := filepath.Base(path)
	note, err := ParseNote(data, path, rel)
	if err != nil {
		log.Printf("import: parse %s: %v", rel, err)
		return
	}

	result, err := w.evolver.Evolve(ctx, engineRequest(note))
	if err != nil {
		log.Printf("import: evolve %s: %v", rel, err)
		return
	}
	if result.Deduplicated {
		log.Printf("import: %s already ingested", rel)
		return
	}
	log.Printf("import: %s ingested as %s", rel, result.InteractionID)
}

func isNoteFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}
