package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"attache/internal/dispatch"
)

// debounceDelay is how long a file must stay quiet after its last write
// before it is analyzed. Editors and downloads write in bursts.
const debounceDelay = 500 * time.Millisecond

// Watcher observes a flat drop directory and runs every stabilized file
// through the upload analysis path, recording the outcome in the active
// conversation.
type Watcher struct {
	dir    string
	facade *dispatch.Facade

	mu     sync.Mutex
	timers map[string]*time.Timer
	ready  chan string
}

// New creates a watcher for dir. The directory is created on Run if missing.
func New(dir string, facade *dispatch.Facade) *Watcher {
	return &Watcher{
		dir:    dir,
		facade: facade,
		timers: make(map[string]*time.Timer),
		ready:  make(chan string, 16),
	}
}

// Run watches until ctx is canceled. Create and write events are debounced
// per path; a file is processed once it has been quiet for debounceDelay.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create drop directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	log.Printf("Watching drop folder %s", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.cancelTimers()
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(event.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch error: %v", err)

		case path := <-w.ready:
			w.process(ctx, path)
		}
	}
}

// schedule resets the debounce timer for a path.
func (w *Watcher) schedule(path string) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Reset(debounceDelay)
		return
	}
	w.timers[path] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case w.ready <- path:
		default:
			log.Printf("drop queue full, skipping %s", path)
		}
	})
}

func (w *Watcher) cancelTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		log.Printf("failed to read dropped file %s: %v", path, err)
		return
	}

	filename := filepath.Base(path)
	resp, err := w.facade.Upload(ctx, filename, content)
	if err != nil {
		log.Printf("failed to analyze dropped file %s: %v", path, err)
		return
	}

	if err := w.facade.RecordFileAnalysis(ctx, filename, resp); err != nil {
		log.Printf("failed to record analysis of %s: %v", path, err)
		return
	}

	if resp.Success {
		log.Printf("Analyzed dropped file %s (%s)", filename, resp.Kind)
	} else {
		log.Printf("Dropped file %s was not analyzable: %s", filename, resp.Error)
	}
}
