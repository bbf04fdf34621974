// Package watch feeds a drop directory into the ingestion queue: files
// dropped into the directory are debounced, converted to text, and enqueued
// as ingest_data tasks.
package watch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"brain/internal/logging"
	"brain/internal/tasks"
)

// processedDir is where handled files are moved, relative to the drop dir.
const processedDir = "processed"

// DropWatcher watches one directory and enqueues a task per settled file.
type DropWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	queue       tasks.Queue
	brain       string
	dir         string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewDropWatcher creates a watcher for dir, enqueueing into queue under the
// given brain.
func NewDropWatcher(dir, brain string, queue tasks.Queue) (*DropWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &DropWatcher{
		watcher:     fsw,
		queue:       queue,
		brain:       brain,
		dir:         dir,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine
// until Stop or ctx cancellation.
func (w *DropWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(w.dir, processedDir), 0755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	logging.Watch("Start: watching %s for brain %s", w.dir, w.brain)

	// Files already sitting in the directory are picked up on start.
	if entries, err := os.ReadDir(w.dir); err == nil {
		w.mu.Lock()
		for _, e := range entries {
			if !e.IsDir() && ingestible(e.Name()) {
				w.debounceMap[filepath.Join(w.dir, e.Name())] = time.Now()
			}
		}
		w.mu.Unlock()
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *DropWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		logging.WatchError("Stop: %v", err)
	}
	logging.Watch("Stop: watcher for %s stopped", w.dir)
}

// ingestible reports whether the file extension is one the watcher handles.
func ingestible(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".html", ".htm", ".json":
		return true
	}
	return false
}

func (w *DropWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WatchError("run: %v", err)
		case <-ticker.C:
			w.processSettled(ctx)
		}
	}
}

// handleEvent records create/write events for debounced processing. Editors
// and copies produce bursts of writes; only the settled file is read.
func (w *DropWatcher) handleEvent(event fsnotify.Event) {
	if !ingestible(event.Name) {
		return
	}
	if filepath.Dir(event.Name) != filepath.Clean(w.dir) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	logging.WatchDebug("handleEvent: %s %s", event.Op, event.Name)
	w.mu.Lock()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// processSettled ingests files whose last event is older than the debounce
// window.
func (w *DropWatcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, last := range w.debounceMap {
		if now.Sub(last) >= w.debounceDur {
			ready = append(ready, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		if err := w.ingestFile(ctx, path); err != nil {
			logging.WatchError("processSettled: %s: %v", path, err)
		}
	}
}

// ingestFile converts one file to an ingest_data task and moves it to the
// processed directory so it is never enqueued twice.
func (w *DropWatcher) ingestFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // deleted before it settled
		}
		return err
	}

	input := tasks.IngestInput{DataType: "text"}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		input.TextData = ExtractText(string(data))
	case ".json":
		var parsed map[string]interface{}
		if err := json.Unmarshal(data, &parsed); err == nil {
			input.DataType = "json"
			input.JSONData = parsed
		} else {
			input.TextData = string(data)
		}
	default:
		input.TextData = string(data)
	}
	if input.DataType == "text" && strings.TrimSpace(input.TextData) == "" {
		logging.Watch("ingestFile: %s is empty, skipping", path)
		return w.archive(path)
	}

	task, err := tasks.NewTask(tasks.TypeIngestData, w.brain, &tasks.IngestDataPayload{
		Data:     input,
		MetaKeys: map[string]interface{}{"source": "watch", "file": filepath.Base(path)},
	})
	if err != nil {
		return err
	}
	if err := w.queue.Enqueue(ctx, task); err != nil {
		return err
	}
	logging.Watch("ingestFile: %s enqueued as task %s", filepath.Base(path), task.ID)
	return w.archive(path)
}

func (w *DropWatcher) archive(path string) error {
	dest := filepath.Join(w.dir, processedDir, filepath.Base(path))
	return os.Rename(path, dest)
}
