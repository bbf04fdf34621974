package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"brain/internal/logging"
	"brain/internal/types"
)

// Status is the lifecycle state exposed to pollers.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StatusEntry is the JSON stored at cache key task:{id}. It is the sole
// source of truth for clients polling for completion.
type StatusEntry struct {
	Status  Status      `json:"status"`
	TaskID  string      `json:"task_id"`
	Error   string      `json:"error,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// statusKey builds the cache key for one task.
func statusKey(taskID string) string {
	return "task:" + taskID
}

// StatusWriter persists task-status entries with the configured retention.
type StatusWriter struct {
	cache     types.Cache
	retention time.Duration
}

// NewStatusWriter creates a writer with a 7-day default retention.
func NewStatusWriter(cache types.Cache, retention time.Duration) *StatusWriter {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &StatusWriter{cache: cache, retention: retention}
}

// Write records the task's state. Status writes are best-effort for the
// job itself but logged loudly: a lost write only degrades polling.
func (w *StatusWriter) Write(ctx context.Context, brain, taskID string, status Status, taskErr error, payload interface{}) error {
	entry := StatusEntry{Status: status, TaskID: taskID, Payload: payload}
	if taskErr != nil {
		entry.Error = taskErr.Error()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal status for %s: %w", taskID, err)
	}
	if err := w.cache.Set(ctx, brain, statusKey(taskID), string(data), w.retention); err != nil {
		logging.TasksError("Write: status %s for task %s not persisted: %v", status, taskID, err)
		return err
	}
	logging.TasksDebug("Write: task %s -> %s", taskID, status)
	return nil
}

// Read returns the status entry for a task, or nil when none exists.
func (w *StatusWriter) Read(ctx context.Context, brain, taskID string) (*StatusEntry, error) {
	raw, ok, err := w.cache.Get(ctx, brain, statusKey(taskID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var entry StatusEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("corrupt status entry for %s: %w", taskID, err)
	}
	return &entry, nil
}

// List returns all live task keys for a brain. Entries past retention are
// purged lazily by the cache.
func (w *StatusWriter) List(ctx context.Context, brain string) ([]string, error) {
	return w.cache.GetTaskKeys(ctx, brain)
}
