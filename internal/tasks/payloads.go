// Package tasks is the distributed task runtime: a durable queue, a worker
// pool, per-session fan-out/fan-in, and the cache-backed task-status
// surface that clients poll.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"brain/internal/types"
)

// Type names a job kind on the queue.
type Type string

const (
	TypeIngestData            Type = "ingest_data"
	TypeIngestStructuredData  Type = "ingest_structured_data"
	TypeProcessRelationships  Type = "process_architect_relationships"
	TypeConsolidateGraphAsync Type = "consolidate_graph_async"
)

// Task is one queued job. Payload is the type-specific body.
type Task struct {
	ID         string          `json:"task_id" validate:"required"`
	Type       Type            `json:"type" validate:"required,oneof=ingest_data ingest_structured_data process_architect_relationships consolidate_graph_async"`
	Brain      string          `json:"brain_id" validate:"required"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Retries    int             `json:"retries,omitempty"`
}

// IngestInput is the data block of an ingest_data payload.
type IngestInput struct {
	DataType string                 `json:"data_type" validate:"required,oneof=text json"`
	TextData string                 `json:"text_data,omitempty"`
	JSONData map[string]interface{} `json:"json_data,omitempty"`
}

// IngestDataPayload is the body of an ingest_data task.
type IngestDataPayload struct {
	Data                 IngestInput            `json:"data" validate:"required"`
	MetaKeys             map[string]interface{} `json:"meta_keys,omitempty"`
	IdentificationParams map[string]interface{} `json:"identification_params,omitempty"`
	ObservateFor         string                 `json:"observate_for,omitempty"`
}

// StructuredRecord is one record of an ingest_structured_data payload.
type StructuredRecord struct {
	JSONData             map[string]interface{} `json:"json_data" validate:"required"`
	Types                []string               `json:"types,omitempty"`
	IdentificationParams map[string]interface{} `json:"identification_params,omitempty"`
	TextualData          string                 `json:"textual_data,omitempty"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
}

// IngestStructuredPayload is the body of an ingest_structured_data task.
type IngestStructuredPayload struct {
	Data         []StructuredRecord `json:"data" validate:"required,min=1,dive"`
	ObservateFor string             `json:"observate_for,omitempty"`
}

// ProcessRelationshipsPayload is the body of one fan-out child task.
type ProcessRelationshipsPayload struct {
	SessionID     string                         `json:"session_id" validate:"required"`
	Relationships []*types.ArchitectRelationship `json:"relationships" validate:"required,min=1"`
}

// ConsolidatePayload is the body of the fan-in consolidation task.
type ConsolidatePayload struct {
	SessionID string `json:"session_id" validate:"required"`
}

var validate = validator.New()

// NewTask builds a task with a fresh id and a marshaled payload.
func NewTask(taskType Type, brain string, payload interface{}) (*Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	task := &Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Brain:      brain,
		Payload:    body,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := Validate(task); err != nil {
		return nil, err
	}
	return task, nil
}

// Validate checks the task envelope and its type-specific payload. It runs
// at enqueue and again on dequeue, so a malformed job never reaches a
// handler.
func Validate(task *Task) error {
	if err := validate.Struct(task); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	switch task.Type {
	case TypeIngestData:
		var p IngestDataPayload
		return decodeAndValidate(task, &p)
	case TypeIngestStructuredData:
		var p IngestStructuredPayload
		return decodeAndValidate(task, &p)
	case TypeProcessRelationships:
		var p ProcessRelationshipsPayload
		return decodeAndValidate(task, &p)
	case TypeConsolidateGraphAsync:
		var p ConsolidatePayload
		return decodeAndValidate(task, &p)
	}
	return fmt.Errorf("unknown task type %q", task.Type)
}

func decodeAndValidate(task *Task, dst interface{}) error {
	if err := json.Unmarshal(task.Payload, dst); err != nil {
		return fmt.Errorf("malformed %s payload: %w", task.Type, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid %s payload: %w", task.Type, err)
	}
	return nil
}

// DecodePayload unmarshals the task body into dst.
func (t *Task) DecodePayload(dst interface{}) error {
	return json.Unmarshal(t.Payload, dst)
}
