package tasks

import (
	"brain/internal/config"
	"brain/internal/logging"
	"brain/internal/types"
	"brain/internal/usage"
)

// Env carries every shared handle a task handler needs. One Env is built at
// startup and passed explicitly; there are no package-level singletons.
type Env struct {
	Cfg      *config.Config
	Graph    types.GraphStore
	Vectors  types.VectorStore
	Docs     types.DocStore
	Cache    types.Cache
	Queue    Queue
	LLM      types.LLMClient
	Embedder types.Embedder
	Chunker  types.Chunker
	Metrics  *Metrics
	Usage    *usage.Tracker
}

// Model returns the configured chat-model name, used as the usage-ledger
// model dimension.
func (e *Env) Model() string {
	if e.Cfg == nil {
		return ""
	}
	return e.Cfg.LLM.Model
}

// Close releases the Env's store handles. Safe to call with nil fields.
func (e *Env) Close() {
	if e.Usage != nil {
		if err := e.Usage.Save(); err != nil {
			logging.TasksError("Close: usage ledger not flushed: %v", err)
		}
	}
	for _, c := range []interface{ Close() error }{e.Graph, e.Vectors, e.Docs, e.Cache, e.Queue} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			logging.TasksError("Close: %v", err)
		}
	}
}
