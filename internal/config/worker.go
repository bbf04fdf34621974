package config

import "time"

// WorkerConfig configures the task runtime.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines draining the queue.
	Concurrency int `yaml:"concurrency"`
	// MaxTasksPerChild recycles a worker after this many jobs to cap memory
	// growth.
	MaxTasksPerChild int `yaml:"max_tasks_per_child"`
	// TaskRetention controls how long task-status entries live in the cache.
	TaskRetention string `yaml:"task_retention"`
	// AgentTimeout is the wall-clock deadline for one agent invocation.
	AgentTimeout string `yaml:"agent_timeout"`
	// MetricsAddr exposes Prometheus metrics when non-empty (e.g. ":9090").
	MetricsAddr string `yaml:"metrics_addr"`
	// RequeueAfter bounds how long a job may sit in the processing list
	// before a stale-job pass returns it to the pending queue.
	RequeueAfter string `yaml:"requeue_after"`
}

// DefaultWorkerConfig returns the default task-runtime settings.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:      4,
		MaxTasksPerChild: 50,
		TaskRetention:    "168h", // 7 days
		AgentTimeout:     "120s",
		RequeueAfter:     "10m",
	}
}

// TaskRetentionDuration returns the parsed task-status retention window.
func (c WorkerConfig) TaskRetentionDuration() time.Duration {
	return parseDuration(c.TaskRetention, 7*24*time.Hour)
}

// AgentTimeoutDuration returns the parsed per-agent deadline.
func (c WorkerConfig) AgentTimeoutDuration() time.Duration {
	return parseDuration(c.AgentTimeout, 120*time.Second)
}

// RequeueAfterDuration returns the parsed stale-job requeue window.
func (c WorkerConfig) RequeueAfterDuration() time.Duration {
	return parseDuration(c.RequeueAfter, 10*time.Minute)
}

// IngestionConfig tunes the agent pipeline and the ingestion manager.
type IngestionConfig struct {
	// ChunkMaxRunes bounds one text chunk fed to the Scout.
	ChunkMaxRunes int `yaml:"chunk_max_runes"`
	// ChunkOverlap carries trailing context between adjacent chunks.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// EdgeDedupeThreshold is the cosine similarity above which a new edge
	// between the same endpoints is considered a duplicate.
	EdgeDedupeThreshold float64 `yaml:"edge_dedupe_threshold"`
	// ArchitectMaxIterations bounds the single-shot Architect loop.
	ArchitectMaxIterations int `yaml:"architect_max_iterations"`
	// ToolRecursionCap is the hard cap on tool dispatches in one Architect run.
	ToolRecursionCap int `yaml:"tool_recursion_cap"`
	// HistoryLimit and HistoryDrop bound agent message history: when the
	// history exceeds HistoryLimit messages, the oldest HistoryDrop are
	// pruned.
	HistoryLimit int `yaml:"history_limit"`
	HistoryDrop  int `yaml:"history_drop"`
	// BatchSize splits the Architect output into per-task relationship
	// batches for fan-out.
	BatchSize int `yaml:"batch_size"`
}

// DefaultIngestionConfig returns the default pipeline tuning.
func DefaultIngestionConfig() IngestionConfig {
	return IngestionConfig{
		ChunkMaxRunes:          2000,
		ChunkOverlap:           200,
		EdgeDedupeThreshold:    0.90,
		ArchitectMaxIterations: 3,
		ToolRecursionCap:       100,
		HistoryLimit:           25,
		HistoryDrop:            8,
		BatchSize:              10,
	}
}

// ConsolidationConfig tunes the post-batch graph consolidation pass.
type ConsolidationConfig struct {
	// Enabled gates the whole consolidation phase. When false the session
	// counter is left to expire and no consolidation task runs.
	Enabled bool `yaml:"enabled"`
	// BatchSize splits the session relationship set for the Consolidator.
	BatchSize int `yaml:"batch_size"`
	// SimilarityThreshold widens the 2-hop neighborhood snapshot with
	// vector-similar nodes.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// NodeMatchThreshold is the name-embedding cosine above which two nodes
	// with intersecting label sets may be co-referenced.
	NodeMatchThreshold float64 `yaml:"node_match_threshold"`
}

// DefaultConsolidationConfig returns the default consolidation settings.
func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		Enabled:             true,
		BatchSize:           20,
		SimilarityThreshold: 0.35,
		NodeMatchThreshold:  0.90,
	}
}
