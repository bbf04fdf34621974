package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Tracker is the persistent token-usage ledger. Records are merged into the
// in-memory ledger immediately and flushed to disk with a short debounce, so
// a burst of agent calls costs one write.
type Tracker struct {
	mu       sync.Mutex
	ledger   Ledger
	filePath string
	dirty    bool
}

// NewTracker opens (or creates) the ledger at dataDir/usage.json.
func NewTracker(dataDir string) (*Tracker, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	t := &Tracker{
		filePath: filepath.Join(dataDir, "usage.json"),
		ledger:   newLedger(),
	}
	if err := t.load(); err != nil {
		// A corrupt ledger is replaced, not fatal: usage accounting must
		// never block ingestion.
		t.ledger = newLedger()
	}
	return t, nil
}

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &t.ledger); err != nil {
		return err
	}
	t.ledger.ensureMaps()
	return nil
}

// Save flushes the ledger to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	data, err := json.MarshalIndent(&t.ledger, "", "  ")
	if err != nil {
		return err
	}
	t.dirty = false
	return os.WriteFile(t.filePath, data, 0644)
}

// Record merges one agent invocation's usage into the ledger.
func (t *Tracker) Record(brain, agent, model string, d TokenDetail) {
	if t == nil || d.GrandTotal == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ledger.Total = Merge(t.ledger.Total, d)
	t.ledger.ByAgent[agent] = Merge(t.ledger.ByAgent[agent], d)
	t.ledger.ByModel[model] = Merge(t.ledger.ByModel[model], d)
	t.ledger.ByBrain[brain] = Merge(t.ledger.ByBrain[brain], d)

	if !t.dirty {
		t.dirty = true
		time.AfterFunc(5*time.Second, func() { t.Save() })
	}
}

// Snapshot returns a copy of the current ledger.
func (t *Tracker) Snapshot() Ledger {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.ledger
	out.ByAgent = copyDetailMap(t.ledger.ByAgent)
	out.ByModel = copyDetailMap(t.ledger.ByModel)
	out.ByBrain = copyDetailMap(t.ledger.ByBrain)
	return out
}

func copyDetailMap(src map[string]TokenDetail) map[string]TokenDetail {
	dst := make(map[string]TokenDetail, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
