package usage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brain/internal/types"
)

func TestTrackerRecordAggregatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	tracker, err := NewTracker(dir)
	require.NoError(t, err)

	d := FromUsage(types.UsageMetadata{InputTokens: 10, OutputTokens: 5, CachedContentTokens: 4})
	tracker.Record("b1", AgentScout, "gemini-2.0-flash", d)
	tracker.Record("b1", AgentArchitect, "gemini-2.0-flash", d)
	tracker.Record("b2", AgentScout, "gemini-2.0-flash", d)

	snap := tracker.Snapshot()
	assert.Equal(t, int64(45), snap.Total.GrandTotal)
	assert.Equal(t, int64(30), snap.ByAgent[AgentScout].GrandTotal)
	assert.Equal(t, int64(15), snap.ByAgent[AgentArchitect].GrandTotal)
	assert.Equal(t, int64(30), snap.ByBrain["b1"].GrandTotal)
	assert.Equal(t, int64(45), snap.ByModel["gemini-2.0-flash"].GrandTotal)
	// Cached input is discounted from the effective count.
	assert.Equal(t, int64(33), snap.Total.EffectiveTotal)

	require.NoError(t, tracker.Save())

	data, err := os.ReadFile(filepath.Join(dir, "usage.json"))
	require.NoError(t, err)
	var persisted Ledger
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, int64(45), persisted.Total.GrandTotal)

	// A fresh tracker reloads the ledger and keeps accumulating.
	reopened, err := NewTracker(dir)
	require.NoError(t, err)
	reopened.Record("b1", AgentScout, "gemini-2.0-flash", d)
	assert.Equal(t, int64(60), reopened.Snapshot().Total.GrandTotal)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	tracker, err := NewTracker(t.TempDir())
	require.NoError(t, err)
	tracker.Record("b1", AgentScout, "gemini-2.0-flash", FromUsage(types.UsageMetadata{InputTokens: 10}))

	before := tracker.Snapshot()
	tracker.Record("b1", AgentScout, "gemini-2.0-flash", FromUsage(types.UsageMetadata{InputTokens: 10}))
	after := tracker.Snapshot()

	if diff := cmp.Diff(before, after); diff == "" {
		t.Fatal("snapshot shares state with the live ledger")
	}
	assert.Equal(t, int64(10), before.Total.GrandTotal)
	assert.Equal(t, int64(20), after.Total.GrandTotal)
}

func TestTrackerZeroUsageIsIgnored(t *testing.T) {
	tracker, err := NewTracker(t.TempDir())
	require.NoError(t, err)

	tracker.Record("b1", AgentJanitor, "gemini-2.0-flash", Zero())
	snap := tracker.Snapshot()
	assert.Zero(t, snap.Total.GrandTotal)
	assert.Empty(t, snap.ByAgent)
}

func TestTrackerCorruptLedgerIsReplaced(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "usage.json"), []byte("{not json"), 0644))

	tracker, err := NewTracker(dir)
	require.NoError(t, err)
	assert.Zero(t, tracker.Snapshot().Total.GrandTotal)
}

func TestNilTrackerIsSafe(t *testing.T) {
	var tracker *Tracker
	tracker.Record("b1", AgentScout, "m", FromUsage(types.UsageMetadata{InputTokens: 1}))
}
