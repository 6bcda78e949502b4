package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pilot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "s1", "find cats", "https://a.test"))
	require.NoError(t, s.UpdateSessionStatus(ctx, "s1", "running"))
	require.NoError(t, s.UpdateSessionStatus(ctx, "s1", "completed"))

	// duplicate id is a hard error
	assert.Error(t, s.CreateSession(ctx, "s1", "again", "https://a.test"))
}

func TestRecentStepsWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "s1", "t", "u"))

	for i := 1; i <= 8; i++ {
		require.NoError(t, s.RecordStep(ctx, StepRecord{
			SessionID:  "s1",
			StepNumber: i,
			Phase:      "ACT",
			ActionType: "SCROLL",
			ActionData: `{"type":"SCROLL"}`,
		}))
	}
	// observation-only row without an action must not appear in history
	require.NoError(t, s.RecordStep(ctx, StepRecord{
		SessionID:  "s1",
		StepNumber: 9,
		Phase:      "OBSERVE",
	}))

	entries, err := s.RecentSteps(ctx, "s1", 5)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, 4, entries[0].StepNumber, "oldest of the window comes first")
	assert.Equal(t, 8, entries[len(entries)-1].StepNumber)
}

func TestRecentStepsKeepsErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "s1", "t", "u"))
	require.NoError(t, s.RecordStep(ctx, StepRecord{
		SessionID:  "s1",
		StepNumber: 1,
		Phase:      "ACT",
		ActionType: "DOM_CLICK",
		Error:      "element not found",
	}))

	entries, err := s.RecentSteps(ctx, "s1", 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "element not found", entries[0].Error)
}

func TestRecentStepsIsolatedPerSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "s1", "t", "u"))
	require.NoError(t, s.CreateSession(ctx, "s2", "t", "u"))
	require.NoError(t, s.RecordStep(ctx, StepRecord{SessionID: "s1", StepNumber: 1, Phase: "ACT", ActionType: "WAIT"}))

	entries, err := s.RecentSteps(ctx, "s2", 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecordArtifact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "s1", "t", "u"))
	assert.NoError(t, s.RecordArtifact(ctx, "s1", 3, "/artifacts/s1/step-0003.png", "screenshot"))
}
