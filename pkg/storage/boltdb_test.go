package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/tapeline/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetRun(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2026, 10, 17, 2, 0, 0, 0, time.UTC)

	run := &types.RunSummary{
		RunID:      "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(time.Hour),
		Degraded:   true,
		Jobs: []types.JobOutcome{
			{Host: "db1", Disk: "/var", Level: 1, Status: types.OutcomeDone, Size: 4096, Label: "DAILY-01", FileNum: 3},
			{Host: "web1", Disk: "/", Level: 0, Status: types.OutcomeUnflushed, Holdings: []string{"/hold/run-1/web1._.0"}},
			{Host: "app1", Disk: "/srv", Status: types.OutcomeStalled, Reason: "no such disk"},
		},
	}
	require.NoError(t, s.SaveRun(run))

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.True(t, got.Degraded)
	assert.True(t, got.StartedAt.Equal(start))
	require.Len(t, got.Jobs, 3)
	assert.Equal(t, run.Jobs, got.Jobs, "outcomes keep their order")
	assert.Equal(t, 1, got.Count(types.OutcomeDone))

	// saving again replaces the outcomes
	run.Jobs = run.Jobs[:1]
	require.NoError(t, s.SaveRun(run))
	got, err = s.GetRun("run-1")
	require.NoError(t, err)
	assert.Len(t, got.Jobs, 1)

	_, err = s.GetRun("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	assert.Error(t, s.SaveRun(&types.RunSummary{}))
}

func TestListAndDeleteRuns(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 10, 1, 2, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveRun(&types.RunSummary{
			RunID:     id,
			StartedAt: base.AddDate(0, 0, i),
			Jobs:      []types.JobOutcome{{Host: "h", Disk: "d", Status: types.OutcomeDone}},
		}))
	}

	runs, err := s.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].RunID, "newest first")
	assert.Empty(t, runs[0].Jobs, "headers only")

	require.NoError(t, s.DeleteRun("b"))
	assert.ErrorIs(t, s.DeleteRun("b"), ErrRunNotFound)
	runs, err = s.ListRuns()
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
