package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/tapeline/pkg/storage"
	"github.com/cuemby/tapeline/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
holding_disks:
  - path: /dumps/hold1
    capacity: 100MiB
inparallel: 2
dumper_command: ["/usr/libexec/tapeline/dumper"]
taper_command: ["/usr/libexec/tapeline/taper"]
`

const testSchedule = `
# host disk prio level bytes seconds
web1 /var 1 1 10MiB 60
db1  /data 5 0 500MiB 600 degr 1 50MiB
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tapeline.yaml")
	schedPath := filepath.Join(dir, "schedule")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0644))
	require.NoError(t, os.WriteFile(schedPath, []byte(testSchedule), 0644))

	out, err := execute(t, "validate", "--config", cfgPath, "--schedule", schedPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Schedule OK: 2 jobs")

	db := bytes.Index([]byte(out), []byte("db1"))
	web := bytes.Index([]byte(out), []byte("web1"))
	assert.True(t, db >= 0 && web > db, "higher priority listed first")
	assert.Contains(t, out, "direct (degr lev 1)")
}

func TestHistoryCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := storage.NewBoltStore(path)
	require.NoError(t, err)
	started := time.Now().Add(-time.Hour)
	require.NoError(t, store.SaveRun(&types.RunSummary{
		RunID:      "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(10 * time.Minute),
		Degraded:   true,
		Jobs: []types.JobOutcome{
			{Host: "web1", Disk: "/var", Status: types.OutcomeDone, Label: "VOL01", FileNum: 1},
			{Host: "db1", Disk: "/data", Status: types.OutcomeUnscheduled},
		},
	}))
	require.NoError(t, store.Close())

	out, err := execute(t, "history", "--history-db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "degraded")

	out, err = execute(t, "history", "--history-db", path, "--run", "run-1", "--yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "run_id: run-1")
	assert.Contains(t, out, "status: unscheduled")
}

func TestHistoryPrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := storage.NewBoltStore(path)
	require.NoError(t, err)
	base := time.Now().Add(-24 * time.Hour)
	for i, id := range []string{"run-a", "run-b", "run-c", "run-d"} {
		started := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.SaveRun(&types.RunSummary{RunID: id, StartedAt: started, FinishedAt: started.Add(time.Minute)}))
	}
	require.NoError(t, store.Close())

	_, err = execute(t, "history", "prune", "--history-db", path)
	assert.Error(t, err, "nothing to prune")

	out, err := execute(t, "history", "prune", "--history-db", path, "run-b")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted run run-b")

	_, err = execute(t, "history", "prune", "--history-db", path, "run-b")
	assert.ErrorIs(t, err, storage.ErrRunNotFound)

	out, err = execute(t, "history", "prune", "--history-db", path, "--keep", "1", "run-a")
	require.NoError(t, err)
	assert.Contains(t, out, "2 runs deleted")

	store, err = storage.NewBoltStore(path)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-d", runs[0].RunID)
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, &types.RunSummary{
		RunID:     "run-2",
		TaperDown: true,
		Jobs: []types.JobOutcome{
			{Host: "web1", Disk: "/var", Status: types.OutcomeUnflushed, Size: 2048, Holdings: []string{"/h/web1._var.0"}},
		},
	})
	s := out.String()
	assert.Contains(t, s, "taper down")
	assert.Contains(t, s, "2.0 KiB")
	assert.Contains(t, s, "/h/web1._var.0")
	assert.Contains(t, s, "0 done, 0 failed, 0 stalled, 1 unflushed, 0 unscheduled")
}
