package scheduler

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/tapeline/pkg/config"
	"github.com/cuemby/tapeline/pkg/types"
	"github.com/cuemby/tapeline/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWorkers runs dumpers and a taper as goroutines behind real pipes so
// the scheduler is driven by its reactor.
type fakeWorkers struct {
	t *testing.T

	mu      sync.Mutex
	pid     int
	crash   map[string]bool // dumpers that die on their first command
	filenum int
	wg      sync.WaitGroup
}

func (f *fakeWorkers) Spawn(name string) (*worker.Process, error) {
	cmdR, cmdW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	repR, repW, err := os.Pipe()
	if err != nil {
		cmdR.Close()
		cmdW.Close()
		return nil, err
	}

	f.mu.Lock()
	f.pid++
	pid := f.pid
	crash := f.crash[name]
	delete(f.crash, name)
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer cmdR.Close()
		defer repW.Close()
		if name == "taper" {
			f.taper(cmdR, repW)
			return
		}
		f.dumper(cmdR, repW, crash)
	}()
	return worker.NewProcess(pid, cmdW, repR, nil), nil
}

func (f *fakeWorkers) dumper(in io.Reader, out io.Writer, crash bool) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if crash {
			return
		}
		switch fields[0] {
		case "FILE-DUMP":
			fmt.Fprintf(out, "DONE %s %s 0.5\n", fields[1], fields[6])
		case "PORT-DUMP":
			fmt.Fprintf(out, "DONE %s 1024 0.1\n", fields[1])
		case "ABORT":
			fmt.Fprintf(out, "ABORT-FINISHED %s\n", fields[1])
		case "QUIT":
			return
		}
	}
}

func (f *fakeWorkers) taper(in io.Reader, out io.Writer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "START-TAPER":
			fmt.Fprintln(out, "TAPER-OK")
		case "FILE-WRITE":
			fmt.Fprintf(out, "TAPER-OK %s VOL01 %d\n", fields[1], f.nextFile())
		case "PORT-WRITE":
			fmt.Fprintf(out, "PORT %s 4000\n", fields[1])
			fmt.Fprintf(out, "TAPER-OK %s VOL01 %d\n", fields[1], f.nextFile())
		case "QUIT":
			return
		}
	}
}

func (f *fakeWorkers) nextFile() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filenum++
	return f.filenum
}

func runWithTimeout(t *testing.T, s *Scheduler, jobs []*types.DiskJob) *types.RunSummary {
	t.Helper()
	type result struct {
		summary *types.RunSummary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := s.Run(jobs)
		done <- result{summary, err}
	}()
	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.NotNil(t, r.summary)
		return r.summary
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
		return nil
	}
}

func newRunScheduler(t *testing.T, cfg *config.Config, f *fakeWorkers) *Scheduler {
	t.Helper()
	cfg.DumperCommand = []string{"dumper"}
	cfg.TaperCommand = []string{"taper"}
	// literal configs skip Parse, which presets the retry budget
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = config.DefaultMaxRetries
	}
	cfg.ApplyDefaults()
	s, err := New(cfg, WithDumperSpawner(f), WithTaperSpawner(f))
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		f.wg.Wait()
	})
	return s
}

func TestRunEndToEnd(t *testing.T) {
	f := &fakeWorkers{t: t}
	jobs := []*types.DiskJob{
		newJob("web1", 3, 20*mb),
		newJob("web2", 2, 20*mb),
		newJob("db1", 1, 40*mb),
		newJob("huge", 0, 900*mb),
	}
	s := newRunScheduler(t, &config.Config{
		InParallel:   2,
		HoldingDisks: []config.HoldingDisk{holdingDisk(t, 100*mb)},
	}, f)

	summary := runWithTimeout(t, s, jobs)
	assert.Equal(t, s.RunID(), summary.RunID)
	assert.Equal(t, len(jobs), summary.Count(types.OutcomeDone))
	assert.False(t, summary.Degraded)

	huge, ok := summary.Outcome("huge", "/var")
	require.True(t, ok)
	assert.True(t, huge.Direct)

	web1, ok := summary.Outcome("web1", "/var")
	require.True(t, ok)
	assert.False(t, web1.Direct)
	assert.Equal(t, 20*mb, web1.Size)
	assert.Equal(t, "VOL01", web1.Label)
}

func TestRunSurvivesDumperCrash(t *testing.T) {
	f := &fakeWorkers{t: t, crash: map[string]bool{"dumper0": true}}
	jobs := []*types.DiskJob{newJob("a", 1, 10*mb)}
	s := newRunScheduler(t, &config.Config{
		InParallel:   2,
		HoldingDisks: []config.HoldingDisk{holdingDisk(t, 100*mb)},
	}, f)

	summary := runWithTimeout(t, s, jobs)
	a, ok := summary.Outcome("a", "/var")
	require.True(t, ok)
	assert.Equal(t, types.OutcomeDone, a.Status)
	assert.Equal(t, 1, a.Retries)
}
