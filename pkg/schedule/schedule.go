// Package schedule reads the per-run list of planned dumps.
//
// One job per line, blank lines and '#' comments ignored:
//
//	<host> <disk> <priority> <level> <est-bytes> <est-seconds> [<est-kps>] [degr <level> <est-bytes>]
//
// Sizes accept plain byte counts or human strings such as 512MiB. When the
// throughput estimate is missing it is derived from size and time.
package schedule

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/tapeline/pkg/config"
	"github.com/cuemby/tapeline/pkg/types"
)

// ErrSyntax is wrapped by every parse error
var ErrSyntax = errors.New("schedule syntax error")

// Load parses the schedule file at path
func Load(path string) ([]*types.DiskJob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schedule: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a schedule. Duplicate (host, disk) pairs are rejected.
func Parse(r io.Reader) ([]*types.DiskJob, error) {
	var jobs []*types.DiskJob
	seen := make(map[string]int)

	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		job, err := parseLine(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		if prev, ok := seen[job.ID()]; ok {
			return nil, fmt.Errorf("line %d: %w: %s already scheduled on line %d", lineno, ErrSyntax, job.ID(), prev)
		}
		seen[job.ID()] = lineno
		jobs = append(jobs, job)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read schedule: %w", err)
	}
	return jobs, nil
}

func parseLine(fields []string) (*types.DiskJob, error) {
	if len(fields) < 6 {
		return nil, fmt.Errorf("%w: want at least 6 fields, got %d", ErrSyntax, len(fields))
	}

	job := &types.DiskJob{Host: fields[0], Disk: fields[1]}
	var err error
	if job.Priority, err = strconv.Atoi(fields[2]); err != nil {
		return nil, fmt.Errorf("%w: bad priority %q", ErrSyntax, fields[2])
	}
	if job.Level, err = parseLevel(fields[3]); err != nil {
		return nil, err
	}
	if job.EstimatedSize, err = parseBytes(fields[4]); err != nil {
		return nil, err
	}
	if job.EstimatedTime, err = parseSeconds(fields[5]); err != nil {
		return nil, err
	}

	rest := fields[6:]
	if len(rest) > 0 && rest[0] != "degr" {
		kps, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil || kps < 0 {
			return nil, fmt.Errorf("%w: bad throughput %q", ErrSyntax, rest[0])
		}
		job.EstimatedKPS = kps
		rest = rest[1:]
	} else {
		job.EstimatedKPS = deriveKPS(job.EstimatedSize, job.EstimatedTime)
	}

	if len(rest) > 0 {
		if rest[0] != "degr" || len(rest) != 3 {
			return nil, fmt.Errorf("%w: trailing fields %q", ErrSyntax, strings.Join(rest, " "))
		}
		d := &types.DegradedEstimate{}
		if d.Level, err = parseLevel(rest[1]); err != nil {
			return nil, err
		}
		if d.EstimatedSize, err = parseBytes(rest[2]); err != nil {
			return nil, err
		}
		job.Degraded = d
	}
	return job, nil
}

func parseLevel(s string) (int, error) {
	lvl, err := strconv.Atoi(s)
	if err != nil || lvl < 0 || lvl > 99 {
		return 0, fmt.Errorf("%w: bad level %q", ErrSyntax, s)
	}
	return lvl, nil
}

func parseBytes(s string) (int64, error) {
	n, err := config.ParseSize(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad size %q", ErrSyntax, s)
	}
	return n, nil
}

func parseSeconds(s string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("%w: bad duration %q", ErrSyntax, s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func deriveKPS(bytes int64, d time.Duration) int64 {
	if d <= 0 || bytes <= 0 {
		return 0
	}
	kps := int64(float64(bytes) / 1024 / d.Seconds())
	if kps < 1 {
		kps = 1
	}
	return kps
}
