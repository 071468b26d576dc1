package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{" WARN ", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestChildLoggers(t *testing.T) {
	saved := Logger
	defer func() { Logger = saved }()

	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	run := WithRunID("run-1")
	jobLog := WithWorker(WithJob(run, "db1", "/var", "00-00001"), "dumper0")
	jobLog.Info().Msg("Dump finished")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "run-1", line["run_id"])
	assert.Equal(t, "db1", line["host"])
	assert.Equal(t, "/var", line["disk"])
	assert.Equal(t, "00-00001", line["handle"])
	assert.Equal(t, "dumper0", line["worker"])
	assert.Equal(t, "Dump finished", line["message"])
}

func TestWithJobOmitsEmptyHandle(t *testing.T) {
	saved := Logger
	defer func() { Logger = saved }()

	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	l := WithJob(WithComponent("scheduler"), "db1", "/home", "")
	l.Info().Msg("Queued")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "scheduler", line["component"])
	assert.NotContains(t, line, "handle")
}
