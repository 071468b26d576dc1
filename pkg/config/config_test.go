package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
holding_disks:
  - path: /dumps/hold1
    capacity: 200GiB
  - path: /dumps/hold2
    capacity: "1048576"
inparallel: 4
interfaces:
  - name: le0
    kps: 1000
clients:
  - host: db1
    interface: le0
    max_dumps: 2
dumper_command: ["/usr/libexec/tapeline/dumper"]
taper_command: ["/usr/libexec/tapeline/taper"]
dumporder: priority-time
taperalgo: largest
degraded_policy: immediate
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.InParallel)
	require.Len(t, cfg.HoldingDisks, 2)
	assert.Equal(t, Size(200*1024*1024*1024), cfg.HoldingDisks[0].Capacity)
	assert.Equal(t, Size(1048576), cfg.HoldingDisks[1].Capacity)
	assert.Equal(t, DumpOrderPriorityTime, cfg.DumpOrder)
	assert.Equal(t, TaperAlgoLargest, cfg.TaperAlgo)
	assert.Equal(t, DegradedImmediate, cfg.DegradedPolicy)

	// defaults
	assert.Equal(t, DefaultStatusInterval, cfg.StatusInterval)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultChunkMinimum, cfg.ChunkMinimum)
	assert.Equal(t, DefaultTaperRestarts, cfg.TaperRestarts)

	cfg, err = Parse([]byte(sampleConfig + "taper_restarts: 0\nmax_retries: 0\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.TaperRestarts)
	assert.Zero(t, cfg.MaxRetries, "an explicit zero disables retries")
}

func TestParseRejectsIdleInterface(t *testing.T) {
	data := strings.Replace(sampleConfig, "    kps: 1000\n", "    kps: 1000\n  - name: slow\n    kps: 0\n", 1)
	_, err := Parse([]byte(data))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "slow")
}

func TestClientAccessors(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxDumps("db1"))
	assert.Equal(t, DefaultMaxDumps, cfg.MaxDumps("web1"))
	assert.Equal(t, "le0", cfg.InterfaceFor("db1"))
	assert.Equal(t, DefaultInterface, cfg.InterfaceFor("web1"))

	var found bool
	for _, iface := range cfg.Interfaces {
		if iface.Name == DefaultInterface {
			found = true
			assert.Equal(t, int64(DefaultNetUsage), iface.KPS)
		}
	}
	assert.True(t, found, "default interface should be added")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{
			DumperCommand: []string{"dumper"},
			TaperCommand:  []string{"taper"},
		}
		c.ApplyDefaults()
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing dumper", func(c *Config) { c.DumperCommand = nil }},
		{"missing taper", func(c *Config) { c.TaperCommand = nil }},
		{"negative inparallel", func(c *Config) { c.InParallel = -1 }},
		{"duplicate holding", func(c *Config) {
			c.HoldingDisks = []HoldingDisk{{Path: "/a", Capacity: 1}, {Path: "/a/", Capacity: 1}}
		}},
		{"negative capacity", func(c *Config) {
			c.HoldingDisks = []HoldingDisk{{Path: "/a", Capacity: -1}}
		}},
		{"undeclared interface", func(c *Config) {
			c.Clients = []Client{{Host: "h", Interface: "nope"}}
		}},
		{"bad dumporder", func(c *Config) { c.DumpOrder = "random" }},
		{"bad taperalgo", func(c *Config) { c.TaperAlgo = "smallest" }},
		{"bad degraded policy", func(c *Config) { c.DegradedPolicy = "sometimes" }},
		{"zero kps", func(c *Config) { c.Interfaces = append(c.Interfaces, Interface{Name: "le1"}) }},
		{"negative max_retries", func(c *Config) { c.MaxRetries = -1 }},
	}

	require.NoError(t, base().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"4096", 4096},
		{"1KiB", 1024},
		{"100MB", 100 * 1024 * 1024},
		{"2GiB", 2 * 1024 * 1024 * 1024},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseSize("lots")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tapeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.InParallel)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
