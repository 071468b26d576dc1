package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultInterface is used for hosts that do not name an interface
	DefaultInterface = "default"

	// DefaultNetUsage is the cap (kps) of the implicit default interface
	DefaultNetUsage = 80000

	DefaultInParallel     = 10
	DefaultMaxDumps       = 1
	DefaultStatusInterval = 60
	DefaultTaperRestarts  = 1
	DefaultMaxRetries     = 2
	DefaultChunkMinimum   = Size(64 * units.MiB)
)

// Dump orders understood by the scheduler's waitq comparator
const (
	DumpOrderPrioritySize = "priority-size"
	DumpOrderPriorityTime = "priority-time"
)

// Taper algorithms deciding which finished dump is flushed next
const (
	TaperAlgoFirst   = "first"
	TaperAlgoLargest = "largest"
)

// Degraded-mode entry policies
const (
	DegradedExhausted = "exhausted"
	DegradedImmediate = "immediate"
	DegradedNever     = "never"
)

var (
	// ErrInvalid wraps every validation failure
	ErrInvalid = errors.New("invalid configuration")
)

// Size is a byte count that accepts human readable strings ("200GB", "512MiB")
type Size int64

// UnmarshalYAML parses either a plain integer or a human size string
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	n, err := ParseSize(value.Value)
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

// String renders the size for humans
func (s Size) String() string {
	return units.BytesSize(float64(s))
}

// ParseSize accepts "1048576", "100MB", "1.5GiB"
func ParseSize(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	n, err := units.RAMInBytes(v)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", v, err)
	}
	return n, nil
}

// HoldingDisk is a staging directory and the space tapeline may use in it
type HoldingDisk struct {
	Path     string `yaml:"path"`
	Capacity Size   `yaml:"capacity"`
}

// Interface is a network interface and its throughput cap in KB/s
type Interface struct {
	Name string `yaml:"name"`
	KPS  int64  `yaml:"kps"`
}

// Client carries per-host settings
type Client struct {
	Host      string `yaml:"host"`
	Interface string `yaml:"interface"`
	MaxDumps  int    `yaml:"max_dumps"`
}

// Config holds the run configuration
type Config struct {
	HoldingDisks    []HoldingDisk `yaml:"holding_disks"`
	InParallel      int           `yaml:"inparallel"`
	Interfaces      []Interface   `yaml:"interfaces"`
	Clients         []Client      `yaml:"clients"`
	DefaultMaxDumps int           `yaml:"default_max_dumps"`

	DumperCommand []string `yaml:"dumper_command"`
	TaperCommand  []string `yaml:"taper_command"`

	DumpOrder      string `yaml:"dumporder"`
	TaperAlgo      string `yaml:"taperalgo"`
	DegradedPolicy string `yaml:"degraded_policy"`

	StatusInterval int  `yaml:"status_interval"` // seconds
	TaperRestarts  int  `yaml:"taper_restarts"`
	MaxRetries     int  `yaml:"max_retries"`
	ChunkMinimum   Size `yaml:"chunk_minimum"`

	HistoryDB   string `yaml:"history_db"`
	MetricsAddr string `yaml:"metrics_addr"`

	clients map[string]Client
}

// Load reads and validates a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates
func Parse(data []byte) (*Config, error) {
	// zero is meaningful for both budgets, so their defaults are set before decoding
	cfg := &Config{
		TaperRestarts: DefaultTaperRestarts,
		MaxRetries:    DefaultMaxRetries,
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default. taper_restarts and
// max_retries are left alone: Parse presets them.
func (c *Config) ApplyDefaults() {
	if c.InParallel == 0 {
		c.InParallel = DefaultInParallel
	}
	if c.DefaultMaxDumps == 0 {
		c.DefaultMaxDumps = DefaultMaxDumps
	}
	if c.DumpOrder == "" {
		c.DumpOrder = DumpOrderPrioritySize
	}
	if c.TaperAlgo == "" {
		c.TaperAlgo = TaperAlgoFirst
	}
	if c.DegradedPolicy == "" {
		c.DegradedPolicy = DegradedExhausted
	}
	if c.StatusInterval == 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	if c.ChunkMinimum == 0 {
		c.ChunkMinimum = DefaultChunkMinimum
	}
	hasDefault := false
	for _, iface := range c.Interfaces {
		if iface.Name == DefaultInterface {
			hasDefault = true
		}
	}
	if !hasDefault {
		c.Interfaces = append(c.Interfaces, Interface{Name: DefaultInterface, KPS: DefaultNetUsage})
	}
	c.index()
}

func (c *Config) index() {
	c.clients = make(map[string]Client, len(c.Clients))
	for _, cl := range c.Clients {
		c.clients[cl.Host] = cl
	}
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if len(c.DumperCommand) == 0 {
		return fmt.Errorf("%w: dumper_command is required", ErrInvalid)
	}
	if len(c.TaperCommand) == 0 {
		return fmt.Errorf("%w: taper_command is required", ErrInvalid)
	}
	if c.InParallel < 1 {
		return fmt.Errorf("%w: inparallel must be at least 1", ErrInvalid)
	}
	if c.TaperRestarts < 0 || c.MaxRetries < 0 {
		return fmt.Errorf("%w: taper_restarts and max_retries must not be negative", ErrInvalid)
	}

	seen := make(map[string]bool)
	for _, hd := range c.HoldingDisks {
		if hd.Path == "" {
			return fmt.Errorf("%w: holding disk without path", ErrInvalid)
		}
		p := filepath.Clean(hd.Path)
		if seen[p] {
			return fmt.Errorf("%w: duplicate holding disk %s", ErrInvalid, hd.Path)
		}
		seen[p] = true
		if hd.Capacity < 0 {
			return fmt.Errorf("%w: negative capacity for holding disk %s", ErrInvalid, hd.Path)
		}
	}

	ifaces := make(map[string]bool)
	for _, iface := range c.Interfaces {
		if iface.KPS <= 0 {
			return fmt.Errorf("%w: interface %s needs a positive kps", ErrInvalid, iface.Name)
		}
		ifaces[iface.Name] = true
	}
	for _, cl := range c.Clients {
		if cl.Interface != "" && !ifaces[cl.Interface] {
			return fmt.Errorf("%w: client %s uses undeclared interface %s", ErrInvalid, cl.Host, cl.Interface)
		}
		if cl.MaxDumps < 0 {
			return fmt.Errorf("%w: negative max_dumps for client %s", ErrInvalid, cl.Host)
		}
	}

	switch c.DumpOrder {
	case DumpOrderPrioritySize, DumpOrderPriorityTime:
	default:
		return fmt.Errorf("%w: unknown dumporder %q", ErrInvalid, c.DumpOrder)
	}
	switch c.TaperAlgo {
	case TaperAlgoFirst, TaperAlgoLargest:
	default:
		return fmt.Errorf("%w: unknown taperalgo %q", ErrInvalid, c.TaperAlgo)
	}
	switch c.DegradedPolicy {
	case DegradedExhausted, DegradedImmediate, DegradedNever:
	default:
		return fmt.Errorf("%w: unknown degraded_policy %q", ErrInvalid, c.DegradedPolicy)
	}
	return nil
}

// MaxDumps returns how many dumps may run concurrently against host
func (c *Config) MaxDumps(host string) int {
	if c.clients == nil {
		c.index()
	}
	if cl, ok := c.clients[host]; ok && cl.MaxDumps > 0 {
		return cl.MaxDumps
	}
	if c.DefaultMaxDumps > 0 {
		return c.DefaultMaxDumps
	}
	return DefaultMaxDumps
}

// InterfaceFor returns the network interface used to reach host
func (c *Config) InterfaceFor(host string) string {
	if c.clients == nil {
		c.index()
	}
	if cl, ok := c.clients[host]; ok && cl.Interface != "" {
		return cl.Interface
	}
	return DefaultInterface
}
