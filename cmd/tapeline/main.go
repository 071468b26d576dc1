package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cuemby/tapeline/pkg/config"
	"github.com/cuemby/tapeline/pkg/log"
	"github.com/cuemby/tapeline/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	defaultConfigPath = "/etc/tapeline/tapeline.yaml"
	defaultHistoryDB  = "/var/lib/tapeline/history.db"
)

// v holds flag and TAPELINE_* environment values for the running command
var v = viper.New()

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tapeline",
	Short: "tapeline - network backup run driver",
	Long: `tapeline drives one backup run: it starts a pool of dumper processes
and a taper, stages dumps on holding disks within their capacity and the
network's bandwidth, and flushes finished images to tape.

When holding space runs out it switches to streaming dumps straight to
tape. Every run ends with a summary of what reached tape and what did not.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"tapeline version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	fs := rootCmd.PersistentFlags()
	fs.String("config", defaultConfigPath, "Run configuration file")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Bool("log-json", false, "Write logs as JSON")
	fs.String("history-db", "", "Run history database (overrides history_db)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(validateCmd)
}

// bindFlags makes every flag readable through v, with TAPELINE_<FLAG>
// environment variables as fallback.
func bindFlags(fs *pflag.FlagSet) error {
	v.SetEnvPrefix("TAPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v.BindPFlags(fs)
}

func setup(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	log.Init(log.Config{
		Level:      log.ParseLevel(v.GetString("log-level")),
		JSONOutput: v.GetBool("log-json"),
		Output:     os.Stderr,
	})
	metrics.SetVersion(Version)
	return nil
}

// loadConfig reads the configuration file and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return nil, err
	}
	if addr := v.GetString("metrics-addr"); addr != "" {
		cfg.MetricsAddr = addr
	}
	if db := v.GetString("history-db"); db != "" {
		cfg.HistoryDB = db
	}
	return cfg, nil
}

// historyPath resolves the history database without requiring a valid
// configuration when --history-db is given.
func historyPath() (string, error) {
	if db := v.GetString("history-db"); db != "" {
		return db, nil
	}
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return "", err
	}
	if cfg.HistoryDB != "" {
		return cfg.HistoryDB, nil
	}
	return defaultHistoryDB, nil
}
