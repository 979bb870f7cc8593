package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/runmerge/internal/logging"
	"github.com/tinytelemetry/runmerge/internal/logparse"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/runmerge/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [input-dir]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("runmerge - gNB and iperf3 run merger\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath, flag.Args()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig merges defaults, the optional config file and RUNMERGE_*
// environment variables. A positional argument overrides input-dir.
func loadConfig(configPath string, args ...string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("RUNMERGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("input-dir", "")
	v.SetDefault("output-dir", "")
	v.SetDefault("primary-suffix", defaultPrimarySuffix)
	v.SetDefault("tool-suffix", defaultToolSuffix)
	v.SetDefault("overwrite", false)
	v.SetDefault("workers", defaultWorkers)
	v.SetDefault("split-tables", false)
	v.SetDefault("compress", false)
	v.SetDefault("clock-offset", defaultClockOffset)
	v.SetDefault("join-tolerance", defaultJoinTolerance)
	v.SetDefault("merge-threshold", defaultMergeThreshold)
	v.SetDefault("join-phy", false)
	v.SetDefault("phy-channel", defaultPhyChannel)
	v.SetDefault("min-level", "")
	v.SetDefault("max-line-size", defaultMaxLineSize)
	v.SetDefault("db-path", "")
	v.SetDefault("db-snapshot", "")
	v.SetDefault("retention-days", 0)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("api-enabled", false)
	v.SetDefault("api-addr", defaultAPIAddr)
	v.SetDefault("serve", false)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)
	v.SetDefault("quiet", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "runmerge", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	if len(args) > 1 {
		return cfg, fmt.Errorf("expected at most one input directory, got %d", len(args))
	}
	if len(args) == 1 {
		cfg.InputDir = args[0]
	}

	cfg.InputDir = expandHome(home, cfg.InputDir)
	cfg.OutputDir = expandHome(home, cfg.OutputDir)
	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.DBSnapshot = expandHome(home, cfg.DBSnapshot)
	if cfg.OutputDir == "" {
		cfg.OutputDir = cfg.InputDir
	}
	if cfg.Serve {
		cfg.APIEnabled = true
	}
	if level, ok := logparse.ParseSeverity(cfg.MinLevel); ok {
		cfg.MinLevel = level
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c appConfig) validate() error {
	switch {
	case c.InputDir == "" && !c.Serve:
		return fmt.Errorf("no input directory: pass one as an argument or set input-dir")
	case c.Workers < 0:
		return fmt.Errorf("invalid workers: %d", c.Workers)
	case c.JoinTolerance < 0:
		return fmt.Errorf("invalid join-tolerance: %s", c.JoinTolerance)
	case c.MergeThreshold < 0:
		return fmt.Errorf("invalid merge-threshold: %s", c.MergeThreshold)
	case c.MaxLineSize < 0:
		return fmt.Errorf("invalid max-line-size: %d", c.MaxLineSize)
	case c.RetentionDays < 0:
		return fmt.Errorf("invalid retention-days: %d", c.RetentionDays)
	case c.PrimarySuffix == "" || c.ToolSuffix == "" || c.PrimarySuffix == c.ToolSuffix:
		return fmt.Errorf("primary-suffix and tool-suffix must be distinct and non-empty")
	case c.MinLevel != "" && !validSeverity(c.MinLevel):
		return fmt.Errorf("invalid min-level: %q (want trace, debug, info, warn or error)", c.MinLevel)
	case !logging.ValidFormat(c.LogFormat):
		return fmt.Errorf("invalid log-format: %q (want text or json)", c.LogFormat)
	case c.APIEnabled && c.DBPath == "":
		return fmt.Errorf("api-enabled and serve require db-path")
	case c.DBSnapshot != "" && c.DBPath == "":
		return fmt.Errorf("db-snapshot requires db-path")
	}
	return nil
}

func validSeverity(s string) bool {
	_, ok := logparse.ParseSeverity(s)
	return ok
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
