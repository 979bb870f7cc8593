package main

import (
	"time"

	"github.com/tinytelemetry/runmerge/internal/duckdb"
	"github.com/tinytelemetry/runmerge/internal/httpserver"
	"github.com/tinytelemetry/runmerge/internal/logsource"
	"github.com/tinytelemetry/runmerge/internal/model"
)

const (
	defaultWorkers        = 4
	defaultPhyChannel     = "PUSCH"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultMaxLineSize    = logsource.DefaultMaxLineSize
	defaultAPIAddr        = httpserver.DefaultAddr
	defaultQueryTimeout   = duckdb.DefaultQueryTimeout
	defaultClockOffset    = model.DefaultClockOffset
	defaultJoinTolerance  = model.DefaultJoinTolerance
	defaultMergeThreshold = model.DefaultMergeThreshold
	defaultPrimarySuffix  = model.DefaultPrimarySuffix
	defaultToolSuffix     = model.DefaultToolSuffix
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	InputDir       string        `mapstructure:"input-dir"`
	OutputDir      string        `mapstructure:"output-dir"`
	PrimarySuffix  string        `mapstructure:"primary-suffix"`
	ToolSuffix     string        `mapstructure:"tool-suffix"`
	Overwrite      bool          `mapstructure:"overwrite"`
	Workers        int           `mapstructure:"workers"`
	SplitTables    bool          `mapstructure:"split-tables"`
	Compress       bool          `mapstructure:"compress"`
	ClockOffset    time.Duration `mapstructure:"clock-offset"`
	JoinTolerance  time.Duration `mapstructure:"join-tolerance"`
	MergeThreshold time.Duration `mapstructure:"merge-threshold"`
	JoinPhy        bool          `mapstructure:"join-phy"`
	PhyChannel     string        `mapstructure:"phy-channel"`
	MinLevel       string        `mapstructure:"min-level"`
	MaxLineSize    int           `mapstructure:"max-line-size"`
	DBPath         string        `mapstructure:"db-path"`
	DBSnapshot     string        `mapstructure:"db-snapshot"`
	RetentionDays  int           `mapstructure:"retention-days"`
	QueryTimeout   time.Duration `mapstructure:"query-timeout"`
	APIEnabled     bool          `mapstructure:"api-enabled"`
	APIAddr        string        `mapstructure:"api-addr"`
	Serve          bool          `mapstructure:"serve"`
	LogLevel       string        `mapstructure:"log-level"`
	LogFormat      string        `mapstructure:"log-format"`
	Quiet          bool          `mapstructure:"quiet"`
	ConfigPath     string        `mapstructure:"-"` // not from config file
}
