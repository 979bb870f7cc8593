package model

import "time"

// Shared defaults used by the pipeline and the CLI.
const (
	DefaultJoinTolerance  = 500 * time.Millisecond
	DefaultMergeThreshold = 50 * time.Microsecond
	DefaultClockOffset    = 4 * time.Hour
	DefaultPrimarySuffix  = "_gnb.log"
	DefaultToolSuffix     = "_iperf3.log"
)
