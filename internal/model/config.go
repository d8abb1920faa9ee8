package model

import "time"

// RunConfig holds the execution parameters shared by every scenario in a
// run, plus the two designated scenarios: exactly one build scenario and a
// name -> scenario map of tests.
type RunConfig struct {
	User              string
	Password          string
	ConnectionTimeout time.Duration
	PoweroffTimeout   time.Duration
	PoweroffCommand   string
	OutputLimit       *int64 // nil means unbounded
	Build             Scenario
	Tests             map[string]Scenario
}

// Patch is an immutable record of a validated patch file: its path and the
// id derived from its filename stem.
type Patch struct {
	Path string
	ID   string
}
