package env

import "time"

// Config is filled from the root command's persistent flags. Region is the
// first of Regions and serves single-region commands and the default session.
var Config struct {
	Provider     string
	Region       string
	Regions      []string
	Profile      string
	WaitAttempts int
	WaitDelay    time.Duration
}

type VersionInfo struct {
	BuildVersion string
	Commit       string
}

var BuildVersion string
var Commit string
