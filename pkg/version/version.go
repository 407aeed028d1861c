package version

// These are overridden at build time with -ldflags.
var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
)
