package build

// Set at link time, e.g. -ldflags "-X github.com/rohmanhakim/robots-gate/internal/build.Version=1.2.0".
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// FullVersion returns the version string with commit hash appended.
// Format: "Version+Commit" (e.g., "1.0.0+abc123")
func FullVersion() string {
	return Version + "+" + Commit
}

// Info is the one-line description printed by the version command.
func Info() string {
	return "robots-gate " + FullVersion() + " (built " + BuildTime + ")"
}
