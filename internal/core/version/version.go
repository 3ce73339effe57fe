// Package version reports the cardbatch build
package version

// BuildInfo holds version information about the build
type BuildInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Info returns the build information.
// Set at link time: -ldflags "-X 'cardbatch/internal/core/version.version=v0.1.0' -X 'cardbatch/internal/core/version.commit=abcd'"
func Info() BuildInfo {
	return BuildInfo{
		Service: "cardbatch",
		Version: version,
		Commit:  commit,
		Date:    date,
	}
}

// UserAgent is sent on every Google API request
func UserAgent() string { return "cardbatch/" + version }

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)
