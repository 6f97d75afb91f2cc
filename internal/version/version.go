package version

import (
	"fmt"
	"runtime"
	"time"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/babelcloud/hopemirror/internal/version.Version=v0.3.0"
var (
	Version   = "dev"
	BuildTime = "unknown"
	CommitID  = "unknown"
)

func builtAt() string {
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return BuildTime
	}
	return t.Format("Mon Jan 2 15:04:05 2006")
}

// Info returns build metadata keyed by field name.
func Info() map[string]string {
	return map[string]string{
		"Version":   Version,
		"GitCommit": CommitID,
		"BuildTime": builtAt(),
		"GoVersion": runtime.Version(),
		"Platform":  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the one-line banner printed by `hopemirror version`.
func String() string {
	return fmt.Sprintf("hopemirror %s (commit %s, built %s, %s %s/%s)",
		Version, CommitID, builtAt(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
