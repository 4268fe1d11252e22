// Package version carries the glitchy build stamp.  The variables are
// overwritten at link time:
//
//	go build -ldflags "-X github.com/bdobrica/glitchy/common/version.Version=v1.2.0 \
//	    -X github.com/bdobrica/glitchy/common/version.GitCommit=$(git rev-parse HEAD)"
package version

import "fmt"

// Name is the product name used in the CLI banner and the User-Agent.
const Name = "glitchy"

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// shortCommit trims a full hash to the usual 7 characters.
func shortCommit() string {
	if len(GitCommit) > 7 {
		return GitCommit[:7]
	}
	return GitCommit
}

// Info is the one-line build description logged at startup and printed by
// --version.
func Info() string {
	return fmt.Sprintf("%s %s (%s, built %s)", Name, Version, shortCommit(), BuildTime)
}

// UserAgent identifies the bot to the LLM backend, e.g.
// "glitchy/v1.2.0 (+a1b2c3d)".
func UserAgent() string {
	return fmt.Sprintf("%s/%s (+%s)", Name, Version, shortCommit())
}
