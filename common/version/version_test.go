package version

import "testing"

func TestStamp(t *testing.T) {
	defer func(v, c, b string) { Version, GitCommit, BuildTime = v, c, b }(Version, GitCommit, BuildTime)
	Version, GitCommit, BuildTime = "v1.2.0", "a1b2c3d4e5f6", "2026-03-14"

	if got, want := Info(), "glitchy v1.2.0 (a1b2c3d, built 2026-03-14)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
	if got, want := UserAgent(), "glitchy/v1.2.0 (+a1b2c3d)"; got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}

	GitCommit = "unknown"
	if got, want := UserAgent(), "glitchy/v1.2.0 (+unknown)"; got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
}
