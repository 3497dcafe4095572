package buildinfo

import (
	"runtime/debug"
	"strings"
	"testing"
)

func stubBuildInfo(t *testing.T, info *debug.BuildInfo) {
	t.Helper()
	orig := readBuildInfo
	t.Cleanup(func() { readBuildInfo = orig })
	readBuildInfo = func() (*debug.BuildInfo, bool) { return info, info != nil }
}

func TestVersion(t *testing.T) {
	stubBuildInfo(t, nil)
	if got := Version(); got != "dev" {
		t.Fatalf("Version() without build info = %q", got)
	}

	stubBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if got := Version(); got != "dev" {
		t.Fatalf("Version() for devel build = %q", got)
	}

	stubBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "v1.2.3"}})
	if got := Version(); got != "v1.2.3" {
		t.Fatalf("Version() = %q", got)
	}
}

func TestString(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.modified", Value: "true"},
			{Key: "-tags", Value: "netgo"},
		},
	})
	got := String()
	for _, want := range []string{"dotrack v0.4.0 (", "0123456789ab-dirty", "tags: netgo"} {
		if !strings.Contains(got, want) {
			t.Fatalf("String() = %q, missing %q", got, want)
		}
	}
}
