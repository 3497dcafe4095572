// Package buildinfo reports what the running binary was built from.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

var readBuildInfo = debug.ReadBuildInfo

// Version returns the module version or "dev" when unset.
func Version() string {
	info, ok := readBuildInfo()
	if !ok || info == nil {
		return "dev"
	}
	version := info.Main.Version
	if version == "" || version == "(devel)" {
		return "dev"
	}
	return version
}

func setting(key string) string {
	info, ok := readBuildInfo()
	if !ok || info == nil {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

// Revision returns the abbreviated VCS revision, with a "-dirty" suffix
// for modified checkouts. Empty when the build carries no VCS stamp.
func Revision() string {
	rev := setting("vcs.revision")
	if rev == "" {
		return ""
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if setting("vcs.modified") == "true" {
		rev += "-dirty"
	}
	return rev
}

// String renders the version line printed by "dotrack version".
func String() string {
	details := []string{runtime.Version(), runtime.GOOS + "/" + runtime.GOARCH}
	if rev := Revision(); rev != "" {
		details = append([]string{rev}, details...)
	}
	if tags := setting("-tags"); tags != "" {
		details = append(details, "tags: "+tags)
	}
	return fmt.Sprintf("dotrack %s (%s)", Version(), strings.Join(details, ", "))
}
