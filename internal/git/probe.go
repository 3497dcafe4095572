package git

import (
	"cmp"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// The store layout (core.worktree in a bare repository) is understood by
// git 2.5 onwards.
var minGitVersion = gitVersion{major: 2, minor: 5, patch: 0}

type gitVersion struct {
	major int
	minor int
	patch int
}

func (v gitVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

func (v gitVersion) less(other gitVersion) bool {
	return cmp.Or(
		cmp.Compare(v.major, other.major),
		cmp.Compare(v.minor, other.minor),
		cmp.Compare(v.patch, other.patch),
	) < 0
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// parseGitVersionOutput reads the first dotted version number in the output
// of "git --version". Vendor suffixes after it are ignored.
func parseGitVersionOutput(out string) (gitVersion, bool) {
	text := strings.TrimSpace(out)
	text = strings.TrimSpace(strings.TrimPrefix(text, "git version"))
	m := versionPattern.FindStringSubmatch(text)
	if m == nil {
		return gitVersion{}, false
	}
	var nums [3]int
	for i, part := range m[1:] {
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return gitVersion{}, false
		}
		nums[i] = n
	}
	return gitVersion{major: nums[0], minor: nums[1], patch: nums[2]}, true
}

func validateGitVersionOutput(out string) error {
	got, ok := parseGitVersionOutput(out)
	if !ok {
		return fmt.Errorf("unable to parse git version output: %q", strings.TrimSpace(out))
	}
	if got.less(minGitVersion) {
		return fmt.Errorf("git %s is too old; dotrack requires git >= %s", got, minGitVersion)
	}
	return nil
}

var (
	lookPath = exec.LookPath
	runGit   = func(bin string) ([]byte, error) { return exec.Command(bin, "--version").CombinedOutput() }

	probeOnce sync.Once
	probeOut  string
	probeErr  error
)

// ProbeExecutable checks that a usable git executable is installed. The
// store never runs it; the check only tells users their store stays
// reachable from the git CLI. The result is computed once per process.
func ProbeExecutable() error {
	probeOnce.Do(func() {
		probeOut, probeErr = probe()
	})
	return probeErr
}

// GitVersion returns the raw "git --version" output seen by the probe.
func GitVersion() (string, error) {
	err := ProbeExecutable()
	return probeOut, err
}

func probe() (string, error) {
	bin, err := lookPath("git")
	if err != nil {
		return "", fmt.Errorf("look up git: %w", err)
	}
	outBytes, err := runGit(bin)
	out := strings.TrimSpace(string(outBytes))
	if err != nil {
		if out != "" {
			return out, fmt.Errorf("git --version: %v: %s", err, out)
		}
		return out, fmt.Errorf("git --version: %w", err)
	}
	return out, validateGitVersionOutput(out)
}
