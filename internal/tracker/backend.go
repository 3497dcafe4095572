package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// File is a single work tree file handed to a backend for staging.
type File struct {
	Abs string // absolute, native separators
	Rel string // relative to the work tree, slash separated
}

// Backend is the storage capability shared by every tracking store.
//
// Add and Remove receive a whole batch and must persist it with a single
// write, leaving the stored state untouched when they fail.
type Backend interface {
	Name() string
	WorkTree() string
	StoreDir() string

	Add(files []File) error
	Remove(rels []string) error

	// Entries returns every tracked relative path.
	Entries() ([]string, error)
	// ModifiedEntries returns the tracked paths whose on-disk content or
	// mode differs from what was last staged. Deleted files are not included.
	ModifiedEntries() ([]string, error)

	Close() error
}

// Committer is implemented by backends able to record snapshots.
type Committer interface {
	Changes() (ChangeSet, error)
	Save() (string, error)
}

// Publisher is implemented by backends able to talk to remotes.
type Publisher interface {
	AddRemote(name, url string) (string, error)
	Push(ctx context.Context, remote, branch string) error
}

type FileSection struct {
	Path string
	Line int
}

// Differ renders working tree changes of tracked files.
type Differ interface {
	Diff() (string, []FileSection, error)
}

// Historian lists recorded snapshots, newest first.
type Historian interface {
	History(limit int) ([]string, error)
}

type ChangeKind uint8

const (
	IndexNew ChangeKind = iota
	IndexModified
	IndexDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case IndexNew:
		return "new"
	case IndexModified:
		return "modified"
	case IndexDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("ChangeKind(%d)", uint8(k))
	}
}

type Change struct {
	Path string
	Kind ChangeKind
}

type ChangeSet []Change

const RecapHeader = "Update tracked files"

// Recap renders the commit message listing every change, sorted by path.
func (cs ChangeSet) Recap() string {
	sorted := make(ChangeSet, len(cs))
	copy(sorted, cs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	var b strings.Builder
	b.WriteString(RecapHeader)
	b.WriteString("\n\n")
	for _, ch := range sorted {
		fmt.Fprintf(&b, "- %s: %s\n", ch.Kind, ch.Path)
	}
	return b.String()
}
