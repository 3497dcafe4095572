package git

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/thiagokokada/dotrack/internal/tracker"
)

func TestSaveNothingToCommit(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if _, err := store.Save(); !errors.Is(err, tracker.ErrNothingToCommit) {
		t.Fatalf("Save on empty index: err = %v, want ErrNothingToCommit", err)
	}
	if _, err := store.repo.Head(); err == nil {
		t.Fatal("no commit should have been created")
	}
}

func TestSaveLinearHistory(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	writeFile(t, filepath.Join(store.workTree, "a.txt"), "x")
	writeFile(t, filepath.Join(store.workTree, ".config/app/b.toml"), "k = 1\n")
	if err := store.Add([]tracker.File{store.fileAt(t, "a.txt"), store.fileAt(t, ".config/app/b.toml")}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	msg, err := store.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	want := tracker.RecapHeader + "\n\n- new: .config/app/b.toml\n- new: a.txt\n"
	if msg != want {
		t.Fatalf("recap = %q, want %q", msg, want)
	}
	first := headCommit(t, store)
	if first.NumParents() != 0 {
		t.Fatalf("first commit has %d parents", first.NumParents())
	}
	if first.Author.Name != "Test User" || first.Author.Email != "test@example.com" {
		t.Fatalf("unexpected author: %+v", first.Author)
	}
	tree, err := first.Tree()
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	f, err := tree.File(".config/app/b.toml")
	if err != nil {
		t.Fatalf("tree missing nested file: %v", err)
	}
	if content, _ := f.Contents(); content != "k = 1\n" {
		t.Fatalf("nested file content = %q", content)
	}

	if _, err := store.Save(); !errors.Is(err, tracker.ErrNothingToCommit) {
		t.Fatalf("second Save without changes: err = %v", err)
	}

	writeFile(t, filepath.Join(store.workTree, "a.txt"), "y")
	if err := store.Add([]tracker.File{store.fileAt(t, "a.txt")}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Remove([]string{".config"}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	msg, err = store.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.Contains(msg, "- deleted: .config/app/b.toml") || !strings.Contains(msg, "- modified: a.txt") {
		t.Fatalf("unexpected recap: %q", msg)
	}
	second := headCommit(t, store)
	if second.NumParents() != 1 || second.ParentHashes[0] != first.Hash {
		t.Fatalf("second commit parents = %v, want [%s]", second.ParentHashes, first.Hash)
	}

	history, err := store.History(0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || !strings.HasPrefix(history[0], second.Hash.String()[:7]) {
		t.Fatalf("unexpected history: %v", history)
	}
}

func TestSaveMissingIdentity(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	store, err := Open(Options{WorkTree: home})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	writeFile(t, filepath.Join(home, "a.txt"), "x")
	if err := store.Add([]tracker.File{store.fileAt(t, "a.txt")}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := store.Save(); !errors.Is(err, tracker.ErrIdentityMissing) {
		t.Fatalf("err = %v, want ErrIdentityMissing", err)
	}
}

func TestTreeEntryOrder(t *testing.T) {
	t.Parallel()

	entries := []object.TreeEntry{
		{Name: "a.b", Mode: filemode.Regular},
		{Name: "a", Mode: filemode.Dir},
		{Name: "a-b", Mode: filemode.Regular},
	}
	// "a/" sorts after "a-b" and "a.b" since '/' > '-' and '/' > '.'.
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, treeSortName(e))
	}
	if names[1] != "a/" {
		t.Fatalf("directory sort name = %q", names[1])
	}
	if !(names[2] < names[0] && names[0] < names[1]) {
		t.Fatalf("unexpected order keys: %v", names)
	}
}

func TestWriteTreeRejectsFileDirectoryClash(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	entries := []*gitindex.Entry{
		{Name: "a", Mode: filemode.Regular, Hash: plumbing.ComputeHash(plumbing.BlobObject, []byte("x"))},
		{Name: "a/b", Mode: filemode.Regular, Hash: plumbing.ComputeHash(plumbing.BlobObject, []byte("y"))},
	}
	if _, err := writeTree(store.repo.Storer, entries); err == nil {
		t.Fatal("expected an error for a path that is both a file and a directory")
	}
}

func TestAddReplacesClashingEntries(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	writeFile(t, filepath.Join(store.workTree, "a"), "file")
	if err := store.Add([]tracker.File{store.fileAt(t, "a")}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := os.Remove(filepath.Join(store.workTree, "a")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(store.workTree, "a/b"), "nested")
	if err := store.Add([]tracker.File{store.fileAt(t, "a/b")}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := store.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if !slices.Equal(got, []string{"a/b"}) {
		t.Fatalf("Entries = %v, want [a/b]", got)
	}
	if _, err := store.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestHistoryUnborn(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	history, err := store.History(5)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("unborn HEAD has history: %v", history)
	}
}

func headCommit(t *testing.T, store *Store) *object.Commit {
	t.Helper()
	commit, err := store.headCommit()
	if err != nil || commit == nil {
		t.Fatalf("headCommit: %v", err)
	}
	return commit
}
