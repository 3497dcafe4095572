package git

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/dotrack/internal/tracker"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Options{WorkTree: t.TempDir(), Credentials: []CredentialProvider{}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.SetIdentity("Test User", "test@example.com"); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func (s *Store) fileAt(t *testing.T, rel string) tracker.File {
	t.Helper()
	return tracker.File{Abs: filepath.Join(s.workTree, filepath.FromSlash(rel)), Rel: rel}
}

func TestOpenInitializesBareStore(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	store, err := Open(Options{WorkTree: home})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if info, err := os.Stat(filepath.Join(home, DefaultStoreDir, "HEAD")); err != nil || info.IsDir() {
		t.Fatalf("expected HEAD file in store: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".git")); !os.IsNotExist(err) {
		t.Fatalf("work tree must not get a .git entry, stat err = %v", err)
	}
	if _, err := store.repo.Head(); !errors.Is(err, plumbing.ErrReferenceNotFound) {
		t.Fatalf("expected unborn HEAD, got %v", err)
	}
	branch, err := store.CurrentBranch()
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if branch != DefaultBranch {
		t.Fatalf("branch = %q, want %q", branch, DefaultBranch)
	}
	cfg, err := store.repo.Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.Core.Worktree != store.WorkTree() {
		t.Fatalf("core.worktree = %q, want %q", cfg.Core.Worktree, store.WorkTree())
	}

	reopened, err := Open(Options{WorkTree: home})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.StoreDir() != store.StoreDir() {
		t.Fatalf("store dir changed: %q vs %q", reopened.StoreDir(), store.StoreDir())
	}
}

func TestOpenProbeFailure(t *testing.T) {
	t.Parallel()

	_, err := Open(Options{WorkTree: t.TempDir(), Probe: func() error { return errors.New("not found") }})
	if !errors.Is(err, tracker.ErrGitNotInstalled) {
		t.Fatalf("err = %v, want ErrGitNotInstalled", err)
	}
}

func TestOpenMissingWorkTree(t *testing.T) {
	t.Parallel()

	for _, dir := range []string{"", filepath.Join(t.TempDir(), "missing")} {
		_, err := Open(Options{WorkTree: dir})
		if !errors.Is(err, tracker.ErrHomeDirectoryNotFound) {
			t.Fatalf("Open(%q) err = %v, want ErrHomeDirectoryNotFound", dir, err)
		}
	}
}

func TestAddAndRemove(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	writeFile(t, filepath.Join(store.workTree, ".bashrc"), "export A=1\n")
	writeFile(t, filepath.Join(store.workTree, ".config/nvim/init.lua"), "vim.o.number = true\n")
	writeFile(t, filepath.Join(store.workTree, ".config/nvim/lua/plugins.lua"), "return {}\n")
	writeFile(t, filepath.Join(store.workTree, ".config/nvimrc"), "set nu\n")

	files := []tracker.File{
		store.fileAt(t, ".bashrc"),
		store.fileAt(t, ".config/nvim/init.lua"),
		store.fileAt(t, ".config/nvim/lua/plugins.lua"),
		store.fileAt(t, ".config/nvimrc"),
	}
	if err := store.Add(files); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// Staging again must not duplicate entries.
	if err := store.Add(files[:1]); err != nil {
		t.Fatalf("Add again: %v", err)
	}
	got, err := store.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	want := []string{".bashrc", ".config/nvim/init.lua", ".config/nvim/lua/plugins.lua", ".config/nvimrc"}
	if !slices.Equal(got, want) {
		t.Fatalf("Entries = %v, want %v", got, want)
	}

	if err := store.Remove([]string{".config/nvim"}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, err = store.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	want = []string{".bashrc", ".config/nvimrc"}
	if !slices.Equal(got, want) {
		t.Fatalf("Entries after remove = %v, want %v", got, want)
	}
}

func TestAddFailureKeepsIndex(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	writeFile(t, filepath.Join(store.workTree, "a.txt"), "a")
	if err := store.Add([]tracker.File{store.fileAt(t, "a.txt")}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	writeFile(t, filepath.Join(store.workTree, "b.txt"), "b")
	err := store.Add([]tracker.File{store.fileAt(t, "b.txt"), store.fileAt(t, "gone.txt")})
	var pathErr *tracker.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("err = %v, want PathError", err)
	}
	got, err := store.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if !slices.Equal(got, []string{"a.txt"}) {
		t.Fatalf("index changed after failed batch: %v", got)
	}
}

func TestAddSymlink(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	writeFile(t, filepath.Join(store.workTree, "dotfiles/vimrc"), "set nu\n")
	link := filepath.Join(store.workTree, ".vimrc")
	if err := os.Symlink("dotfiles/vimrc", link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := store.Add([]tracker.File{store.fileAt(t, ".vimrc")}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	idx, err := store.loadIndex()
	if err != nil {
		t.Fatalf("loadIndex: %v", err)
	}
	e, err := idx.Entry(".vimrc")
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if want := plumbing.ComputeHash(plumbing.BlobObject, []byte("dotfiles/vimrc")); e.Hash != want {
		t.Fatalf("symlink blob = %s, want link target hash %s", e.Hash, want)
	}
}

func TestModifiedEntries(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.sh"} {
		writeFile(t, filepath.Join(store.workTree, name), "x")
	}
	var files []tracker.File
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.sh"} {
		files = append(files, store.fileAt(t, name))
	}
	if err := store.Add(files); err != nil {
		t.Fatalf("Add: %v", err)
	}
	modified, err := store.ModifiedEntries()
	if err != nil {
		t.Fatalf("ModifiedEntries: %v", err)
	}
	if len(modified) != 0 {
		t.Fatalf("fresh index reported modified entries: %v", modified)
	}

	writeFile(t, filepath.Join(store.workTree, "a.txt"), "y")
	if err := os.Remove(filepath.Join(store.workTree, "b.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := os.Chmod(filepath.Join(store.workTree, "d.sh"), 0o755); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	modified, err = store.ModifiedEntries()
	if err != nil {
		t.Fatalf("ModifiedEntries: %v", err)
	}
	if !slices.Equal(modified, []string{"a.txt", "d.sh"}) {
		t.Fatalf("ModifiedEntries = %v, want [a.txt d.sh]", modified)
	}

	// Re-staging clears the modified state.
	if err := store.Add(files[:1]); err != nil {
		t.Fatalf("Add: %v", err)
	}
	modified, err = store.ModifiedEntries()
	if err != nil {
		t.Fatalf("ModifiedEntries: %v", err)
	}
	if !slices.Equal(modified, []string{"d.sh"}) {
		t.Fatalf("ModifiedEntries = %v, want [d.sh]", modified)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	path := filepath.Join(store.workTree, ".gitconfig")
	writeFile(t, path, "[user]\n\tname = a\n")
	if err := store.Add([]tracker.File{store.fileAt(t, ".gitconfig")}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	text, sections, err := store.Diff()
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if text != "" || sections != nil {
		t.Fatalf("expected empty diff, got %q %+v", text, sections)
	}

	writeFile(t, path, "[user]\n\tname = b\n")
	text, sections, err = store.Diff()
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !strings.HasPrefix(text, diffHeader+"\n") {
		t.Fatalf("diff missing header: %q", text)
	}
	if !strings.Contains(text, "-\tname = a") || !strings.Contains(text, "+\tname = b") {
		t.Fatalf("diff missing changed lines: %q", text)
	}
	if len(sections) != 1 || sections[0].Path != ".gitconfig" || sections[0].Line != 2 {
		t.Fatalf("unexpected sections: %+v", sections)
	}
}
