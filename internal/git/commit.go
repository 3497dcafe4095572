package git

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"go.uber.org/zap"

	"github.com/thiagokokada/dotrack/internal/tracker"
)

// Save commits the index. It fails with tracker.ErrNothingToCommit when the
// index matches HEAD, and never produces merge commits: the parent is the
// current HEAD commit, or nothing on an unborn branch.
func (s *Store) Save() (string, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return "", err
	}
	cs, err := s.changes(idx)
	if err != nil {
		return "", err
	}
	if len(cs) == 0 {
		return "", tracker.ErrNothingToCommit
	}
	message := cs.Recap()

	sig, err := s.signature()
	if err != nil {
		return "", err
	}
	treeHash, err := writeTree(s.repo.Storer, idx.Entries)
	if err != nil {
		return "", tracker.WrapStore("write tree", err)
	}
	head, err := s.headCommit()
	if err != nil {
		return "", err
	}
	var parents []plumbing.Hash
	if head != nil {
		parents = []plumbing.Hash{head.Hash}
	}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: parents,
	}
	obj := s.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return "", tracker.WrapStore("encode commit", err)
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", tracker.WrapStore("write commit", err)
	}
	if err := s.advanceHead(hash); err != nil {
		return "", err
	}
	s.log.Debug("commit created",
		zap.String("hash", hash.String()),
		zap.Int("parents", len(parents)),
		zap.Int("changes", len(cs)),
	)
	return message, nil
}

// signature reads user.name and user.email from the store config merged
// over the global config.
func (s *Store) signature() (object.Signature, error) {
	cfg, err := s.repo.ConfigScoped(config.GlobalScope)
	if err != nil {
		return object.Signature{}, tracker.WrapStore("read config", err)
	}
	name := strings.TrimSpace(cfg.User.Name)
	email := strings.TrimSpace(cfg.User.Email)
	if name == "" || email == "" {
		return object.Signature{}, tracker.ErrIdentityMissing
	}
	return object.Signature{Name: name, Email: email, When: s.now()}, nil
}

// advanceHead moves the branch HEAD points at, or HEAD itself when detached.
func (s *Store) advanceHead(hash plumbing.Hash) error {
	head, err := s.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return tracker.WrapStore("read HEAD", err)
	}
	name := plumbing.HEAD
	if head.Type() == plumbing.SymbolicReference {
		name = head.Target()
	}
	old, err := s.repo.Storer.Reference(name)
	if err != nil && err != plumbing.ErrReferenceNotFound {
		return tracker.WrapStore("read "+name.String(), err)
	}
	if err := s.repo.Storer.CheckAndSetReference(plumbing.NewHashReference(name, hash), old); err != nil {
		return tracker.WrapStore("update "+name.String(), err)
	}
	return nil
}

type treeBuilder struct {
	files map[string]*gitindex.Entry
	dirs  map[string]*treeBuilder
}

func newTreeBuilder() *treeBuilder {
	return &treeBuilder{files: map[string]*gitindex.Entry{}, dirs: map[string]*treeBuilder{}}
}

func (b *treeBuilder) insert(parts []string, e *gitindex.Entry) {
	if len(parts) == 1 {
		b.files[parts[0]] = e
		return
	}
	sub, ok := b.dirs[parts[0]]
	if !ok {
		sub = newTreeBuilder()
		b.dirs[parts[0]] = sub
	}
	sub.insert(parts[1:], e)
}

func (b *treeBuilder) write(st storer.EncodedObjectStorer) (plumbing.Hash, error) {
	tree := &object.Tree{}
	for name, e := range b.files {
		if _, clash := b.dirs[name]; clash {
			return plumbing.ZeroHash, fmt.Errorf("index entry %s is both a file and a directory", e.Name)
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: e.Mode, Hash: e.Hash})
	}
	for name, sub := range b.dirs {
		hash, err := sub.write(st)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}
	// Git orders tree entries as if directory names ended with a slash.
	sort.Slice(tree.Entries, func(i, j int) bool {
		return treeSortName(tree.Entries[i]) < treeSortName(tree.Entries[j])
	})
	obj := st.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return st.SetEncodedObject(obj)
}

func treeSortName(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

// writeTree stores the tree objects describing entries and returns the root.
func writeTree(st storer.EncodedObjectStorer, entries []*gitindex.Entry) (plumbing.Hash, error) {
	root := newTreeBuilder()
	for _, e := range entries {
		if e.Name == "" {
			return plumbing.ZeroHash, fmt.Errorf("index entry with empty path")
		}
		root.insert(strings.Split(e.Name, "/"), e)
	}
	return root.write(st)
}
