package git

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/thiagokokada/dotrack/internal/tracker"
)

type hashKey struct {
	path  string
	size  int64
	mtime int64
	mode  fs.FileMode
}

// ModifiedEntries returns the entries whose work tree content or mode no
// longer matches the index. Staged-but-uncommitted entries are not modified
// unless they were edited again, and deleted files are skipped.
func (s *Store) ModifiedEntries() ([]string, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range idx.Entries {
		modified, err := s.worktreeModified(e)
		if err != nil {
			return nil, err
		}
		if modified {
			names = append(names, e.Name)
		}
	}
	s.log.Debug("modified scan", zap.Int("entries", len(idx.Entries)), zap.Int("modified", len(names)))
	return names, nil
}

func (s *Store) worktreeModified(e *gitindex.Entry) (bool, error) {
	abs := filepath.Join(s.workTree, filepath.FromSlash(e.Name))
	info, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &tracker.PathError{Op: "status", Path: abs, Err: err}
	}
	mode, err := filemode.NewFromOSFileMode(info.Mode())
	if err != nil || mode != e.Mode {
		return true, nil
	}
	if uint32(info.Size()) != e.Size {
		return true, nil
	}
	hash, err := s.diskHash(abs, info)
	if err != nil {
		return false, &tracker.PathError{Op: "status", Path: abs, Err: err}
	}
	return hash != e.Hash, nil
}

// diskHash returns the blob hash of the file at abs, memoized on its size,
// mtime and mode.
func (s *Store) diskHash(abs string, info fs.FileInfo) (plumbing.Hash, error) {
	key := hashKey{path: abs, size: info.Size(), mtime: info.ModTime().UnixNano(), mode: info.Mode()}
	if hash, ok := s.hashes.Get(key); ok {
		return hash, nil
	}
	content, err := readContent(abs, info)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	hash := plumbing.ComputeHash(plumbing.BlobObject, content)
	s.hashes.Add(key, hash)
	return hash, nil
}

type headFile struct {
	hash plumbing.Hash
	mode filemode.FileMode
}

// Changes compares the index against the HEAD tree. Untracked and ignored
// files never appear since only index entries are considered.
func (s *Store) Changes() (tracker.ChangeSet, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	return s.changes(idx)
}

func (s *Store) changes(idx *gitindex.Index) (tracker.ChangeSet, error) {
	head, err := s.headFiles()
	if err != nil {
		return nil, err
	}
	var cs tracker.ChangeSet
	for _, e := range idx.Entries {
		prev, ok := head[e.Name]
		switch {
		case !ok:
			cs = append(cs, tracker.Change{Path: e.Name, Kind: tracker.IndexNew})
		case prev.hash != e.Hash || prev.mode != e.Mode:
			cs = append(cs, tracker.Change{Path: e.Name, Kind: tracker.IndexModified})
		}
		delete(head, e.Name)
	}
	for name := range head {
		cs = append(cs, tracker.Change{Path: name, Kind: tracker.IndexDeleted})
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].Path < cs[j].Path })
	return cs, nil
}

// headFiles maps every file of the HEAD tree to its blob. An unborn HEAD
// yields an empty map.
func (s *Store) headFiles() (map[string]headFile, error) {
	files := map[string]headFile{}
	commit, err := s.headCommit()
	if err != nil || commit == nil {
		return files, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, tracker.WrapStore("read HEAD tree", err)
	}
	err = tree.Files().ForEach(func(f *object.File) error {
		files[f.Name] = headFile{hash: f.Hash, mode: f.Mode}
		return nil
	})
	if err != nil {
		return nil, tracker.WrapStore("walk HEAD tree", err)
	}
	return files, nil
}

// headCommit returns nil without error when HEAD is unborn.
func (s *Store) headCommit() (*object.Commit, error) {
	ref, err := s.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, tracker.WrapStore("resolve HEAD", err)
	}
	commit, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, tracker.WrapStore("read HEAD commit", err)
	}
	return commit, nil
}
