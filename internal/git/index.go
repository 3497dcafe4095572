package git

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
	"go.uber.org/zap"

	"github.com/thiagokokada/dotrack/internal/tracker"
)

// Add stages files into the index. The index is loaded once, every file is
// written as a blob and recorded, and the index is written once at the end;
// a failure before the write leaves the stored index untouched.
func (s *Store) Add(files []tracker.File) error {
	idx, err := s.loadIndex()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.stage(idx, f); err != nil {
			return err
		}
	}
	if err := s.writeIndex(idx); err != nil {
		return err
	}
	s.log.Debug("index updated", zap.Int("staged", len(files)), zap.Int("entries", len(idx.Entries)))
	return nil
}

// Remove drops every entry equal to one of rels or nested under it.
func (s *Store) Remove(rels []string) error {
	idx, err := s.loadIndex()
	if err != nil {
		return err
	}
	kept := idx.Entries[:0]
	removed := 0
	for _, e := range idx.Entries {
		if matchesAny(e.Name, rels) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	idx.Entries = kept
	if err := s.writeIndex(idx); err != nil {
		return err
	}
	s.log.Debug("index updated", zap.Int("removed", removed), zap.Int("entries", len(idx.Entries)))
	return nil
}

func matchesAny(name string, rels []string) bool {
	for _, rel := range rels {
		if tracker.MatchesPrefix(name, rel) {
			return true
		}
	}
	return false
}

func (s *Store) stage(idx *gitindex.Index, f tracker.File) error {
	info, err := os.Lstat(f.Abs)
	if err != nil {
		return &tracker.PathError{Op: "track", Path: f.Abs, Err: err}
	}
	mode, err := filemode.NewFromOSFileMode(info.Mode())
	if err != nil {
		return &tracker.PathError{Op: "track", Path: f.Abs, Err: err}
	}
	content, err := readContent(f.Abs, info)
	if err != nil {
		return &tracker.PathError{Op: "track", Path: f.Abs, Err: err}
	}
	hash, err := s.writeBlob(content)
	if err != nil {
		return tracker.WrapStore("write blob "+f.Rel, err)
	}

	dropClashing(idx, f.Rel)
	entry, err := idx.Entry(f.Rel)
	if errors.Is(err, gitindex.ErrEntryNotFound) {
		entry = idx.Add(f.Rel)
	} else if err != nil {
		return tracker.WrapStore("read index", err)
	}
	entry.Hash = hash
	entry.Mode = mode
	entry.Size = uint32(info.Size())
	entry.ModifiedAt = info.ModTime()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = info.ModTime()
	}
	return nil
}

// dropClashing removes the entries that cannot coexist with a file at rel:
// a file standing where one of its parent directories now is, or files
// nested under rel when rel used to be a directory.
func dropClashing(idx *gitindex.Index, rel string) {
	kept := idx.Entries[:0]
	for _, e := range idx.Entries {
		if strings.HasPrefix(rel, e.Name+"/") || strings.HasPrefix(e.Name, rel+"/") {
			continue
		}
		kept = append(kept, e)
	}
	idx.Entries = kept
}

// readContent returns what git stores for the file: the link target for
// symlinks, the file bytes otherwise.
func readContent(path string, info fs.FileInfo) ([]byte, error) {
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return nil, err
		}
		return []byte(target), nil
	}
	return os.ReadFile(path)
}

func (s *Store) writeBlob(content []byte) (plumbing.Hash, error) {
	hash := plumbing.ComputeHash(plumbing.BlobObject, content)
	if err := s.repo.Storer.HasEncodedObject(hash); err == nil {
		return hash, nil
	}
	obj := s.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.repo.Storer.SetEncodedObject(obj)
}

func (s *Store) writeIndex(idx *gitindex.Index) error {
	// The cached tree extension describes the previous entry set.
	idx.Cache = nil
	sort.Slice(idx.Entries, func(i, j int) bool { return idx.Entries[i].Name < idx.Entries[j].Name })
	if err := s.repo.Storer.SetIndex(idx); err != nil {
		return tracker.WrapStore("write index", err)
	}
	return nil
}
