package kvstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/thiagokokada/dotrack/internal/tracker"
)

const (
	entryPrefix  = "entry:"
	blobPrefix   = "blob:"
	tombPrefix   = "tomb:"
	commitPrefix = "commit:"
	headKey      = "head"
)

// Git-compatible modes so both backends agree on what a mode change is.
const (
	modeRegular    uint32 = 0o100644
	modeExecutable uint32 = 0o100755
	modeSymlink    uint32 = 0o120000
)

type entry struct {
	Path      string    `json:"path"`
	Hash      string    `json:"hash"`
	Mode      uint32    `json:"mode"`
	Size      int64     `json:"size"`
	TrackedAt time.Time `json:"tracked_at"`

	// Committed* describe the entry as of the last snapshot. Empty for
	// entries added since.
	CommittedHash string `json:"committed_hash,omitempty"`
	CommittedMode uint32 `json:"committed_mode,omitempty"`
}

// tomb marks a committed entry removed since the last snapshot.
type tomb struct {
	Hash string `json:"hash"`
	Mode uint32 `json:"mode"`
}

func entryKey(rel string) []byte { return []byte(entryPrefix + rel) }

func tombKey(rel string) []byte { return []byte(tombPrefix + rel) }

func blobKey(hash string) []byte { return []byte(blobPrefix + hash) }

func contentHash(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

func modeOf(info fs.FileInfo) uint32 {
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		return modeSymlink
	case info.Mode().Perm()&0o111 != 0:
		return modeExecutable
	default:
		return modeRegular
	}
}

// readContent returns the link target for symlinks and the file bytes
// otherwise.
func readContent(abs string, info fs.FileInfo) ([]byte, error) {
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(abs)
		if err != nil {
			return nil, err
		}
		return []byte(target), nil
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("unsupported file type %s", info.Mode().Type())
	}
	return os.ReadFile(abs)
}

type staged struct {
	file tracker.File
	data []byte
	info fs.FileInfo
}

// Add stages the batch in a single transaction. Every file is read before
// the transaction starts, so an unreadable file leaves the store untouched.
func (s *Store) Add(files []tracker.File) error {
	batch := make([]staged, 0, len(files))
	for _, f := range files {
		info, err := os.Lstat(f.Abs)
		if err != nil {
			return &tracker.PathError{Op: "stage", Path: f.Abs, Err: err}
		}
		data, err := readContent(f.Abs, info)
		if err != nil {
			return &tracker.PathError{Op: "stage", Path: f.Abs, Err: err}
		}
		batch = append(batch, staged{file: f, data: data, info: info})
	}

	now := s.now()
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := dropClashing(txn, batch); err != nil {
			return err
		}
		for _, st := range batch {
			hash := contentHash(st.data)
			if err := s.putBlob(txn, hash, st.data); err != nil {
				return err
			}
			e, found, err := getEntry(txn, st.file.Rel)
			if err != nil {
				return err
			}
			if !found {
				e = entry{Path: st.file.Rel, TrackedAt: now}
				// Re-adding a removed entry revives its snapshot state.
				t, dead, err := getTomb(txn, st.file.Rel)
				if err != nil {
					return err
				}
				if dead {
					e.CommittedHash, e.CommittedMode = t.Hash, t.Mode
					if err := txn.Delete(tombKey(st.file.Rel)); err != nil {
						return err
					}
				}
			}
			e.Hash = hash
			e.Mode = modeOf(st.info)
			e.Size = int64(len(st.data))
			if err := putJSON(txn, entryKey(st.file.Rel), e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return tracker.WrapStore("stage", err)
	}
	s.log.Debug("staged files", zap.Int("count", len(batch)))
	return nil
}

func (s *Store) putBlob(txn *badger.Txn, hash string, data []byte) error {
	key := blobKey(hash)
	if _, err := txn.Get(key); err == nil {
		return nil
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return txn.Set(key, s.enc.EncodeAll(data, nil))
}

// Content returns the staged content of rel.
func (s *Store) Content(rel string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		e, found, err := getEntry(txn, rel)
		if err != nil {
			return err
		}
		if !found {
			return &tracker.PathError{Op: "read", Path: rel, Err: tracker.ErrPathNotFound}
		}
		item, err := txn.Get(blobKey(e.Hash))
		if err != nil {
			return fmt.Errorf("blob %s: %w", e.Hash, err)
		}
		return item.Value(func(val []byte) error {
			data, err = s.dec.DecodeAll(val, nil)
			return err
		})
	})
	if err != nil {
		return nil, tracker.WrapStore("read", err)
	}
	return data, nil
}

// Remove drops every entry equal to, or nested under, one of rels.
// Committed entries leave a tomb so the next save records their deletion.
func (s *Store) Remove(rels []string) error {
	removed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		entries, err := listEntries(txn)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !matchesAny(e.Path, rels) {
				continue
			}
			if err := dropEntry(txn, e); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return tracker.WrapStore("unstage", err)
	}
	s.log.Debug("removed entries", zap.Int("count", removed))
	return nil
}

func dropEntry(txn *badger.Txn, e entry) error {
	if err := txn.Delete(entryKey(e.Path)); err != nil {
		return err
	}
	if e.CommittedHash == "" {
		return nil
	}
	return putJSON(txn, tombKey(e.Path), tomb{Hash: e.CommittedHash, Mode: e.CommittedMode})
}

// dropClashing removes entries a staged file replaces: a file where one of
// its parent directories now is, or files under a path that is now a file.
func dropClashing(txn *badger.Txn, batch []staged) error {
	files := make(map[string]bool, len(batch))
	dirs := map[string]bool{}
	for _, st := range batch {
		files[st.file.Rel] = true
		for dir := path.Dir(st.file.Rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
			dirs[dir] = true
		}
	}
	entries, err := listEntries(txn)
	if err != nil {
		return err
	}
	for _, e := range entries {
		clash := dirs[e.Path]
		for dir := path.Dir(e.Path); !clash && dir != "." && dir != "/"; dir = path.Dir(dir) {
			clash = files[dir]
		}
		if !clash {
			continue
		}
		if err := dropEntry(txn, e); err != nil {
			return err
		}
	}
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

func (s *Store) Entries() ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(entryPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, strings.TrimPrefix(string(it.Item().Key()), entryPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, tracker.WrapStore("read entries", err)
	}
	return out, nil
}

// ModifiedEntries reports entries whose file on disk differs in mode or
// content from what was staged. Missing files are not reported.
func (s *Store) ModifiedEntries() ([]string, error) {
	var entries []entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		entries, err = listEntries(txn)
		return err
	})
	if err != nil {
		return nil, tracker.WrapStore("read entries", err)
	}
	var out []string
	for _, e := range entries {
		modified, err := s.modified(e)
		if err != nil {
			return nil, err
		}
		if modified {
			out = append(out, e.Path)
		}
	}
	return out, nil
}

func (s *Store) modified(e entry) (bool, error) {
	abs := filepath.Join(s.workTree, filepath.FromSlash(e.Path))
	info, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &tracker.PathError{Op: "status", Path: abs, Err: err}
	}
	if modeOf(info) != e.Mode {
		return true, nil
	}
	if info.Mode().IsRegular() && info.Size() != e.Size {
		return true, nil
	}
	data, err := readContent(abs, info)
	if err != nil {
		return false, &tracker.PathError{Op: "status", Path: abs, Err: err}
	}
	return contentHash(data) != e.Hash, nil
}

func getEntry(txn *badger.Txn, rel string) (entry, bool, error) {
	var e entry
	found, err := getJSON(txn, entryKey(rel), &e)
	return e, found, err
}

func getTomb(txn *badger.Txn, rel string) (tomb, bool, error) {
	var t tomb
	found, err := getJSON(txn, tombKey(rel), &t)
	return t, found, err
}

func listEntries(txn *badger.Txn) ([]entry, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var out []entry
	prefix := []byte(entryPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var e entry
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
		}
		out = append(out, e)
	}
	return out, nil
}

func listTombs(txn *badger.Txn) (map[string]tomb, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	out := make(map[string]tomb)
	prefix := []byte(tombPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		var t tomb
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &t)
		}); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", key, err)
		}
		out[string(bytes.TrimPrefix(key, []byte(tombPrefix)))] = t
	}
	return out, nil
}

func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, v) }); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return txn.Set(key, data)
}
