package tracker

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Engine is the single tracking front-end shared by every backend. It
// validates path arguments against the work tree, expands directories, owns
// the active Filter and caches the materialized listing for it.
type Engine struct {
	// mu serializes backend access and guards the filter and listing cache.
	mu sync.Mutex

	backend  Backend
	log      *zap.Logger
	workTree string
	storeDir string

	filter  Filter
	listing []string
	cached  bool
}

func New(backend Backend, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		backend:  backend,
		log:      log,
		workTree: backend.WorkTree(),
		storeDir: backend.StoreDir(),
	}
}

func (e *Engine) Backend() Backend { return e.backend }

func (e *Engine) WorkTree() string { return e.workTree }

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invalidateLocked()
	return e.backend.Close()
}

func (e *Engine) Filter() Filter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filter
}

// SetFilter switches the active filter. Changing it drops the cached listing.
func (e *Engine) SetFilter(f Filter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.filter == f {
		return
	}
	e.log.Debug("filter changed", zap.Stringer("from", e.filter), zap.Stringer("to", f))
	e.filter = f
	e.invalidateLocked()
}

// Reset drops the cached listing so the next List reads the store again.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invalidateLocked()
}

func (e *Engine) invalidateLocked() {
	e.listing = nil
	e.cached = false
}

// List returns the sorted absolute paths matching the active filter. The
// result is computed on the first call after an invalidation and served
// from the cache afterwards.
func (e *Engine) List() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cached {
		return slices.Clone(e.listing), nil
	}
	paths, err := e.queryLocked(e.filter)
	if err != nil {
		return nil, err
	}
	e.log.Debug("listing rebuilt", zap.Stringer("filter", e.filter), zap.Int("paths", len(paths)))
	e.listing = paths
	e.cached = true
	return slices.Clone(paths), nil
}

// Query lists the paths matching f without touching the active filter or
// the listing cache.
func (e *Engine) Query(f Filter) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queryLocked(f)
}

func (e *Engine) queryLocked(f Filter) ([]string, error) {
	var (
		rels []string
		err  error
	)
	switch f {
	case FilterModified:
		rels, err = e.backend.ModifiedEntries()
	default:
		rels, err = e.backend.Entries()
	}
	if err != nil {
		return nil, WrapStore("list", err)
	}
	paths := make([]string, 0, len(rels))
	for _, rel := range rels {
		if !utf8.ValidString(rel) {
			e.log.Debug("skipping non UTF-8 index entry", zap.ByteString("path", []byte(rel)))
			continue
		}
		paths = append(paths, filepath.Join(e.workTree, filepath.FromSlash(rel)))
	}
	slices.Sort(paths)
	return paths, nil
}

// Track stages every path, expanding directories recursively. The batch is
// all-or-nothing: every argument is validated and expanded before the
// backend is touched, and the backend persists the batch with one write.
func (e *Engine) Track(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var files []File
	seen := make(map[string]struct{})
	for _, p := range paths {
		abs, _, err := e.resolve("track", p, true)
		if err != nil {
			return err
		}
		collected, err := e.collect("track", p, abs)
		if err != nil {
			return err
		}
		for _, f := range collected {
			if _, ok := seen[f.Rel]; ok {
				continue
			}
			seen[f.Rel] = struct{}{}
			files = append(files, f)
		}
	}
	e.log.Debug("track batch", zap.Int("arguments", len(paths)), zap.Int("files", len(files)))
	if len(files) == 0 {
		return nil
	}
	if err := e.backend.Add(files); err != nil {
		return WrapStore("track", err)
	}
	e.invalidateLocked()
	return nil
}

// Untrack removes every entry equal to, or nested under, each path. A path
// that no longer exists on disk is accepted as long as something is tracked
// under it.
func (e *Engine) Untrack(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		rels    []string
		tracked []string
		loaded  bool
	)
	for _, p := range paths {
		abs, exists, err := e.resolve("untrack", p, false)
		if err != nil {
			return err
		}
		rel, err := e.relative("untrack", abs)
		if err != nil {
			return err
		}
		if !exists {
			if !loaded {
				tracked, err = e.backend.Entries()
				if err != nil {
					return WrapStore("untrack", err)
				}
				loaded = true
			}
			if !slices.ContainsFunc(tracked, func(name string) bool { return MatchesPrefix(name, rel) }) {
				return &PathError{Op: "untrack", Path: p, Err: ErrPathNotFound}
			}
		}
		rels = append(rels, rel)
	}
	e.log.Debug("untrack batch", zap.Strings("paths", rels))
	if err := e.backend.Remove(rels); err != nil {
		return WrapStore("untrack", err)
	}
	e.invalidateLocked()
	return nil
}

// Save records the staged state and returns the recap message.
func (e *Engine) Save() (string, error) {
	c, ok := e.backend.(Committer)
	if !ok {
		return "", unsupported(e.backend.Name(), "save")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	msg, err := c.Save()
	if err != nil {
		return "", WrapStore("save", err)
	}
	e.invalidateLocked()
	return msg, nil
}

// Changes reports the staged changes Save would record.
func (e *Engine) Changes() (ChangeSet, error) {
	c, ok := e.backend.(Committer)
	if !ok {
		return nil, unsupported(e.backend.Name(), "status")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, err := c.Changes()
	return cs, WrapStore("status", err)
}

func (e *Engine) AddRemote(name, url string) (string, error) {
	p, ok := e.backend.(Publisher)
	if !ok {
		return "", unsupported(e.backend.Name(), "remote add")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	got, err := p.AddRemote(name, url)
	return got, WrapStore("remote add", err)
}

func (e *Engine) Push(ctx context.Context, remote, branch string) error {
	p, ok := e.backend.(Publisher)
	if !ok {
		return unsupported(e.backend.Name(), "push")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return p.Push(ctx, remote, branch)
}

func (e *Engine) Diff() (string, []FileSection, error) {
	d, ok := e.backend.(Differ)
	if !ok {
		return "", nil, unsupported(e.backend.Name(), "diff")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	text, sections, err := d.Diff()
	return text, sections, WrapStore("diff", err)
}

func (e *Engine) History(limit int) ([]string, error) {
	h, ok := e.backend.(Historian)
	if !ok {
		return nil, unsupported(e.backend.Name(), "log")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	entries, err := h.History(limit)
	return entries, WrapStore("log", err)
}

// resolve expands a leading "~" to the work tree, makes the path absolute
// and canonicalizes its parent directories. The final element is kept as-is
// so symlinks are tracked as links. With mustExist a missing path fails with
// ErrPathNotFound before the work tree check.
func (e *Engine) resolve(op, path string, mustExist bool) (string, bool, error) {
	if path == "" {
		return "", false, &PathError{Op: op, Path: path, Err: ErrPathNotFound}
	}
	p := path
	switch {
	case p == "~":
		p = e.workTree
	case strings.HasPrefix(p, "~/"), strings.HasPrefix(p, "~"+string(filepath.Separator)):
		p = filepath.Join(e.workTree, p[2:])
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false, &PathError{Op: op, Path: path, Err: err}
	}
	exists := true
	if _, err := os.Lstat(abs); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return "", false, &PathError{Op: op, Path: path, Err: err}
		}
		if mustExist {
			return "", false, &PathError{Op: op, Path: path, Err: ErrPathNotFound}
		}
		exists = false
	}
	canonical := canonicalize(abs)
	if !within(e.workTree, canonical) {
		return "", false, &PathError{Op: op, Path: path, Err: ErrOutsideWorkTree}
	}
	if e.storeDir != "" && within(e.storeDir, canonical) {
		return "", false, &PathError{Op: op, Path: path, Err: ErrInsideStore}
	}
	return canonical, exists, nil
}

func (e *Engine) relative(op, abs string) (string, error) {
	rel, err := filepath.Rel(e.workTree, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathError{Op: op, Path: abs, Err: ErrStripPrefix}
	}
	return filepath.ToSlash(rel), nil
}

// collect expands abs into the files to stage. Directories are walked
// recursively with hidden files included and the store directory skipped.
func (e *Engine) collect(op, arg, abs string) ([]File, error) {
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, &PathError{Op: op, Path: arg, Err: err}
	}
	if !info.IsDir() {
		rel, err := e.relative(op, abs)
		if err != nil {
			return nil, err
		}
		if !utf8.ValidString(rel) {
			return nil, &PathError{Op: op, Path: arg, Err: ErrInvalidUTF8Path}
		}
		return []File{{Abs: abs, Rel: rel}}, nil
	}
	var files []File
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return &PathError{Op: op, Path: p, Err: err}
		}
		if d.IsDir() {
			if p == e.storeDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		rel, err := e.relative(op, p)
		if err != nil {
			return err
		}
		if !utf8.ValidString(rel) {
			e.log.Debug("skipping non UTF-8 path", zap.ByteString("path", []byte(rel)))
			return nil
		}
		files = append(files, File{Abs: p, Rel: rel})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// MatchesPrefix reports whether the tracked relative path name is rel or
// lies under the directory rel. "." matches everything.
func MatchesPrefix(name, rel string) bool {
	if rel == "." || rel == "" {
		return true
	}
	return name == rel || strings.HasPrefix(name, rel+"/")
}

func canonicalize(path string) string {
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(parent); err == nil {
		return filepath.Join(resolved, filepath.Base(path))
	}
	return filepath.Join(canonicalize(parent), filepath.Base(path))
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
