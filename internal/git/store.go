package git

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/storage/filesystem"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/thiagokokada/dotrack/internal/tracker"
)

const (
	DefaultStoreDir = ".dotrack"
	DefaultBranch   = "main"

	hashCacheSize = 4096
)

type Options struct {
	// WorkTree is the directory whose files are tracked, normally the home
	// directory.
	WorkTree string
	// StoreDir is the name of the bare repository directory created directly
	// under WorkTree.
	StoreDir string
	// DefaultBranch names the branch HEAD points at in a fresh store.
	DefaultBranch string
	// Probe, when set, runs before anything is opened. A failure means the
	// git executable is unavailable.
	Probe func() error
	// Credentials is the ordered chain consulted by Push. Nil selects
	// DefaultCredentialProviders.
	Credentials []CredentialProvider
	Logger      *zap.Logger
}

// Store is a bare git repository whose work tree is bound to a directory
// without a checkout, so tracked files are read in place.
type Store struct {
	repo     *gitlib.Repository
	workTree string
	storeDir string

	log         *zap.Logger
	credentials []CredentialProvider
	hashes      *lru.Cache[hashKey, plumbing.Hash]
	now         func() time.Time
}

var _ tracker.Backend = (*Store)(nil)
var _ tracker.Committer = (*Store)(nil)
var _ tracker.Publisher = (*Store)(nil)
var _ tracker.Differ = (*Store)(nil)
var _ tracker.Historian = (*Store)(nil)

// Open opens the store under opts.WorkTree, initializing it on first use.
func Open(opts Options) (*Store, error) {
	if opts.Probe != nil {
		if err := opts.Probe(); err != nil {
			return nil, fmt.Errorf("%w: %v", tracker.ErrGitNotInstalled, err)
		}
	}
	workTree, err := tracker.CanonicalWorkTree(opts.WorkTree)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	name := opts.StoreDir
	if name == "" {
		name = DefaultStoreDir
	}
	branch := opts.DefaultBranch
	if branch == "" {
		branch = DefaultBranch
	}
	storeDir := filepath.Join(workTree, name)
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return nil, &tracker.PathError{Op: "open", Path: storeDir, Err: err}
	}

	storer := filesystem.NewStorage(osfs.New(storeDir), cache.NewObjectLRUDefault())
	repo, err := gitlib.Open(storer, osfs.New(workTree))
	if errors.Is(err, gitlib.ErrRepositoryNotExists) {
		log.Debug("initializing store", zap.String("path", storeDir), zap.String("branch", branch))
		repo, err = initRepository(storer, workTree, branch)
	}
	if err != nil {
		return nil, tracker.WrapStore("open", err)
	}

	hashes, err := lru.New[hashKey, plumbing.Hash](hashCacheSize)
	if err != nil {
		return nil, err
	}
	credentials := opts.Credentials
	if credentials == nil {
		credentials = DefaultCredentialProviders(workTree, os.LookupEnv)
	}
	log.Debug("store opened", zap.String("store", storeDir), zap.String("work_tree", workTree))
	return &Store{
		repo:        repo,
		workTree:    workTree,
		storeDir:    storeDir,
		log:         log,
		credentials: credentials,
		hashes:      hashes,
		now:         time.Now,
	}, nil
}

// initRepository creates a bare repository and records the work tree in its
// config so the git CLI can operate on it with --git-dir alone. Nothing is
// written inside the work tree itself.
func initRepository(storer *filesystem.Storage, workTree, branch string) (*gitlib.Repository, error) {
	repo, err := gitlib.InitWithOptions(storer, nil, gitlib.InitOptions{
		DefaultBranch: plumbing.NewBranchReferenceName(branch),
	})
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	cfg, err := repo.Config()
	if err != nil {
		return nil, err
	}
	cfg.Core.IsBare = false
	cfg.Core.Worktree = workTree
	cfg.Raw.Section("status").SetOption("showUntrackedFiles", "no")
	if err := repo.SetConfig(cfg); err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}
	return gitlib.Open(storer, osfs.New(workTree))
}

func (s *Store) Name() string { return "git" }

func (s *Store) WorkTree() string { return s.workTree }

func (s *Store) StoreDir() string { return s.storeDir }

// Repository exposes the underlying go-git handle.
func (s *Store) Repository() *gitlib.Repository { return s.repo }

func (s *Store) Close() error {
	s.hashes.Purge()
	return nil
}

// SetIdentity records user.name and user.email in the store's own config.
func (s *Store) SetIdentity(name, email string) error {
	cfg, err := s.repo.Config()
	if err != nil {
		return tracker.WrapStore("read config", err)
	}
	cfg.User.Name = name
	cfg.User.Email = email
	if err := s.repo.SetConfig(cfg); err != nil {
		return tracker.WrapStore("write config", err)
	}
	return nil
}

func (s *Store) Entries() ([]string, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		names = append(names, e.Name)
	}
	return names, nil
}

func (s *Store) loadIndex() (*gitindex.Index, error) {
	idx, err := s.repo.Storer.Index()
	if err != nil {
		return nil, tracker.WrapStore("read index", err)
	}
	return idx, nil
}
