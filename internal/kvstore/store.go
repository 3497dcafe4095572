// Package kvstore tracks work tree files in an embedded badger database.
// It keeps the same staging model as the git backend (entries, snapshots
// and a recap per save) without needing a git executable.
package kvstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/thiagokokada/dotrack/internal/tracker"
)

const (
	DefaultStoreDir = ".dotrack"
	dbDir           = "kv"
)

type Options struct {
	WorkTree string
	// StoreDir is the store directory name under WorkTree.
	StoreDir string
	Logger   *zap.Logger
	// InMemory keeps the database out of the store directory. Used by tests.
	InMemory bool
}

type Store struct {
	db       *badger.DB
	workTree string
	storeDir string
	log      *zap.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder

	now func() time.Time
}

var (
	_ tracker.Backend   = (*Store)(nil)
	_ tracker.Committer = (*Store)(nil)
)

func Open(opts Options) (*Store, error) {
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
	storeDir := filepath.Join(workTree, name)

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dir := filepath.Join(storeDir, dbDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &tracker.PathError{Op: "open", Path: dir, Err: err}
		}
		bopts = badger.DefaultOptions(dir)
	}
	bopts = bopts.WithLogger(badgerLogger{log.Sugar()})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, tracker.WrapStore("open", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}
	log.Debug("kv store opened", zap.String("path", storeDir), zap.Bool("in_memory", opts.InMemory))
	return &Store{
		db:       db,
		workTree: workTree,
		storeDir: storeDir,
		log:      log,
		enc:      enc,
		dec:      dec,
		now:      time.Now,
	}, nil
}

func (s *Store) Name() string { return "kv" }

func (s *Store) WorkTree() string { return s.workTree }

func (s *Store) StoreDir() string { return s.storeDir }

func (s *Store) Close() error {
	s.dec.Close()
	return errors.Join(s.enc.Close(), s.db.Close())
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
