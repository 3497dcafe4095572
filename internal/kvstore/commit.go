package kvstore

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thiagokokada/dotrack/internal/tracker"
)

// Snapshot is the record written by each save.
type Snapshot struct {
	ID      string            `json:"id"`
	Parent  string            `json:"parent,omitempty"`
	Message string            `json:"message"`
	Time    time.Time         `json:"time"`
	Files   map[string]string `json:"files"`
}

// Changes compares the staged entries with the last snapshot.
func (s *Store) Changes() (tracker.ChangeSet, error) {
	var cs tracker.ChangeSet
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		cs, _, err = changes(txn)
		return err
	})
	if err != nil {
		return nil, tracker.WrapStore("status", err)
	}
	return cs, nil
}

func changes(txn *badger.Txn) (tracker.ChangeSet, []entry, error) {
	entries, err := listEntries(txn)
	if err != nil {
		return nil, nil, err
	}
	tombs, err := listTombs(txn)
	if err != nil {
		return nil, nil, err
	}
	var cs tracker.ChangeSet
	for _, e := range entries {
		switch {
		case e.CommittedHash == "":
			cs = append(cs, tracker.Change{Path: e.Path, Kind: tracker.IndexNew})
		case e.CommittedHash != e.Hash || e.CommittedMode != e.Mode:
			cs = append(cs, tracker.Change{Path: e.Path, Kind: tracker.IndexModified})
		}
	}
	for rel := range tombs {
		cs = append(cs, tracker.Change{Path: rel, Kind: tracker.IndexDeleted})
	}
	slices.SortFunc(cs, func(a, b tracker.Change) int { return strings.Compare(a.Path, b.Path) })
	return cs, entries, nil
}

// Save records a snapshot of every staged entry and returns its recap.
func (s *Store) Save() (string, error) {
	var (
		msg string
		id  string
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		cs, entries, err := changes(txn)
		if err != nil {
			return err
		}
		if len(cs) == 0 {
			return tracker.ErrNothingToCommit
		}
		msg = cs.Recap()

		parent, err := head(txn)
		if err != nil {
			return err
		}
		rec := Snapshot{
			ID:      uuid.New().String(),
			Parent:  parent,
			Message: msg,
			Time:    s.now(),
			Files:   make(map[string]string, len(entries)),
		}
		for _, e := range entries {
			rec.Files[e.Path] = e.Hash
			e.CommittedHash, e.CommittedMode = e.Hash, e.Mode
			if err := putJSON(txn, entryKey(e.Path), e); err != nil {
				return err
			}
		}
		for _, ch := range cs {
			if ch.Kind != tracker.IndexDeleted {
				continue
			}
			if err := txn.Delete(tombKey(ch.Path)); err != nil {
				return err
			}
		}
		if err := putJSON(txn, []byte(commitPrefix+rec.ID), rec); err != nil {
			return err
		}
		if err := txn.Set([]byte(headKey), []byte(rec.ID)); err != nil {
			return err
		}
		id = rec.ID
		return nil
	})
	if err != nil {
		return "", tracker.WrapStore("commit", err)
	}
	s.log.Debug("snapshot recorded", zap.String("id", id))
	return msg, nil
}

func head(txn *badger.Txn) (string, error) {
	item, err := txn.Get([]byte(headKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// Head returns the last snapshot, or nil before the first save.
func (s *Store) Head() (*Snapshot, error) {
	var rec *Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := head(txn)
		if err != nil || id == "" {
			return err
		}
		var r Snapshot
		found, err := getJSON(txn, []byte(commitPrefix+id), &r)
		if err != nil {
			return err
		}
		if found {
			rec = &r
		}
		return nil
	})
	if err != nil {
		return nil, tracker.WrapStore("read head", err)
	}
	return rec, nil
}
