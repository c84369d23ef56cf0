// Package savestore keeps saved interlocking states in a buntdb database.
//
// Each save is stored under two keys: save:<id>:meta holds the JSON Meta and save:<id>:data the
// base64 encoded save stream.
package savestore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/buntdb"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("save not found")

const savedIndex = "saved"

type Meta struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Preset string    `json:"preset"`
	// RunID is the environment the state was saved from.
	RunID uuid.UUID `json:"run-id"`
	// SavedAt is in Unix nanoseconds so the index sorts it numerically.
	SavedAt int64 `json:"saved-at"`
	Size    int   `json:"size"`
}

func (m Meta) Saved() time.Time { return time.Unix(0, m.SavedAt) }

type Store struct {
	db  *buntdb.DB
	log *zap.SugaredLogger
	now func() time.Time
}

// Open opens the database at path, creating it if needed. ":memory:" gives a store that is not
// persisted.
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.SetConfig(buntdb.Config{
		SyncPolicy:           buntdb.Always,
		AutoShrinkPercentage: 100,
		AutoShrinkMinSize:    32 * 1024 * 1024,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configure %s: %w", path, err)
	}
	err = db.CreateIndex(savedIndex, "save:*:meta", buntdb.IndexJSON("saved-at"))
	if err != nil && !errors.Is(err, buntdb.ErrIndexExists) {
		db.Close()
		return nil, fmt.Errorf("index: %w", err)
	}
	return &Store{db: db, log: zap.S().Named("savestore"), now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func metaKey(id uuid.UUID) string { return fmt.Sprintf("save:%s:meta", id) }

func dataKey(id uuid.UUID) string { return fmt.Sprintf("save:%s:data", id) }

// Put stores data as a new save.
func (s *Store) Put(name, preset string, runID uuid.UUID, data []byte) (Meta, error) {
	m := Meta{
		ID:      uuid.New(),
		Name:    name,
		Preset:  preset,
		RunID:   runID,
		SavedAt: s.now().UnixNano(),
		Size:    len(data),
	}
	meta, err := json.Marshal(m)
	if err != nil {
		return Meta{}, err
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(dataKey(m.ID), base64.StdEncoding.EncodeToString(data), nil); err != nil {
			return err
		}
		_, _, err := tx.Set(metaKey(m.ID), string(meta), nil)
		return err
	})
	if err != nil {
		return Meta{}, fmt.Errorf("put %s: %w", m.ID, err)
	}
	s.log.Infow("saved", "id", m.ID, "name", name, "size", len(data))
	return m, nil
}

// Get returns the save with id.
func (s *Store) Get(id uuid.UUID) (Meta, []byte, error) {
	var m Meta
	var data []byte
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(metaKey(id))
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return fmt.Errorf("meta: %w", err)
		}
		enc, err := tx.Get(dataKey(id))
		if err != nil {
			return err
		}
		data, err = base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return fmt.Errorf("data: %w", err)
		}
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return Meta{}, nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Meta{}, nil, fmt.Errorf("get %s: %w", id, err)
	}
	return m, data, nil
}

// List returns every save, newest first.
func (s *Store) List() ([]Meta, error) {
	var ms []Meta
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.Descend(savedIndex, func(key, value string) bool {
			var m Meta
			if err := json.Unmarshal([]byte(value), &m); err != nil {
				s.log.Errorw("unmarshalling failed", "key", key, "value", value)
				return true
			}
			ms = append(ms, m)
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return ms, nil
}

// Latest returns the newest save.
func (s *Store) Latest() (Meta, error) {
	ms, err := s.List()
	if err != nil {
		return Meta{}, err
	}
	if len(ms) == 0 {
		return Meta{}, ErrNotFound
	}
	return ms[0], nil
}

func (s *Store) Delete(id uuid.UUID) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Delete(metaKey(id)); err != nil {
			return err
		}
		_, err := tx.Delete(dataKey(id))
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return err
}

// Prune deletes all but the newest keep saves, and returns how many it deleted.
func (s *Store) Prune(keep int) (int, error) {
	ms, err := s.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for i := keep; i < len(ms); i++ {
		if err := s.Delete(ms[i].ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// parseKey extracts the save id from a save:<id>:<kind> key.
func parseKey(key string) (uuid.UUID, string, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "save" {
		return uuid.UUID{}, "", false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.UUID{}, "", false
	}
	return id, parts[2], true
}

// Check walks every key and reports saves whose meta or data is missing.
func (s *Store) Check() ([]uuid.UUID, error) {
	kinds := map[uuid.UUID]int{}
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("save:*", func(key, _ string) bool {
			id, kind, ok := parseKey(key)
			if !ok {
				s.log.Warnw("stray key", "key", key)
				return true
			}
			switch kind {
			case "meta":
				kinds[id] |= 1
			case "data":
				kinds[id] |= 2
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	var broken []uuid.UUID
	for id, k := range kinds {
		if k != 3 {
			broken = append(broken, id)
		}
	}
	return broken, nil
}
