package main

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// GameStore persists game records keyed by game ID. Implementations are
// safe for concurrent use; each call is atomic.
type GameStore interface {
	// Save replaces the record for the game and refreshes its
	// date_updated stamp. Reports success.
	Save(game *Game) bool

	// Delete removes the record, reporting whether one existed.
	Delete(gameID uuid.UUID) bool

	// Each calls fn for every stored record until fn returns false.
	Each(fn func(record GameRecord) bool) error
}

var gamesBucket = []byte("games")

// BoltStore is the persistent store, one bbolt file holding a "games"
// bucket keyed by raw game-id bytes with JSON-encoded records as values.
type BoltStore struct {
	cfg *Config
	db  *bbolt.DB
}

func newBoltStore(cfg *Config, path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(gamesBucket)
		return err
	})
	if err != nil {
		db.Close()

		return nil, err
	}

	return &BoltStore{cfg: cfg, db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Save(game *Game) bool {
	record, err := game.makeRecord()
	if err != nil {
		logf(s.cfg, "STORE: Serializing %s failed: %v", game.ID(), err)

		return false
	}

	value, err := json.Marshal(record)
	if err != nil {
		logf(s.cfg, "STORE: Encoding record %s failed: %v", game.ID(), err)

		return false
	}

	key := record.Info.GameID

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(gamesBucket).Put(key[:], value)
	})
	if err != nil {
		logf(s.cfg, "STORE: Writing record %s failed: %v", game.ID(), err)

		return false
	}

	return true
}

func (s *BoltStore) Delete(gameID uuid.UUID) bool {
	existed := false

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(gamesBucket)
		if bucket.Get(gameID[:]) != nil {
			existed = true
		}

		return bucket.Delete(gameID[:])
	})
	if err != nil {
		logf(s.cfg, "STORE: Deleting record %s failed: %v", gameID, err)

		return false
	}

	return existed
}

func (s *BoltStore) Each(fn func(record GameRecord) bool) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(gamesBucket).Cursor()

		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			var record GameRecord
			if err := json.Unmarshal(value, &record); err != nil {
				logf(s.cfg, "STORE: Skipping undecodable record %x: %v", key, err)

				continue
			}

			if !fn(record) {
				return nil
			}
		}

		return nil
	})
}

// PrintStore is the development store: it logs saves and holds nothing.
type PrintStore struct {
	cfg *Config
}

func newPrintStore(cfg *Config, path string) *PrintStore {
	logf(cfg, "STORE: Using print store in place of %q", path)

	return &PrintStore{cfg: cfg}
}

func (s *PrintStore) Save(game *Game) bool {
	logf(s.cfg, "STORE: Storing %s (join code %s)", game.ID(), game.JoinCode())

	return true
}

func (s *PrintStore) Delete(gameID uuid.UUID) bool {
	logf(s.cfg, "STORE: Deleting %s", gameID)

	return false
}

func (s *PrintStore) Each(_ func(record GameRecord) bool) error {
	return nil
}
