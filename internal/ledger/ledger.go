// Package ledger provides the durable offline buffer for mining session
// snapshots. Writes that cannot reach PostgreSQL land here and are
// replayed by the Syncer once connectivity returns.
package ledger

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"wavemine-server/internal/model"
)

var bucketSessions = []byte("sessions")

// Ledger is a bbolt-backed store of session snapshots keyed by session id.
// Store is last-write-wins: a session's accrual is monotonic, so
// overwriting a prior snapshot can never regress progress.
type Ledger struct {
	db *bolt.DB
}

// Open opens (or creates) the ledger file at path.
func Open(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open offline ledger: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init offline ledger: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Store upserts a session snapshot keyed by its id.
func (l *Ledger) Store(session *model.MiningSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	err = l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(session.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to buffer session: %w", err)
	}

	return nil
}

// Get returns the buffered snapshot for a session id, or nil if absent.
func (l *Ledger) Get(id string) (*model.MiningSession, error) {
	var session *model.MiningSession
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(id))
		if data == nil {
			return nil
		}
		var s model.MiningSession
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to decode session: %w", err)
		}
		session = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ForEach visits every buffered session. The callback runs outside the
// bolt transaction, so it may delete entries as it goes.
func (l *Ledger) ForEach(fn func(session *model.MiningSession) error) error {
	var sessions []*model.MiningSession
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(_, data []byte) error {
			var s model.MiningSession
			if err := json.Unmarshal(data, &s); err != nil {
				return fmt.Errorf("failed to decode session: %w", err)
			}
			sessions = append(sessions, &s)
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, s := range sessions {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a buffered entry after confirmed sync.
func (l *Ledger) Delete(id string) error {
	err := l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete buffered session: %w", err)
	}
	return nil
}

// Len returns the number of buffered sessions.
func (l *Ledger) Len() (int, error) {
	var n int
	err := l.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSessions).Stats().KeyN
		return nil
	})
	return n, err
}
