package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
	"github.com/vmihailenco/msgpack/v5"

	"parkinson-voice/pkg/models"
)

// ResultStore persists fused results and lists them per user.
type ResultStore interface {
	Put(rec *models.Record) error
	Get(id string) (*models.Record, error)
	// ListByUser returns up to limit records for userID, newest first.
	// A limit of zero or less returns all of them.
	ListByUser(userID string, limit int) ([]*models.Record, error)
	Close() error
}

type diskStore struct {
	db *badger.DB
}

// NewDiskStore opens (or creates) the result database under path.
func NewDiskStore(path string) (ResultStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return OpenDiskStore(badger.DefaultOptions(filepath.Join(path, "badger")))
}

// OpenDiskStore opens a result database with explicit badger options.
func OpenDiskStore(opts badger.Options) (ResultStore, error) {
	db, err := badger.Open(opts.WithLogger(badgerLogger{slog.Default().With("component", "badger")}))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &diskStore{db: db}, nil
}

func recordKey(id string) []byte { return []byte("record/" + id) }

func userPrefix(userID string) []byte { return []byte("user/" + userID + "/") }

// userKey sorts newest first under the user's prefix.
func userKey(rec *models.Record) []byte {
	inv := math.MaxInt64 - rec.CreatedAt.UnixNano()
	return append(userPrefix(rec.UserID), fmt.Sprintf("%019d/%s", inv, rec.ID)...)
}

func (s *diskStore) Put(rec *models.Record) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(recordKey(rec.ID), data); err != nil {
			return err
		}
		if rec.UserID == "" {
			return nil
		}
		return txn.Set(userKey(rec), []byte(rec.ID))
	})
}

func (s *diskStore) Get(id string) (*models.Record, error) {
	var rec models.Record

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &rec, nil
}

func (s *diskStore) ListByUser(userID string, limit int) ([]*models.Record, error) {
	var out []*models.Record
	prefix := userPrefix(userID)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			item, err := txn.Get(recordKey(string(id)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var rec models.Record
			if err := item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			out = append(out, &rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return out, nil
}

func (s *diskStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger warnings and errors to slog and drops the
// rest.
type badgerLogger struct{ log *slog.Logger }

func (l badgerLogger) Errorf(f string, v ...interface{}) { l.log.Error(fmt.Sprintf(f, v...)) }
func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn(fmt.Sprintf(f, v...))
}
func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
