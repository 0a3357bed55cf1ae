// Package badgerstore persists audit chain records in an embedded Badger
// key-value store. Sequence numbers are encoded big-endian so lexicographic
// key order matches chain order, which makes Range a straight iterator walk.
package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"

	"biogate/internal/audit"
)

var keyPrefix = []byte("audit/")

type Store struct {
	db *badger.DB
}

func New(db *badger.DB) *Store {
	return &Store{db: db}
}

func seqKey(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}

func (s *Store) Append(_ context.Context, rec *audit.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	key := seqKey(rec.Seq)
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("audit record %d already exists", rec.Seq)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, raw)
	})
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

func (s *Store) Last(_ context.Context) (*audit.Record, error) {
	var rec *audit.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek past the last possible key.
		it.Seek(seqKey(^uint64(0)))
		if !it.ValidForPrefix(keyPrefix) {
			return nil
		}
		return it.Item().Value(func(raw []byte) error {
			rec = &audit.Record{}
			return json.Unmarshal(raw, rec)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load last audit record: %w", err)
	}
	return rec, nil
}

func (s *Store) Range(_ context.Context, from, to uint64) ([]*audit.Record, error) {
	var out []*audit.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seqKey(from)); it.ValidForPrefix(keyPrefix); it.Next() {
			var rec audit.Record
			if err := it.Item().Value(func(raw []byte) error {
				return json.Unmarshal(raw, &rec)
			}); err != nil {
				return err
			}
			if rec.Seq > to {
				break
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("range audit records: %w", err)
	}
	return out, nil
}
