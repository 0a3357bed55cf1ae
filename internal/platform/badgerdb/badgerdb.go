// Package badgerdb opens the embedded Badger key-value store used by the
// single-node deployment profile.
package badgerdb

import (
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v3"
)

// Open opens (or creates) a Badger database at dir. Badger's own logger is
// silenced; callers log through slog instead.
func Open(dir string, log *slog.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	if log != nil {
		log.Info("badger store opened", "dir", dir)
	}
	return db, nil
}
