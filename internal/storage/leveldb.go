package storage

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const snapshotPrefix = "q|"

// LevelDBBackend stores snapshots under "q|<identity>" keys.
type LevelDBBackend struct {
	db *leveldb.DB
}

// NewLevelDBBackend opens (or creates) a LevelDB database at dir.
func NewLevelDBBackend(dir string) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dir, err)
	}
	return &LevelDBBackend{db: db}, nil
}

func snapshotKey(identity string) []byte {
	return []byte(snapshotPrefix + SanitizeIdentity(identity))
}

func (b *LevelDBBackend) Load(identity string) ([]byte, error) {
	data, err := b.db.Get(snapshotKey(identity), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return data, nil
}

func (b *LevelDBBackend) Store(identity string, data []byte) error {
	if err := b.db.Put(snapshotKey(identity), data, nil); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

func (b *LevelDBBackend) Remove(identity string) error {
	if err := b.db.Delete(snapshotKey(identity), nil); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Identities lists the identities with a stored snapshot in key order.
func (b *LevelDBBackend) Identities() ([]string, error) {
	it := b.db.NewIterator(util.BytesPrefix([]byte(snapshotPrefix)), nil)
	defer it.Release()
	var ids []string
	for it.Next() {
		ids = append(ids, string(it.Key()[len(snapshotPrefix):]))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return ids, nil
}

func (b *LevelDBBackend) Close() error {
	return b.db.Close()
}
