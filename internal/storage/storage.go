// Package storage persists Q-table snapshots, one opaque document per identity.
package storage

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// #region backend

// ErrNotFound is returned by Load when no snapshot exists for an identity.
var ErrNotFound = errors.New("snapshot not found")

// Backend stores and retrieves whole snapshots keyed by sanitized identity.
// Store overwrites any previous snapshot for the identity.
type Backend interface {
	Load(identity string) ([]byte, error)
	Store(identity string, data []byte) error
	Remove(identity string) error
	Close() error
}

// Lister is implemented by backends that can enumerate stored identities.
type Lister interface {
	Identities() ([]string, error)
}

// #endregion backend

// #region identity

// DefaultIdentity is used when a caller supplies no usable identity.
const DefaultIdentity = "guest"

// SanitizeIdentity keeps letters, digits and "-_.@", so the result is safe to use
// as a file name or key. Input with nothing usable maps to DefaultIdentity.
func SanitizeIdentity(identity string) string {
	if identity == "" {
		identity = DefaultIdentity
	}
	var b strings.Builder
	for _, r := range identity {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("-_.@", r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return DefaultIdentity
	}
	return b.String()
}

// #endregion identity

// #region factory

// Kind names a Backend implementation.
type Kind string

const (
	KindFile    Kind = "file"
	KindSQLite  Kind = "sqlite"
	KindLevelDB Kind = "leveldb"
)

// Options locates the storage for each Kind.
type Options struct {
	Dir         string // KindFile
	SQLitePath  string // KindSQLite
	LevelDBPath string // KindLevelDB
}

// Open returns the Backend for kind.
func Open(kind Kind, opts Options) (Backend, error) {
	switch kind {
	case KindFile, "":
		return NewFileBackend(opts.Dir), nil
	case KindSQLite:
		return NewSQLiteBackend(opts.SQLitePath)
	case KindLevelDB:
		return NewLevelDBBackend(opts.LevelDBPath)
	}
	return nil, fmt.Errorf("unknown backend %q", kind)
}

// #endregion factory
