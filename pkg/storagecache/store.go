package storagecache

import (
	"fmt"
	"path/filepath"
	"sync"

	"git.mills.io/prologic/bitcask"
	"github.com/hashicorp/go-hclog"
)

// Tables are the five sub-tables a Database's storage is split into,
// matching the original's DatabaseStorage sub-table naming convention
// (uniqueDatabaseName + suffix).
const (
	TablePackages    = "packages"
	TableProvides    = "provides"
	TableRequires    = "requires"
	TableLibprovides = "libprovides"
	TableLibrequires = "librequires"
)

var allTables = []string{TablePackages, TableProvides, TableRequires, TableLibprovides, TableLibrequires}

// BackingStore is the memory-mapped environment per spec §3/§5: one bitcask
// instance per (database, sub-table) pair, opened lazily under envRoot.
// Writers are serialized per-table by bitcask itself; readers see a
// consistent snapshot without locking on this side.
type BackingStore struct {
	envRoot string
	log     hclog.Logger

	mu     sync.Mutex
	tables map[string]*bitcask.Bitcask
}

// NewBackingStore returns a BackingStore rooted at envRoot (conventionally
// "<workingDirectory>/index.db", per spec §6).
func NewBackingStore(envRoot string, l hclog.Logger) *BackingStore {
	return &BackingStore{
		envRoot: envRoot,
		log:     l.Named("storagecache.backingstore"),
		tables:  make(map[string]*bitcask.Bitcask),
	}
}

func tableKey(uniqueDatabaseName, table string) string {
	return uniqueDatabaseName + "_" + table
}

// table opens (or returns the already-open) bitcask instance backing
// uniqueDatabaseName's table sub-database.
func (s *BackingStore) table(uniqueDatabaseName, table string) (*bitcask.Bitcask, error) {
	key := tableKey(uniqueDatabaseName, table)

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.tables[key]; ok {
		return b, nil
	}

	opts := []bitcask.Option{
		bitcask.WithMaxKeySize(1024),
		bitcask.WithMaxValueSize(1024 * 1000 * 32), // 32MiB, large enough for a parsed Package
		bitcask.WithSync(true),
	}
	b, err := bitcask.Open(filepath.Join(s.envRoot, key), opts...)
	if err != nil {
		s.log.Error("failed opening sub-table", "table", key, "error", err)
		return nil, fmt.Errorf("opening table %s: %w", key, err)
	}
	s.tables[key] = b
	return b, nil
}

// Get performs a read-only transaction fetch of key from
// uniqueDatabaseName's table sub-database.
func (s *BackingStore) Get(uniqueDatabaseName, table string, key []byte) ([]byte, error) {
	b, err := s.table(uniqueDatabaseName, table)
	if err != nil {
		return nil, err
	}
	v, err := b.Get(key)
	switch err {
	case nil:
		return v, nil
	case bitcask.ErrKeyNotFound:
		return nil, nil
	default:
		return nil, err
	}
}

// Put performs a read-write transaction store of key=value into
// uniqueDatabaseName's table sub-database, committing before returning.
func (s *BackingStore) Put(uniqueDatabaseName, table string, key, value []byte) error {
	b, err := s.table(uniqueDatabaseName, table)
	if err != nil {
		return err
	}
	return b.Put(key, value)
}

// Delete removes key from uniqueDatabaseName's table sub-database.
func (s *BackingStore) Delete(uniqueDatabaseName, table string, key []byte) error {
	b, err := s.table(uniqueDatabaseName, table)
	if err != nil {
		return err
	}
	err = b.Delete(key)
	if err == bitcask.ErrKeyNotFound {
		return nil
	}
	return err
}

// Clear truncates every sub-table (packages, provides, requires,
// libprovides, librequires) belonging to uniqueDatabaseName, per spec §4.4.
func (s *BackingStore) Clear(uniqueDatabaseName string) error {
	for _, t := range allTables {
		b, err := s.table(uniqueDatabaseName, t)
		if err != nil {
			return err
		}
		if err := b.DeleteAll(); err != nil {
			return fmt.Errorf("clearing %s: %w", tableKey(uniqueDatabaseName, t), err)
		}
	}
	return nil
}

// Close closes every opened sub-table.
func (s *BackingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for key, b := range s.tables {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", key, err)
		}
	}
	return firstErr
}
