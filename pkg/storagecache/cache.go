package storagecache

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/hashicorp/go-hclog"
)

// DefaultCapacity is the default number of entries kept in the in-memory
// LRU layer before the tail is evicted.
const DefaultCapacity = 4096

// StorageCache is a bounded write-through LRU of (storageID, ref, entry)
// over BackingStore, generic over the entry type it holds (spec §3/§4.4,
// and DESIGN NOTES' "template-heavy storage cache"). newEntry must return a
// fresh, zero-valued *E-like Entry suitable as an unmarshal target.
type StorageCache[E Entry] struct {
	mu sync.Mutex

	backing  *BackingStore
	database string // uniqueDatabaseName
	table    string
	newEntry func() E
	log      hclog.Logger

	cache    *lru.Cache // key: name -> cachedItem[E]
	nextID   uint64
	idToName map[StorageID]string
}

type cachedItem[E Entry] struct {
	id    StorageID
	entry E
}

// NewStorageCache returns a StorageCache of capacity entries backed by
// backing's database/table sub-environment.
func NewStorageCache[E Entry](backing *BackingStore, database, table string, capacity int, newEntry func() E, l hclog.Logger) (*StorageCache[E], error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("allocating lru: %w", err)
	}
	return &StorageCache[E]{
		backing:  backing,
		database: database,
		table:    table,
		newEntry: newEntry,
		log:      l.Named("storagecache"),
		cache:    c,
		idToName: make(map[StorageID]string),
	}, nil
}

// Retrieve returns (id, entry) for name, checking the in-memory LRU first
// under mu, then — on miss — opening a read-only backing transaction;
// hits are promoted to MRU. Returns (0, zero, false) if absent.
func (c *StorageCache[E]) Retrieve(name string) (StorageID, E, bool) {
	c.mu.Lock()
	if v, ok := c.cache.Get(name); ok {
		item := v.(*cachedItem[E])
		c.mu.Unlock()
		return item.id, item.entry, true
	}
	c.mu.Unlock()

	// Disk I/O happens with the mutex released (spec §4.4/§5: cache
	// mutations never cross the commit boundary).
	raw, err := c.backing.Get(c.database, c.table, []byte(name))
	if err != nil {
		c.log.Warn("backing read failed", "name", name, "error", err)
		var zero E
		return 0, zero, false
	}
	if raw == nil {
		var zero E
		return 0, zero, false
	}

	var rec record
	if err := unmarshalEnvelope(raw, &rec); err != nil {
		c.log.Error("corrupt record", "name", name, "error", err)
		var zero E
		return 0, zero, false
	}
	entry := c.newEntry()
	if err := unmarshalEntry(rec.Payload, entry); err != nil {
		c.log.Error("corrupt payload", "name", name, "error", err)
		var zero E
		return 0, zero, false
	}

	c.mu.Lock()
	c.cache.Add(name, &cachedItem[E]{id: rec.ID, entry: entry})
	c.idToName[rec.ID] = name
	c.mu.Unlock()

	return rec.ID, entry, true
}

// RetrieveByID is the StorageID-keyed overload of Retrieve.
func (c *StorageCache[E]) RetrieveByID(id StorageID) (E, bool) {
	c.mu.Lock()
	name, ok := c.idToName[id]
	c.mu.Unlock()
	if !ok {
		var zero E
		return zero, false
	}
	_, entry, found := c.Retrieve(name)
	return entry, found
}

// Store is write-through: if a cached entry with the same name exists and
// is byte-identical and !force, it is a no-op returning updated=false.
// Otherwise it merges contents-derived fields from the previous entry into
// the new one via merge (may be nil), writes via a read-write transaction,
// commits, updates the cache, and reports updated=true.
func (c *StorageCache[E]) Store(name string, entry E, force bool, merge func(newer, older E) E) (StorageID, bool, error) {
	c.mu.Lock()
	if !force {
		if v, ok := c.cache.Get(name); ok {
			item := v.(*cachedItem[E])
			if entriesEqual(item.entry, entry) {
				c.mu.Unlock()
				return item.id, false, nil
			}
		}
	}
	var previous E
	var havePrevious bool
	if v, ok := c.cache.Get(name); ok {
		previous = v.(*cachedItem[E]).entry
		havePrevious = true
	}
	id := c.idFor(name)
	c.mu.Unlock()

	if havePrevious && merge != nil {
		entry = merge(entry, previous)
	}

	payload, err := marshalEntry(entry)
	if err != nil {
		return 0, false, fmt.Errorf("marshal entry: %w", err)
	}
	rec := record{ID: id, Payload: payload}
	envelope, err := marshalEnvelope(rec)
	if err != nil {
		return 0, false, fmt.Errorf("marshal envelope: %w", err)
	}

	// Disk I/O outside the mutex; reacquired below to update the cache.
	if err := c.backing.Put(c.database, c.table, []byte(name), envelope); err != nil {
		return 0, false, fmt.Errorf("store %s: %w", name, err)
	}

	c.mu.Lock()
	c.cache.Add(name, &cachedItem[E]{id: id, entry: entry})
	c.idToName[id] = name
	c.mu.Unlock()

	return id, true, nil
}

// idFor returns name's existing StorageID, if the cache already tracks one,
// or allocates a fresh one. Must be called with mu held.
func (c *StorageCache[E]) idFor(name string) StorageID {
	if v, ok := c.cache.Get(name); ok {
		return v.(*cachedItem[E]).id
	}
	return StorageID(atomic.AddUint64(&c.nextID, 1))
}

// Invalidate removes name from both the cache and the backing store.
func (c *StorageCache[E]) Invalidate(name string) error {
	c.mu.Lock()
	if v, ok := c.cache.Get(name); ok {
		delete(c.idToName, v.(*cachedItem[E]).id)
	}
	c.cache.Remove(name)
	c.mu.Unlock()

	return c.backing.Delete(c.database, c.table, []byte(name))
}

// Clear truncates this cache's in-memory LRU and every backing sub-table of
// its database (not only this cache's own table).
func (c *StorageCache[E]) Clear() error {
	c.mu.Lock()
	c.cache.Purge()
	c.idToName = make(map[StorageID]string)
	c.mu.Unlock()

	return c.backing.Clear(c.database)
}

// entriesEqual compares two entries by their marshaled form — sufficient
// for the "byte-identical" no-op check Store performs, without requiring
// every Entry implementation to hand-write Equal.
func entriesEqual[E Entry](a, b E) bool {
	ma, erra := marshalEntry(a)
	mb, errb := marshalEntry(b)
	if erra != nil || errb != nil {
		return false
	}
	return string(ma) == string(mb)
}
