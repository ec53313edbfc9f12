// Package storagecache implements the write-through LRU cache over a
// memory-mapped key/value backing store described in spec §4.4: a bounded
// LRU of (storageID, ref, entry) keyed two ways — by numeric StorageID and
// by (storage, name) — backed by one bitcask environment per logical
// sub-table, mirroring the original's per-database LMDB sub-tables
// ("<db>_packages", "_provides", "_requires", "_libprovides",
// "_librequires").
package storagecache

import "encoding/json"

// StorageID is the numeric identity a cache entry is assigned once written
// to the backing store. Zero denotes "no entry".
type StorageID uint64

// Entry is anything a StorageCache can hold: it must carry a stable Name
// used as the secondary (storage, name) key.
type Entry interface {
	EntryName() string
}

// Marshal/Unmarshal use encoding/json, matching the teacher's own
// config/persistence style (pkg/config.LoadFromFile) rather than a binary
// codec — the wire format itself is out of scope per spec §1.
func marshalEntry(e Entry) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEntry(data []byte, out Entry) error {
	return json.Unmarshal(data, out)
}

// record is the on-disk envelope stored for every entry: its assigned ID
// plus the caller-supplied payload, so a table scan can recover StorageID
// without a second index.
type record struct {
	ID      StorageID       `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func marshalEnvelope(r record) ([]byte, error) {
	return json.Marshal(r)
}

func unmarshalEnvelope(data []byte, out *record) error {
	return json.Unmarshal(data, out)
}
