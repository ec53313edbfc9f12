package storagecache

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEntry struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

func (f *fakeEntry) EntryName() string { return f.Name }

func newFakeCache(t *testing.T) *StorageCache[*fakeEntry] {
	t.Helper()
	backing := NewBackingStore(t.TempDir(), hclog.NewNullLogger())
	c, err := NewStorageCache[*fakeEntry](backing, "core", TablePackages, 16, func() *fakeEntry { return &fakeEntry{} }, hclog.NewNullLogger())
	require.NoError(t, err)
	return c
}

func TestStoreThenRetrieve(t *testing.T) {
	c := newFakeCache(t)

	e := &fakeEntry{Name: "boost", Data: "1.73.0"}
	id, updated, err := c.Store("boost", e, false, nil)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.NotZero(t, id)

	gotID, got, ok := c.Retrieve("boost")
	require.True(t, ok)
	assert.Equal(t, id, gotID)
	assert.Equal(t, e.Data, got.Data)
}

func TestStoreNoOpWhenIdentical(t *testing.T) {
	c := newFakeCache(t)

	e := &fakeEntry{Name: "boost", Data: "1.73.0"}
	_, _, err := c.Store("boost", e, false, nil)
	require.NoError(t, err)

	_, updated, err := c.Store("boost", &fakeEntry{Name: "boost", Data: "1.73.0"}, false, nil)
	require.NoError(t, err)
	assert.False(t, updated, "identical store without force must be a no-op")
}

func TestInvalidateThenRetrieve(t *testing.T) {
	c := newFakeCache(t)

	_, _, err := c.Store("boost", &fakeEntry{Name: "boost", Data: "1.73.0"}, false, nil)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate("boost"))

	id, _, ok := c.Retrieve("boost")
	assert.False(t, ok)
	assert.Zero(t, id)
}
