package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeMemBase() (CacheableKVStore, func()) {
	return MemStore(), func() {}
}

func TestBTreeSuite(t *testing.T) {
	suite := NewTestSuite(makeMemBase)
	t.Run("GetSet", suite.GetSet)
	t.Run("CacheConflicts", suite.CacheConflicts)
	t.Run("IndexScan", suite.IndexScan)
	t.Run("RandomIterator", suite.RandomIterator)
}

func TestMemStoreOverwriteAndDelete(t *testing.T) {
	db := MemStore()
	k := []byte("rec:1")

	require.NoError(t, db.Set(k, []byte("one")))
	require.NoError(t, db.Set(k, []byte("two")))
	got, err := db.Get(k)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)

	require.NoError(t, db.Delete(k))
	has, err := db.Has(k)
	require.NoError(t, err)
	assert.False(t, has)

	// deleting twice is fine
	require.NoError(t, db.Delete(k))
}

func TestNestedCacheWrap(t *testing.T) {
	db := MemStore()
	require.NoError(t, db.Set([]byte("a"), []byte("1")))

	outer := db.CacheWrap()
	inner := outer.CacheWrap()
	require.NoError(t, inner.Set([]byte("b"), []byte("2")))
	require.NoError(t, inner.Delete([]byte("a")))

	// nothing leaks until written
	has, err := outer.Has([]byte("b"))
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, inner.Write())
	has, err = outer.Has([]byte("b"))
	require.NoError(t, err)
	assert.True(t, has)
	has, err = db.Has([]byte("b"))
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, outer.Write())
	got, err := db.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)
	got, err = db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPrefixRange(t *testing.T) {
	cases := map[string]struct {
		prefix    []byte
		wantStart []byte
		wantEnd   []byte
	}{
		"empty prefix is the whole range": {nil, nil, nil},
		"simple increment":                 {[]byte("st:"), []byte("st:"), []byte("st;")},
		"overflow carries":                 {[]byte{0x01, 0xff}, []byte{0x01, 0xff}, []byte{0x02, 0x00}},
		"all ff has no end":                {[]byte{0xff, 0xff}, []byte{0xff, 0xff}, nil},
	}
	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			start, end := PrefixRange(tc.prefix)
			assert.Equal(t, tc.wantStart, start)
			assert.Equal(t, tc.wantEnd, end)
		})
	}
}
