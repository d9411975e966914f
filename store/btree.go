package store

import (
	"bytes"

	"github.com/google/btree"

	"github.com/iov-one/claimsend/errors"
)

const (
	// DefaultFreeListSize is the size we hold for free node in btree
	DefaultFreeListSize = btree.DefaultFreeListSize
)

// BTreeStore is an ordered in-memory KVStore. There is no persistence
// here. It is not safe for concurrent use, callers serialize access.
type BTreeStore struct {
	bt *btree.BTree
}

var _ CacheableKVStore = (*BTreeStore)(nil)

// MemStore returns an empty in-memory store.
func MemStore() *BTreeStore {
	return &BTreeStore{bt: btree.New(2)}
}

// Get returns nil iff key doesn't exist.
func (b *BTreeStore) Get(key []byte) ([]byte, error) {
	if res := b.bt.Get(bkey{key}); res != nil {
		return res.(setItem).value, nil
	}
	return nil, nil
}

// Has checks if a key exists.
func (b *BTreeStore) Has(key []byte) (bool, error) {
	return b.bt.Has(bkey{key}), nil
}

// Set writes the value, replacing any previous one.
func (b *BTreeStore) Set(key, value []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInvalidInput, "nil key")
	}
	b.bt.ReplaceOrInsert(newSetItem(key, value))
	return nil
}

// Delete removes the key. Deleting a missing key is not an error.
func (b *BTreeStore) Delete(key []byte) error {
	b.bt.Delete(bkey{key})
	return nil
}

// NewBatch returns a batch that writes to this store on Write.
func (b *BTreeStore) NewBatch() Batch {
	return NewNonAtomicBatch(b)
}

// CacheWrap returns a BTreeCacheWrap that can be later
// written to this store, or rolled back
func (b *BTreeStore) CacheWrap() KVCacheWrap {
	return NewBTreeCacheWrap(b, b.NewBatch(), nil)
}

// Iterator over a domain of keys in ascending order.
func (b *BTreeStore) Iterator(start, end []byte) (Iterator, error) {
	return NewSliceIterator(collect(ascendBtree(b.bt, start, end))), nil
}

// ReverseIterator over a domain of keys in descending order.
func (b *BTreeStore) ReverseIterator(start, end []byte) (Iterator, error) {
	return NewSliceIterator(collect(descendBtree(b.bt, start, end))), nil
}

func collect(items []keyer) []Model {
	res := make([]Model, 0, len(items))
	for _, it := range items {
		if s, ok := it.(setItem); ok {
			res = append(res, Model{Key: s.key, Value: s.value})
		}
	}
	return res
}

// BTreeCacheWrap buffers writes over a parent store. Reads see the buffered
// writes first. Write replays them on the parent through a batch, so a
// record and its index entries reach the parent together.
type BTreeCacheWrap struct {
	bt    *btree.BTree
	free  *btree.FreeList
	back  ReadOnlyKVStore
	batch Batch
}

var _ KVCacheWrap = BTreeCacheWrap{}

// NewBTreeCacheWrap buffers writes over kv. All writes reach kv through
// batch only. A nil free list allocates a new one, nested wraps share the
// list of their parent.
func NewBTreeCacheWrap(kv ReadOnlyKVStore, batch Batch, free *btree.FreeList) BTreeCacheWrap {
	if free == nil {
		free = btree.NewFreeList(DefaultFreeListSize)
	}
	return BTreeCacheWrap{
		bt:    btree.NewWithFreeList(2, free),
		free:  free,
		back:  kv,
		batch: batch,
	}
}

func (b BTreeCacheWrap) CacheWrap() KVCacheWrap {
	return NewBTreeCacheWrap(b, b.NewBatch(), b.free)
}

func (b BTreeCacheWrap) NewBatch() Batch {
	return NewNonAtomicBatch(b)
}

// Write flushes the buffered writes to the parent and empties the wrap.
func (b BTreeCacheWrap) Write() error {
	err := b.batch.Write()
	b.Discard()
	return err
}

// Discard drops the buffered writes, returning nodes to the free list.
func (b BTreeCacheWrap) Discard() {
	for b.bt.DeleteMin() != nil {
	}
}

func (b BTreeCacheWrap) Set(key, value []byte) error {
	b.bt.ReplaceOrInsert(newSetItem(key, value))
	return b.batch.Set(key, value)
}

// Delete records a tombstone that hides the parent value.
func (b BTreeCacheWrap) Delete(key []byte) error {
	b.bt.ReplaceOrInsert(newDeletedItem(key))
	return b.batch.Delete(key)
}

// buffered reports the buffered state of key. found is false when the wrap
// holds nothing for it and the parent must be asked.
func (b BTreeCacheWrap) buffered(key []byte) (value []byte, found bool, err error) {
	switch it := b.bt.Get(bkey{key}).(type) {
	case nil:
		return nil, false, nil
	case setItem:
		return it.value, true, nil
	case deletedItem:
		return nil, true, nil
	default:
		return nil, true, errors.Wrapf(errors.ErrHuman, "unknown item in btree: %#v", it)
	}
}

func (b BTreeCacheWrap) Get(key []byte) ([]byte, error) {
	value, found, err := b.buffered(key)
	if found || err != nil {
		return value, err
	}
	return b.back.Get(key)
}

func (b BTreeCacheWrap) Has(key []byte) (bool, error) {
	switch b.bt.Get(bkey{key}).(type) {
	case nil:
		return b.back.Has(key)
	case setItem:
		return true, nil
	default:
		_, _, err := b.buffered(key)
		return false, err
	}
}

// Iterator over a domain of keys in ascending order.
// Combines results from btree and backing store
func (b BTreeCacheWrap) Iterator(start, end []byte) (Iterator, error) {
	parent, err := b.back.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	return combine(ascendBtree(b.bt, start, end), parent, false)
}

// ReverseIterator over a domain of keys in descending order.
// Combines results from btree and backing store
func (b BTreeCacheWrap) ReverseIterator(start, end []byte) (Iterator, error) {
	parent, err := b.back.ReverseIterator(start, end)
	if err != nil {
		return nil, err
	}
	return combine(descendBtree(b.bt, start, end), parent, true)
}

// Every item of a tree is a keyer, either a tombstone or a value.
type keyer interface {
	Key() []byte
}

// bkey is used alone for lookups and embedded by the stored items.
type bkey struct {
	key []byte
}

var _ btree.Item = bkey{}

func (k bkey) Key() []byte { return k.key }

func (k bkey) Less(item btree.Item) bool {
	return bytes.Compare(k.key, item.(keyer).Key()) < 0
}

type deletedItem struct {
	bkey
}

func newDeletedItem(key []byte) deletedItem {
	return deletedItem{bkey{key}}
}

type setItem struct {
	bkey
	value []byte
}

func newSetItem(key, value []byte) setItem {
	return setItem{bkey{key}, value}
}
