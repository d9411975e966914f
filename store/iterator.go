package store

import (
	"bytes"

	"github.com/google/btree"
)

// ascendBtree returns all items within [start, end) in ascending order. A nil
// bound is open.
func ascendBtree(bt *btree.BTree, start, end []byte) []keyer {
	var res []keyer
	insert := func(item btree.Item) bool {
		res = append(res, item.(keyer))
		return true
	}
	switch {
	case start == nil && end == nil:
		bt.Ascend(insert)
	case start == nil:
		bt.AscendLessThan(bkey{end}, insert)
	case end == nil:
		bt.AscendGreaterOrEqual(bkey{start}, insert)
	default:
		bt.AscendRange(bkey{start}, bkey{end}, insert)
	}
	return res
}

// descendBtree returns the same items as ascendBtree, in descending order.
func descendBtree(bt *btree.BTree, start, end []byte) []keyer {
	res := ascendBtree(bt, start, end)
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res
}

// combine joins our results with those of the parent,
// taking into consideration overwrites and deletes. Both inputs must be
// sorted in the same direction.
func combine(ours []keyer, parent Iterator, reverse bool) (Iterator, error) {
	defer parent.Close()

	var res []Model
	less := func(a, b []byte) bool {
		if reverse {
			return bytes.Compare(a, b) > 0
		}
		return bytes.Compare(a, b) < 0
	}
	emit := func(k keyer) {
		if s, ok := k.(setItem); ok {
			res = append(res, Model{Key: s.key, Value: s.value})
		}
	}

	for parent.Valid() || len(ours) > 0 {
		switch {
		case !parent.Valid():
			emit(ours[0])
			ours = ours[1:]
			continue
		case len(ours) == 0:
			res = append(res, Model{Key: parent.Key(), Value: parent.Value()})
		case less(parent.Key(), ours[0].Key()):
			res = append(res, Model{Key: parent.Key(), Value: parent.Value()})
		case bytes.Equal(parent.Key(), ours[0].Key()):
			// our write shadows the parent value
			emit(ours[0])
			ours = ours[1:]
		default:
			emit(ours[0])
			ours = ours[1:]
			continue
		}
		if err := parent.Next(); err != nil {
			return nil, err
		}
	}
	return NewSliceIterator(res), nil
}

////////////////////////////////////////////////
// Slice -> Iterator

// SliceIterator wraps an Iterator over a slice of models
type SliceIterator struct {
	data []Model
	idx  int
}

var _ Iterator = (*SliceIterator)(nil)

// NewSliceIterator creates a new Iterator over this slice
func NewSliceIterator(data []Model) *SliceIterator {
	return &SliceIterator{
		data: data,
	}
}

// Valid implements Iterator and returns true iff it can be read
func (s *SliceIterator) Valid() bool {
	return s.idx < len(s.data)
}

// Next moves the iterator to the next sequential key in the database, as
// defined by order of iteration.
//
// If Valid returns false, this method will panic.
func (s *SliceIterator) Next() error {
	s.assertValid()
	s.idx++
	return nil
}

func (s *SliceIterator) assertValid() {
	if s.idx >= len(s.data) {
		panic("Passed end of slice")
	}
}

// Key returns the key of the cursor.
func (s *SliceIterator) Key() (key []byte) {
	s.assertValid()
	return s.data[s.idx].Key
}

// Value returns the value of the cursor.
func (s *SliceIterator) Value() (value []byte) {
	s.assertValid()
	return s.data[s.idx].Value
}

// Close releases the Iterator.
func (s *SliceIterator) Close() {
	s.data = nil
}
