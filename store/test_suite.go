package store

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/iov-one/claimsend/claimtest/assert"
)

// TestSuite runs the same checks against any CacheableKVStore
// implementation. Backends only provide a constructor.
type TestSuite struct {
	makeBase TestStoreConstructor
}

// TestStoreConstructor returns a fresh, empty store and a function releasing
// its resources.
type TestStoreConstructor func() (base CacheableKVStore, cleanup func())

func NewTestSuite(constructor TestStoreConstructor) *TestSuite {
	return &TestSuite{makeBase: constructor}
}

// GetSet writes through one and two cache layers and checks each layer sees
// exactly what was written to it or below it.
func (s *TestSuite) GetSet(t *testing.T) {
	base, cleanup := s.makeBase()
	defer cleanup()

	rec, body := []byte("rec:7f1c"), []byte(`{"state":"pending"}`)
	s.AssertGetHas(t, base, rec, nil, false)
	assert.Nil(t, base.Set(rec, body))
	s.AssertGetHas(t, base, rec, body, true)

	update := base.CacheWrap()
	s.AssertGetHas(t, update, rec, body, true)

	funded := []byte(`{"state":"funded"}`)
	idx := []byte("tok:c0ffee")
	assert.Nil(t, update.Set(rec, funded))
	assert.Nil(t, update.Set(idx, rec))
	s.AssertGetHas(t, update, rec, funded, true)
	s.AssertGetHas(t, base, rec, body, true)
	s.AssertGetHas(t, base, idx, nil, false)

	assert.Nil(t, update.Write())
	s.AssertGetHas(t, base, rec, funded, true)
	s.AssertGetHas(t, base, idx, rec, true)

	// a discarded update leaves no trace
	abandoned := base.CacheWrap()
	assert.Nil(t, abandoned.Delete(idx))
	assert.Nil(t, abandoned.Set([]byte("rec:dead"), []byte("{}")))
	abandoned.Discard()
	s.AssertGetHas(t, base, idx, rec, true)
	s.AssertGetHas(t, base, []byte("rec:dead"), nil, false)
}

// CacheConflicts checks that overwrites and deletes in a cache layer shadow
// the parent until written.
func (s *TestSuite) CacheConflicts(t *testing.T) {
	key := func(i int) []byte { return []byte(fmt.Sprintf("rec:%04d", i)) }
	val := func(v string) []byte { return []byte(v) }

	cases := map[string]struct {
		parentOps []Op
		childOps  []Op
		parent    []Model // expected parent content before the write
		child     []Model // expected child content, and parent after the write
	}{
		"overwrite one, delete another, add a third": {
			parentOps: []Op{SetOp(key(1), val("a")), SetOp(key(2), val("b"))},
			childOps:  []Op{SetOp(key(1), val("a2")), SetOp(key(3), val("c")), DelOp(key(2))},
			parent:    []Model{Pair(key(1), val("a")), Pair(key(2), val("b")), Pair(key(3), nil)},
			child:     []Model{Pair(key(1), val("a2")), Pair(key(2), nil), Pair(key(3), val("c"))},
		},
		"delete then set again": {
			parentOps: []Op{SetOp(key(1), val("a"))},
			childOps:  []Op{DelOp(key(1)), SetOp(key(1), val("a3"))},
			parent:    []Model{Pair(key(1), val("a"))},
			child:     []Model{Pair(key(1), val("a3"))},
		},
		"set then delete in the child": {
			childOps: []Op{SetOp(key(5), val("e")), DelOp(key(5))},
			parent:   []Model{Pair(key(5), nil)},
			child:    []Model{Pair(key(5), nil)},
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			parent, cleanup := s.makeBase()
			defer cleanup()

			for _, op := range tc.parentOps {
				assert.Nil(t, op.Apply(parent))
			}
			child := parent.CacheWrap()
			for _, op := range tc.childOps {
				assert.Nil(t, op.Apply(child))
			}

			for _, q := range tc.parent {
				s.AssertGetHas(t, parent, q.Key, q.Value, q.Value != nil)
			}
			for _, q := range tc.child {
				s.AssertGetHas(t, child, q.Key, q.Value, q.Value != nil)
			}

			assert.Nil(t, child.Write())
			for _, q := range tc.child {
				s.AssertGetHas(t, parent, q.Key, q.Value, q.Value != nil)
			}
		})
	}
}

// IndexScan iterates secondary index prefixes the way the record store lists
// deposits of a sender, with entries split between parent and cache.
func (s *TestSuite) IndexScan(t *testing.T) {
	entry := func(sender string, n int) Model {
		k := []byte(fmt.Sprintf("snd:%s:%03d", sender, n))
		return Pair(k, []byte(fmt.Sprintf("rec:%s%03d", sender, n)))
	}
	var alice, bob []Model
	for i := 0; i < 6; i++ {
		alice = append(alice, entry("alice", i))
		bob = append(bob, entry("bob", i))
	}

	cases := map[string]iterCase{
		"index only in parent": {
			pre: makeSetOps(append(alice, bob...)...),
			queries: []rangeQuery{
				prefixQuery("snd:alice:", false, alice),
				prefixQuery("snd:bob:", true, reverse(bob)),
			},
		},
		"index split between parent and child": {
			pre:   makeSetOps(alice[:3]...),
			child: makeSetOps(append(alice[3:], bob[2:4]...)...),
			queries: []rangeQuery{
				prefixQuery("snd:alice:", false, alice),
				prefixQuery("snd:alice:", true, reverse(alice)),
				prefixQuery("snd:bob:", false, bob[2:4]),
			},
		},
		"child removes index entries": {
			pre:   makeSetOps(append(alice, bob...)...),
			child: makeDelOps(alice[1], alice[4], bob[0]),
			queries: []rangeQuery{
				prefixQuery("snd:alice:", false, []Model{alice[0], alice[2], alice[3], alice[5]}),
				prefixQuery("snd:bob:", false, bob[1:]),
				prefixQuery("snd:carol:", false, nil),
			},
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			base, cleanup := s.makeBase()
			defer cleanup()
			tc.verify(t, base)
		})
	}
}

// RandomIterator compares iteration over a cache layer on top of a parent
// with a sorted model of the expected content. The seed is fixed so
// failures reproduce.
func (s *TestSuite) RandomIterator(t *testing.T) {
	const size = 40

	rnd := rand.New(rand.NewSource(20190412))
	parentSet := randModels(rnd, size)
	childSet := randModels(rnd, size)
	// the child overwrites a few parent values and removes some others
	for i := 0; i < 5; i++ {
		childSet[i].Key = parentSet[i].Key
	}
	removed := parentSet[size-5:]

	content := make(map[string][]byte)
	for _, m := range parentSet {
		content[string(m.Key)] = m.Value
	}
	for _, m := range childSet {
		content[string(m.Key)] = m.Value
	}
	for _, m := range removed {
		delete(content, string(m.Key))
	}
	var want []Model
	for k, v := range content {
		want = append(want, Pair([]byte(k), v))
	}
	want = sortModels(want)
	n := len(want)

	tc := iterCase{
		pre:   makeSetOps(parentSet...),
		child: append(makeSetOps(childSet...), makeDelOps(removed...)...),
		queries: []rangeQuery{
			{nil, nil, false, want},
			{want[10].Key, nil, false, want[10:]},
			{nil, want[n-8].Key, false, want[:n-8]},
			{want[17].Key, want[28].Key, false, want[17:28]},
			{nil, nil, true, reverse(want)},
			{want[34].Key, nil, true, reverse(want[34:])},
			{want[6].Key, want[26].Key, true, reverse(want[6:26])},
		},
	}
	base, cleanup := s.makeBase()
	defer cleanup()
	tc.verify(t, base)
}

func (s *TestSuite) AssertGetHas(t testing.TB, kv ReadOnlyKVStore, key, val []byte, has bool) {
	t.Helper()
	got, err := kv.Get(key)
	assert.Nil(t, err)
	assert.Equal(t, val, got)
	exists, err := kv.Has(key)
	assert.Nil(t, err)
	assert.Equal(t, has, exists)
}

func randModels(rnd *rand.Rand, count int) []Model {
	models := make([]Model, count)
	for i := range models {
		k := make([]byte, 12)
		rnd.Read(k)
		v := make([]byte, 1+rnd.Intn(48))
		rnd.Read(v)
		models[i] = Pair(append([]byte("rec:"), k...), v)
	}
	return models
}

type iterCase struct {
	pre     []Op
	child   []Op
	queries []rangeQuery
}

func (c iterCase) verify(t testing.TB, base CacheableKVStore) {
	t.Helper()
	for _, op := range c.pre {
		assert.Nil(t, op.Apply(base))
	}
	child := base.CacheWrap()
	for _, op := range c.child {
		assert.Nil(t, op.Apply(child))
	}

	for _, q := range c.queries {
		var (
			it  Iterator
			err error
		)
		if q.reverse {
			it, err = child.ReverseIterator(q.start, q.end)
		} else {
			it, err = child.Iterator(q.start, q.end)
		}
		assert.Nil(t, err)

		for i, m := range q.expected {
			if !it.Valid() {
				t.Fatalf("iterator exhausted after %d of %d items", i, len(q.expected))
			}
			if !bytes.Equal(m.Key, it.Key()) {
				t.Fatalf("item %d: want key %q, got %q", i, m.Key, it.Key())
			}
			assert.Equal(t, m.Value, it.Value())
			assert.Nil(t, it.Next())
		}
		if it.Valid() {
			t.Fatalf("iterator not done, next key %q", it.Key())
		}
		it.Close()
	}
}

type rangeQuery struct {
	start    []byte
	end      []byte
	reverse  bool
	expected []Model
}

func prefixQuery(prefix string, reverse bool, expected []Model) rangeQuery {
	start, end := PrefixRange([]byte(prefix))
	return rangeQuery{start: start, end: end, reverse: reverse, expected: expected}
}

func reverse(models []Model) []Model {
	res := make([]Model, len(models))
	for i, m := range models {
		res[len(models)-1-i] = m
	}
	return res
}

func sortModels(models []Model) []Model {
	res := make([]Model, len(models))
	copy(res, models)
	sort.Slice(res, func(i, j int) bool {
		return bytes.Compare(res[i].Key, res[j].Key) < 0
	})
	return res
}

func makeSetOps(ms ...Model) []Op {
	res := make([]Op, len(ms))
	for i, m := range ms {
		res[i] = SetOp(m.Key, m.Value)
	}
	return res
}

func makeDelOps(ms ...Model) []Op {
	res := make([]Op, len(ms))
	for i, m := range ms {
		res[i] = DelOp(m.Key)
	}
	return res
}
