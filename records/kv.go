package records

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/store"
)

const (
	recordPrefix = "rec:"
	tokenPrefix  = "tok:"
	senderPrefix = "snd:"
	statePrefix  = "sta:"
)

// KVStore keeps records in a key value store. A record and its indexes
// are written through a single cache wrap. If the store can commit, every
// write is committed.
type KVStore struct {
	mu sync.RWMutex
	db store.CacheableKVStore
}

var _ Store = (*KVStore)(nil)

// NewKVStore returns a store writing to db. The store must not be shared
// with other writers.
func NewKVStore(db store.CacheableKVStore) *KVStore {
	return &KVStore{db: db}
}

func recordKey(id string) []byte {
	return []byte(recordPrefix + id)
}

func tokenKey(token string) []byte {
	return []byte(tokenPrefix + TokenHash(token))
}

func senderKey(sender claimsend.Address, id string) []byte {
	return []byte(senderPrefix + hex.EncodeToString(sender) + ":" + id)
}

func stateKey(state State, id string) []byte {
	return []byte(statePrefix + string(state) + ":" + id)
}

// Create persists a new record.
func (s *KVStore) Create(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range [][]byte{recordKey(r.ID), tokenKey(r.Token)} {
		ok, err := s.db.Has(key)
		if err != nil {
			return err
		}
		if ok {
			return errors.Wrapf(errors.ErrDuplicate, "record %s", r.ID)
		}
	}

	save := r.Clone()
	save.Version = 1
	if err := s.write(nil, save); err != nil {
		return err
	}
	r.Version = 1
	return nil
}

// Update replaces the record if its version did not change.
func (s *KVStore) Update(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.load(r.ID)
	if err != nil {
		return err
	}
	if prev.Version != r.Version {
		return errors.Wrapf(errors.ErrConflict, "record %s is at version %d, not %d", r.ID, prev.Version, r.Version)
	}
	if prev.Token != r.Token {
		taken, err := s.db.Has(tokenKey(r.Token))
		if err != nil {
			return err
		}
		if taken {
			return errors.Wrap(errors.ErrDuplicate, "token")
		}
	}

	save := r.Clone()
	save.Version = prev.Version + 1
	if err := s.write(prev, save); err != nil {
		return err
	}
	r.Version = save.Version
	return nil
}

// write stores the record and moves its index entries.
func (s *KVStore) write(prev, save *Record) error {
	raw, err := json.Marshal(save)
	if err != nil {
		return errors.Wrap(errors.ErrModel, err.Error())
	}

	cache := s.db.CacheWrap()
	ops := []store.Op{
		store.SetOp(recordKey(save.ID), raw),
		store.SetOp(tokenKey(save.Token), []byte(save.ID)),
		store.SetOp(senderKey(save.Sender, save.ID), []byte(save.ID)),
		store.SetOp(stateKey(save.State, save.ID), []byte(save.ID)),
	}
	if prev != nil {
		if prev.Token != save.Token {
			ops = append(ops, store.DelOp(tokenKey(prev.Token)))
		}
		if prev.State != save.State {
			ops = append(ops, store.DelOp(stateKey(prev.State, prev.ID)))
		}
	}
	for _, op := range ops {
		if err := op.Apply(cache); err != nil {
			cache.Discard()
			return err
		}
	}
	if err := cache.Write(); err != nil {
		return err
	}
	if c, ok := s.db.(store.CommitKVStore); ok {
		if _, err := c.Commit(); err != nil {
			return errors.Wrap(err, "commit")
		}
	}
	return nil
}

func (s *KVStore) load(id string) (*Record, error) {
	raw, err := s.db.Get(recordKey(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "record %s", id)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, errors.Wrap(errors.ErrModel, err.Error())
	}
	return &r, nil
}

// GetByID returns a record.
func (s *KVStore) GetByID(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

// GetByToken returns the record a token currently points to.
func (s *KVStore) GetByToken(ctx context.Context, token string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := s.db.Get(tokenKey(token))
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, errors.Wrap(errors.ErrNotFound, "token")
	}
	return s.load(string(id))
}

// ListBySender returns the records of a sender.
func (s *KVStore) ListBySender(ctx context.Context, sender claimsend.Address) ([]*Record, error) {
	return s.list([]byte(senderPrefix + hex.EncodeToString(sender) + ":"))
}

// ListByState returns the records in a state.
func (s *KVStore) ListByState(ctx context.Context, state State) ([]*Record, error) {
	return s.list([]byte(statePrefix + string(state) + ":"))
}

func (s *KVStore) list(prefix []byte) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, end := store.PrefixRange(prefix)
	it, err := s.db.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	var ids []string
	for it.Valid() {
		ids = append(ids, string(it.Value()))
		if err := it.Next(); err != nil {
			it.Close()
			return nil, err
		}
	}
	it.Close()

	res := make([]*Record, 0, len(ids))
	for _, id := range ids {
		r, err := s.load(id)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	sortRecords(res)
	return res, nil
}
