package records

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
)

// createScript inserts a record unless its id or token is taken.
// KEYS[1] = record hash, KEYS[2] = token key
// KEYS[3] = sender set, KEYS[4] = state set
// ARGV[1] = id, ARGV[2] = body, ARGV[3] = created at
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "body", ARGV[2], "version", 1, "token", KEYS[2], "state", KEYS[4])
redis.call("SET", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
redis.call("ZADD", KEYS[4], ARGV[3], ARGV[1])
return 1
`)

// updateScript replaces a record if its version matches and moves its
// token and state index entries.
// KEYS[1] = record hash, KEYS[2] = token key, KEYS[3] = state set
// ARGV[1] = id, ARGV[2] = body, ARGV[3] = expected version, ARGV[4] = created at
//
// Returns 1 on success, 0 on version mismatch, -1 if the record does not
// exist and -2 if the new token is taken.
var updateScript = redis.NewScript(`
local cur = redis.call("HMGET", KEYS[1], "version", "token", "state")
if not cur[1] then
	return -1
end
if tonumber(cur[1]) ~= tonumber(ARGV[3]) then
	return 0
end
if cur[2] ~= KEYS[2] then
	if redis.call("EXISTS", KEYS[2]) == 1 then
		return -2
	end
	redis.call("DEL", cur[2])
	redis.call("SET", KEYS[2], ARGV[1])
end
if cur[3] ~= KEYS[3] then
	redis.call("ZREM", cur[3], ARGV[1])
	redis.call("ZADD", KEYS[3], ARGV[4], ARGV[1])
end
redis.call("HSET", KEYS[1], "body", ARGV[2], "version", tonumber(ARGV[3]) + 1, "token", KEYS[2], "state", KEYS[3])
return 1
`)

// RedisStore keeps records in redis. Creation and compare-and-set updates
// run as Lua scripts so that a record and its indexes change atomically.
// Scripts touch index keys stored in the record hash, so the store does
// not support redis cluster.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store keeping all keys under the prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedisStore connects to a redis:// url.
func OpenRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, err.Error())
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	return NewRedisStore(client, "claimsend:"), nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) recordKey(id string) string           { return s.prefix + "rec:" + id }
func (s *RedisStore) tokenKey(token string) string         { return s.prefix + "tok:" + TokenHash(token) }
func (s *RedisStore) senderKey(a claimsend.Address) string { return s.prefix + "snd:" + a.String() }
func (s *RedisStore) stateKey(st State) string             { return s.prefix + "sta:" + string(st) }

// Create inserts a new record.
func (s *RedisStore) Create(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	save := r.Clone()
	save.Version = 1
	body, err := json.Marshal(save)
	if err != nil {
		return errors.Wrap(errors.ErrModel, err.Error())
	}
	keys := []string{s.recordKey(save.ID), s.tokenKey(save.Token), s.senderKey(save.Sender), s.stateKey(save.State)}
	res, err := createScript.Run(ctx, s.client, keys, save.ID, string(body), int64(save.CreatedAt)).Int64()
	if err != nil {
		return errors.Wrap(errors.ErrNetwork, err.Error())
	}
	if res == 0 {
		return errors.Wrapf(errors.ErrDuplicate, "record %s", r.ID)
	}
	r.Version = 1
	return nil
}

// Update replaces the record if its version did not change.
func (s *RedisStore) Update(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	save := r.Clone()
	save.Version = r.Version + 1
	body, err := json.Marshal(save)
	if err != nil {
		return errors.Wrap(errors.ErrModel, err.Error())
	}
	keys := []string{s.recordKey(save.ID), s.tokenKey(save.Token), s.stateKey(save.State)}
	res, err := updateScript.Run(ctx, s.client, keys, save.ID, string(body), r.Version, int64(save.CreatedAt)).Int64()
	if err != nil {
		return errors.Wrap(errors.ErrNetwork, err.Error())
	}
	switch res {
	case 1:
		r.Version = save.Version
		return nil
	case 0:
		return errors.Wrapf(errors.ErrConflict, "record %s changed since version %d", r.ID, r.Version)
	case -1:
		return errors.Wrapf(errors.ErrNotFound, "record %s", r.ID)
	case -2:
		return errors.Wrap(errors.ErrDuplicate, "token")
	default:
		return errors.Wrapf(errors.ErrHuman, "unexpected script result %d", res)
	}
}

// GetByID returns a record.
func (s *RedisStore) GetByID(ctx context.Context, id string) (*Record, error) {
	vals, err := s.client.HMGet(ctx, s.recordKey(id), "body", "version").Result()
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	body, ok := vals[0].(string)
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "record %s", id)
	}
	var r Record
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, errors.Wrap(errors.ErrModel, err.Error())
	}
	if v, ok := vals[1].(string); ok {
		if r.Version, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, errors.Wrap(errors.ErrModel, err.Error())
		}
	}
	return &r, nil
}

// GetByToken returns the record a token currently points to.
func (s *RedisStore) GetByToken(ctx context.Context, token string) (*Record, error) {
	id, err := s.client.Get(ctx, s.tokenKey(token)).Result()
	if err == redis.Nil {
		return nil, errors.Wrap(errors.ErrNotFound, "token")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	return s.GetByID(ctx, id)
}

// ListBySender returns the records of a sender.
func (s *RedisStore) ListBySender(ctx context.Context, sender claimsend.Address) ([]*Record, error) {
	return s.list(ctx, s.senderKey(sender))
}

// ListByState returns the records in a state.
func (s *RedisStore) ListByState(ctx context.Context, state State) ([]*Record, error) {
	return s.list(ctx, s.stateKey(state))
}

func (s *RedisStore) list(ctx context.Context, key string) ([]*Record, error) {
	ids, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	res := make([]*Record, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	sortRecords(res)
	return res, nil
}
