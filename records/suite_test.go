package records_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/claimtest"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/policy"
	"github.com/iov-one/claimsend/records"
)

func newRecord(t testing.TB, n byte) *records.Record {
	t.Helper()
	token, err := records.NewToken()
	require.NoError(t, err)
	created := claimsend.UnixTime(1500000000 + int64(n))
	return &records.Record{
		ID:               records.NewID(),
		Sender:           claimtest.Key(t, n).Address(),
		RecipientContact: "friend@example.com",
		Amount:           19990000,
		AssetID:          1,
		Note:             "for the concert",
		Strategy:         policy.AccountBoundTag,
		Nonce:            claimtest.Nonce(n),
		Holding:          claimtest.Key(t, 100+n).Address(),
		Program:          []byte("true"),
		Token:            token,
		State:            records.StatePending,
		CreatedAt:        created,
		ExpiresAt:        created + 3600,
	}
}

// runStoreSuite runs the tests every Store implementation must pass.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) records.Store) {
	t.Run("create and get", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("duplicates", func(t *testing.T) { testDuplicates(t, newStore(t)) })
	t.Run("compare and set", func(t *testing.T) { testCompareAndSet(t, newStore(t)) })
	t.Run("indexes follow updates", func(t *testing.T) { testIndexes(t, newStore(t)) })
	t.Run("list by sender", func(t *testing.T) { testListBySender(t, newStore(t)) })
	t.Run("concurrent resolve", func(t *testing.T) { testConcurrentResolve(t, newStore(t)) })
	t.Run("prepared payouts", func(t *testing.T) { testPreparedPayouts(t, newStore(t)) })
}

func testCreateAndGet(t *testing.T, s records.Store) {
	ctx := context.Background()
	r := newRecord(t, 1)
	require.NoError(t, s.Create(ctx, r))
	assert.Equal(t, int64(1), r.Version)

	got, err := s.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r, got)
	assert.Equal(t, claimsend.Amount(19990000), got.Amount)

	got, err = s.GetByToken(ctx, r.Token)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	_, err = s.GetByID(ctx, records.NewID())
	assert.True(t, errors.ErrNotFound.Is(err), "got %+v", err)
	_, err = s.GetByToken(ctx, "unknown")
	assert.True(t, errors.ErrNotFound.Is(err), "got %+v", err)

	invalid := newRecord(t, 2)
	invalid.Sender = nil
	assert.Error(t, s.Create(ctx, invalid))
}

func testDuplicates(t *testing.T, s records.Store) {
	ctx := context.Background()
	r := newRecord(t, 1)
	require.NoError(t, s.Create(ctx, r))

	sameID := newRecord(t, 2)
	sameID.ID = r.ID
	err := s.Create(ctx, sameID)
	assert.True(t, errors.ErrDuplicate.Is(err), "got %+v", err)

	sameToken := newRecord(t, 3)
	sameToken.Token = r.Token
	err = s.Create(ctx, sameToken)
	assert.True(t, errors.ErrDuplicate.Is(err), "got %+v", err)

	other := newRecord(t, 4)
	require.NoError(t, s.Create(ctx, other))
	other.Token = r.Token
	err = s.Update(ctx, other)
	assert.True(t, errors.ErrDuplicate.Is(err), "got %+v", err)
}

func testCompareAndSet(t *testing.T, s records.Store) {
	ctx := context.Background()
	r := newRecord(t, 1)
	require.NoError(t, s.Create(ctx, r))

	a, err := s.GetByID(ctx, r.ID)
	require.NoError(t, err)
	b, err := s.GetByID(ctx, r.ID)
	require.NoError(t, err)

	a.State = records.StateFunded
	require.NoError(t, s.Update(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.State = records.StateExpired
	err = s.Update(ctx, b)
	assert.True(t, errors.ErrConflict.Is(err), "got %+v", err)

	got, err := s.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StateFunded, got.State)
	assert.Equal(t, int64(2), got.Version)

	missing := newRecord(t, 2)
	missing.Version = 1
	err = s.Update(ctx, missing)
	assert.True(t, errors.ErrNotFound.Is(err), "got %+v", err)
}

func testIndexes(t *testing.T, s records.Store) {
	ctx := context.Background()
	r := newRecord(t, 1)
	require.NoError(t, s.Create(ctx, r))

	pending, err := s.ListByState(ctx, records.StatePending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = records.UpdateState(ctx, s, r.ID, records.StatePending, records.StateFunded, "", nil, 0)
	require.NoError(t, err)

	pending, err = s.ListByState(ctx, records.StatePending)
	require.NoError(t, err)
	assert.Len(t, pending, 0)
	funded, err := s.ListByState(ctx, records.StateFunded)
	require.NoError(t, err)
	require.Len(t, funded, 1)
	assert.Equal(t, r.ID, funded[0].ID)

	_, err = records.UpdateState(ctx, s, r.ID, records.StatePending, records.StateFunded, "", nil, 0)
	assert.True(t, errors.ErrState.Is(err), "got %+v", err)

	rotated, token, err := records.RotateToken(ctx, s, r.ID, r.ExpiresAt+600, nil)
	require.NoError(t, err)
	assert.NotEqual(t, r.Token, token)
	assert.Equal(t, r.ExpiresAt+600, rotated.ExpiresAt)

	_, err = s.GetByToken(ctx, r.Token)
	assert.True(t, errors.ErrNotFound.Is(err), "got %+v", err)
	got, err := s.GetByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, records.StateFunded, got.State)
}

func testListBySender(t *testing.T, s records.Store) {
	ctx := context.Background()
	sender := claimtest.Key(t, 1).Address()

	var want []string
	for _, created := range []claimsend.UnixTime{300, 100, 200} {
		r := newRecord(t, byte(created/100))
		r.Sender = sender
		r.CreatedAt = created
		r.ExpiresAt = created + 10
		require.NoError(t, s.Create(ctx, r))
		want = append(want, r.ID)
	}
	// created at 100, 200, 300
	want = []string{want[1], want[2], want[0]}

	other := newRecord(t, 9)
	require.NoError(t, s.Create(ctx, other))

	list, err := s.ListBySender(ctx, sender)
	require.NoError(t, err)
	var got []string
	for _, r := range list {
		got = append(got, r.ID)
	}
	assert.Equal(t, want, got)

	list, err = s.ListBySender(ctx, claimtest.Key(t, 50).Address())
	require.NoError(t, err)
	assert.Len(t, list, 0)
}

func testConcurrentResolve(t *testing.T, s records.Store) {
	ctx := context.Background()
	r := newRecord(t, 1)
	r.State = records.StateFunded
	require.NoError(t, s.Create(ctx, r))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := records.Mutate(ctx, s, r.ID, func(rec *records.Record) error {
				if rec.State != records.StateFunded {
					return errors.ErrAlreadyResolved
				}
				rec.State = records.StateResolving
				rec.Resolving = &records.Resolving{
					Kind:        records.KindClaim,
					Destination: claimtest.Key(t, byte(10+i)).Address(),
					PrevState:   records.StateFunded,
				}
				return nil
			})
			switch {
			case err == nil:
				mu.Lock()
				winners++
				mu.Unlock()
			case errors.ErrConflict.Is(err), errors.ErrAlreadyResolved.Is(err):
			default:
				t.Errorf("unexpected error: %+v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)

	got, err := s.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StateResolving, got.State)
	assert.Equal(t, int64(2), got.Version)
}

func testPreparedPayouts(t *testing.T, s records.Store) {
	ctx := context.Background()
	r := newRecord(t, 1)
	r.State = records.StateFunded
	require.NoError(t, s.Create(ctx, r))

	first := records.Prepared{Kind: records.KindClaim, Destination: claimtest.Key(t, 20).Address(), Op: "PAYOUT1"}
	second := records.Prepared{Kind: records.KindReclaim, Destination: r.Sender, Op: "PAYOUT2"}
	_, err := records.Mutate(ctx, s, r.ID, func(rec *records.Record) error {
		rec.State = records.StateResolving
		rec.Resolving = &records.Resolving{Kind: second.Kind, Destination: second.Destination, PrevState: records.StateFunded, PayoutOp: second.Op}
		rec.Prepared = append(rec.Prepared, first, second)
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetByID(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got.Prepared, 2)
	p, ok := got.PreparedPayout("PAYOUT1")
	require.True(t, ok)
	assert.Equal(t, records.KindClaim, p.Kind)
	assert.True(t, first.Destination.Equals(p.Destination))
	_, ok = got.PreparedPayout("PAYOUT3")
	assert.False(t, ok)

	// a clone does not share the history
	c := got.Clone()
	c.Prepared[0].Destination[0] ^= 0xff
	c.Prepared = append(c.Prepared, records.Prepared{Op: "PAYOUT3"})
	assert.True(t, first.Destination.Equals(got.Prepared[0].Destination))
	assert.Len(t, got.Prepared, 2)
}
