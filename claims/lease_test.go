package claims_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/claims"
	"github.com/iov-one/claimsend/claimtest"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
	"github.com/iov-one/claimsend/policy"
	"github.com/iov-one/claimsend/records"
)

func TestConcurrentClaimAndReclaim(t *testing.T) {
	for _, tag := range strategies {
		t.Run(string(tag), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, tag)
			d := f.deposit(t, 5000000)

			const callers = 8
			var (
				wg      sync.WaitGroup
				start   = make(chan struct{})
				mu      sync.Mutex
				winners []*claims.Payout
				losers  []error
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					var (
						p   *claims.Payout
						err error
					)
					if i%2 == 0 {
						p, err = f.m.PrepareClaim(ctx, d.Token, f.dest.Address())
					} else {
						p, err = f.m.PrepareReclaim(ctx, d.Token, f.sender.Address())
					}
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						losers = append(losers, err)
					} else {
						winners = append(winners, p)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			require.Len(t, winners, 1)
			for _, err := range losers {
				assert.True(t, errors.ErrAlreadyResolved.Is(err), "got %+v", err)
			}

			p := winners[0]
			f.submit(t, p)
			var r *records.Record
			var err error
			if p.Record.Resolving.Kind == records.KindClaim {
				r, err = f.m.ConfirmClaim(ctx, d.Token, p.Key)
			} else {
				r, err = f.m.ConfirmReclaim(ctx, d.Token, f.sender.Address(), p.Key)
			}
			require.NoError(t, err)
			assert.True(t, r.State.IsPaidOut())
		})
	}
}

func TestAbandonedPayoutLeaseLapses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.ContractBoundTag)
	d := f.deposit(t, 5000000)

	_, err := f.m.PrepareClaim(ctx, d.Token, f.dest.Address())
	require.NoError(t, err)

	_, err = f.m.PrepareReclaim(ctx, d.Token, f.sender.Address())
	assert.True(t, errors.ErrAlreadyResolved.Is(err), "got %+v", err)

	// the claimant never submitted, after the lease the sender may reclaim
	f.clock.Advance(16 * time.Minute)
	p, err := f.m.PrepareReclaim(ctx, d.Token, f.sender.Address())
	require.NoError(t, err)
	assert.Equal(t, records.StateFunded, p.Record.Resolving.PrevState)
	f.submit(t, p)
	r, err := f.m.ConfirmReclaim(ctx, d.Token, f.sender.Address(), "")
	require.NoError(t, err)
	assert.Equal(t, records.StateReclaimed, r.State)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.AccountBoundTag)

	abandoned := f.deposit(t, 1000)
	submitted := f.deposit(t, 2000)
	f.clock.Advance(20 * day)
	expiring := f.deposit(t, 3000)
	f.clock.Advance(11 * day)
	fresh := f.deposit(t, 4000)

	_, err := f.m.PrepareReclaim(ctx, abandoned.Token, f.sender.Address())
	require.NoError(t, err)
	p, err := f.m.PrepareReclaim(ctx, submitted.Token, f.sender.Address())
	require.NoError(t, err)
	f.submit(t, p)

	res, err := f.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, &claims.SweepResult{}, res, "leases are still valid")

	f.clock.Advance(time.Hour)
	res, err = f.m.Sweep(ctx)
	require.NoError(t, err)
	// released back to funded and, being past its deadline, expired
	assert.Equal(t, &claims.SweepResult{Expired: 1, Released: 1, Settled: 1}, res)
	r, err := f.m.Get(ctx, abandoned.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StateExpired, r.State)
	assert.Nil(t, r.Resolving)

	// the confirmed payout of a lapsed lease is recorded by the sweep
	r, err = f.m.Get(ctx, submitted.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StateReclaimed, r.State)
	assert.Equal(t, p.Key, r.ConfirmingOp)
	r, err = f.m.ConfirmReclaim(ctx, submitted.Token, f.sender.Address(), "")
	require.NoError(t, err)
	assert.Equal(t, records.StateReclaimed, r.State)

	f.clock.Advance(20 * day)
	res, err = f.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, &claims.SweepResult{Expired: 1}, res)
	r, err = f.m.Get(ctx, expiring.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StateExpired, r.State)
	r, err = f.m.Get(ctx, fresh.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StateFunded, r.State)
}

func TestPayoutConfirmedAfterLeaseRelease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.AccountBoundTag)
	d := f.deposit(t, 5000000)

	p, err := f.m.PrepareClaim(ctx, d.Token, f.dest.Address())
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	res, err := f.m.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Released)

	// the prepared group is still valid on the ledger
	f.submit(t, p)
	r, err := f.m.ConfirmClaim(ctx, d.Token, p.Key)
	require.NoError(t, err)
	assert.Equal(t, records.StateClaimed, r.State)
	assert.True(t, f.dest.Address().Equals(r.ResolvedTo))
}

func TestConfirmRejectsForeignOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.AccountBoundTag)
	d := f.deposit(t, 5000000)

	_, err := f.m.ConfirmClaim(ctx, d.Token, "")
	assert.True(t, errors.ErrState.Is(err), "got %+v", err)

	p, err := f.m.PrepareClaim(ctx, d.Token, f.dest.Address())
	require.NoError(t, err)
	f.submit(t, p)

	// the funding operation is confirmed but pays nothing out
	_, err = f.m.ConfirmClaim(ctx, d.Token, d.Record.FundingKey)
	assert.True(t, errors.ErrInvalidInput.Is(err), "got %+v", err)
	// a prepared claim is not a reclaim
	_, err = f.m.ConfirmReclaim(ctx, d.Token, f.sender.Address(), "")
	assert.True(t, errors.ErrState.Is(err), "got %+v", err)
	_, err = f.m.ConfirmReclaim(ctx, d.Token, f.sender.Address(), p.Key)
	assert.True(t, errors.ErrInvalidInput.Is(err), "got %+v", err)

	r, err := f.m.Get(ctx, d.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StateResolving, r.State, "failed confirmations leave the record resolving")

	r, err = f.m.ConfirmClaim(ctx, d.Token, "")
	require.NoError(t, err)
	assert.Equal(t, records.StateClaimed, r.State)

	// a landed reclaim is not a claim, even with no recipient bound
	d = f.deposit(t, 5000000)
	p, err = f.m.PrepareReclaim(ctx, d.Token, f.sender.Address())
	require.NoError(t, err)
	f.submit(t, p)
	_, err = f.m.ConfirmClaim(ctx, d.Token, p.Key)
	assert.True(t, errors.ErrInvalidInput.Is(err), "got %+v", err)
	r, err = f.m.Get(ctx, d.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StateResolving, r.State)
	r, err = f.m.ConfirmReclaim(ctx, d.Token, f.sender.Address(), "")
	require.NoError(t, err)
	assert.Equal(t, records.StateReclaimed, r.State)
	assert.True(t, f.sender.Address().Equals(r.ResolvedTo))

	// and the sender does not claim its own deposit
	d = f.deposit(t, 5000000)
	_, err = f.m.PrepareClaim(ctx, d.Token, f.sender.Address())
	assert.True(t, errors.ErrInvalidInput.Is(err), "got %+v", err)
}

func TestSupersededPayoutConfirms(t *testing.T) {
	cases := map[string]struct {
		// first is prepared and submitted only after its lease lapsed.
		first records.Kind
		// second takes over the lapsed lease and is never submitted.
		second records.Kind
		// wrong is a kind the landed group must not be confirmed as.
		wrong records.Kind
		// bySweep leaves recording the payout to the sweeper.
		bySweep bool
	}{
		"claim confirmed after a claim to another destination took over": {
			first:  records.KindClaim,
			second: records.KindClaim,
			wrong:  records.KindReclaim,
		},
		"claim confirmed after a reclaim took over": {
			first:  records.KindClaim,
			second: records.KindReclaim,
			wrong:  records.KindReclaim,
		},
		"reclaim confirmed after a claim took over": {
			first:  records.KindReclaim,
			second: records.KindClaim,
			wrong:  records.KindClaim,
		},
		"reclaim is not confirmed as a claim": {
			first: records.KindReclaim,
			wrong: records.KindClaim,
		},
		"superseded claim settled by the sweeper": {
			first:   records.KindClaim,
			second:  records.KindClaim,
			bySweep: true,
		},
		"superseded reclaim settled by the sweeper": {
			first:   records.KindReclaim,
			second:  records.KindClaim,
			bySweep: true,
		},
	}

	for testName, tc := range cases {
		for _, tag := range strategies {
			t.Run(testName+"/"+string(tag), func(t *testing.T) {
				ctx := context.Background()
				f := newFixture(t, tag)
				other := claimtest.Key(t, 3)
				f.net.Account(t, other, 1000000, 0)
				f.net.OptIn(t, other)
				d := f.deposit(t, 5000000)

				prepare := func(kind records.Kind, dest claimsend.Address) *claims.Payout {
					t.Helper()
					var (
						p   *claims.Payout
						err error
					)
					if kind == records.KindReclaim {
						p, err = f.m.PrepareReclaim(ctx, d.Token, f.sender.Address())
					} else {
						p, err = f.m.PrepareClaim(ctx, d.Token, dest)
					}
					require.NoError(t, err)
					return p
				}
				confirm := func(kind records.Kind, op ledger.TxID) (*records.Record, error) {
					if kind == records.KindReclaim {
						return f.m.ConfirmReclaim(ctx, d.Token, f.sender.Address(), op)
					}
					return f.m.ConfirmClaim(ctx, d.Token, op)
				}

				first := prepare(tc.first, f.dest.Address())
				prepared := 1
				if tc.second != "" {
					f.clock.Advance(16 * time.Minute)
					second := prepare(tc.second, other.Address())
					require.NotEqual(t, first.Key, second.Key)
					prepared++
				}
				f.submit(t, first)

				if tc.wrong != "" {
					_, err := confirm(tc.wrong, first.Key)
					assert.True(t, errors.ErrInvalidInput.Is(err), "got %+v", err)
					r, err := f.m.Get(ctx, d.Record.ID)
					require.NoError(t, err)
					require.Equal(t, records.StateResolving, r.State)
				}

				var r *records.Record
				if tc.bySweep {
					f.clock.Advance(16 * time.Minute)
					res, err := f.m.Sweep(ctx)
					require.NoError(t, err)
					assert.Equal(t, &claims.SweepResult{Settled: 1}, res)
					r, err = f.m.Get(ctx, d.Record.ID)
					require.NoError(t, err)
				} else {
					var err error
					r, err = confirm(tc.first, first.Key)
					require.NoError(t, err)
				}

				assert.Equal(t, tc.first.FinalState(), r.State)
				assert.Nil(t, r.Resolving)
				assert.Equal(t, first.Key, r.ConfirmingOp)
				assert.Len(t, r.Prepared, prepared)
				want := f.dest.Address()
				if tc.first == records.KindReclaim {
					want = f.sender.Address()
				}
				assert.True(t, want.Equals(r.ResolvedTo), "paid to %s", r.ResolvedTo)
				assert.Equal(t, claimsend.Amount(0), f.net.Holding(t, d.Record.Holding))
			})
		}
	}
}

func TestPayoutAmountProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 15
	properties := gopter.NewProperties(params)

	properties.Property("the deposit is paid out to the unit", prop.ForAll(
		func(amount uint64, reclaim bool, contract bool) bool {
			tag := policy.AccountBoundTag
			if contract {
				tag = policy.ContractBoundTag
			}
			ctx := context.Background()
			f := newFixture(t, tag)
			d := f.deposit(t, claimsend.Amount(amount))

			var (
				p   *claims.Payout
				err error
				to  = f.dest.Address()
			)
			if reclaim {
				to = f.sender.Address()
				p, err = f.m.PrepareReclaim(ctx, d.Token, f.sender.Address())
			} else {
				p, err = f.m.PrepareClaim(ctx, d.Token, f.dest.Address())
			}
			if err != nil {
				return false
			}
			before := f.net.Holding(t, to)
			if _, err := f.net.Submit(p.Group); err != nil {
				return false
			}
			if reclaim {
				_, err = f.m.ConfirmReclaim(ctx, d.Token, f.sender.Address(), p.Key)
			} else {
				_, err = f.m.ConfirmClaim(ctx, d.Token, p.Key)
			}
			return err == nil && f.net.Holding(t, to)-before == claimsend.Amount(amount)
		},
		gen.UInt64Range(1, uint64(senderAssets)),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestSingleWinnerProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 10
	properties := gopter.NewProperties(params)

	properties.Property("one of many concurrent payouts is prepared", prop.ForAll(
		func(claimers, reclaimers int) bool {
			ctx := context.Background()
			f := newFixture(t, policy.AccountBoundTag)
			d := f.deposit(t, 1000)

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				won      int
				badError bool
			)
			run := func(prepare func() (*claims.Payout, error)) {
				defer wg.Done()
				_, err := prepare()
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					won++
				case !errors.ErrAlreadyResolved.Is(err):
					badError = true
				}
			}
			for i := 0; i < claimers; i++ {
				wg.Add(1)
				go run(func() (*claims.Payout, error) { return f.m.PrepareClaim(ctx, d.Token, f.dest.Address()) })
			}
			for i := 0; i < reclaimers; i++ {
				wg.Add(1)
				go run(func() (*claims.Payout, error) { return f.m.PrepareReclaim(ctx, d.Token, f.sender.Address()) })
			}
			wg.Wait()
			return won == 1 && !badError
		},
		gen.IntRange(1, 6),
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}
