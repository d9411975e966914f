package claims_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/claims"
	"github.com/iov-one/claimsend/claimtest"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
	"github.com/iov-one/claimsend/notify"
	"github.com/iov-one/claimsend/policy"
	"github.com/iov-one/claimsend/records"
	"github.com/iov-one/claimsend/store"
)

const (
	day          = 24 * time.Hour
	senderAssets = claimsend.Amount(100000000)
	claimURL     = "https://claimsend.example/claim?token="
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type outbox struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (o *outbox) Notify(ctx context.Context, m notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
	return nil
}

func (o *outbox) sent() []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notify.Message(nil), o.msgs...)
}

type fixture struct {
	net    *claimtest.Net
	m      *claims.Manager
	store  records.Store
	clock  *clock
	outbox *outbox
	sender *ledger.KeySigner
	dest   *ledger.KeySigner
}

func newFixture(t testing.TB, tag policy.Tag) *fixture {
	t.Helper()
	f := &fixture{
		net:    claimtest.NewNet(t),
		store:  records.NewKVStore(store.MemStore()),
		clock:  &clock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)},
		outbox: &outbox{},
		sender: claimtest.Key(t, 1),
		dest:   claimtest.Key(t, 2),
	}
	f.net.Account(t, f.sender, 10000000, senderAssets)
	f.net.Account(t, f.dest, 1000000, 0)
	f.net.OptIn(t, f.dest)

	conf := claims.Config{
		AssetID:          f.net.AssetID,
		Strategy:         tag,
		ClaimTTL:         30 * day,
		ResolveLease:     15 * time.Minute,
		ClaimURL:         claimURL,
		MaxNoteSize:      512,
		MaxConfirmRounds: 10,
	}
	m, err := claims.NewManager(conf, f.store, f.net.Strategies(t), f.net.Ledger,
		claims.WithClock(f.clock.Now),
		claims.WithNotifier(f.outbox))
	require.NoError(t, err)
	f.m = m
	return f
}

// deposit creates a deposit, signs and submits its funding group and
// confirms it.
func (f *fixture) deposit(t testing.TB, amount claimsend.Amount) *claims.Deposit {
	t.Helper()
	d, err := f.m.CreateDeposit(context.Background(), claims.DepositRequest{
		Sender:           f.sender.Address(),
		RecipientContact: "friend@example.com",
		Amount:           amount,
		Note:             "concert tickets",
	})
	require.NoError(t, err)
	_, err = f.net.Submit(d.Group, f.sender)
	require.NoError(t, err)
	r, err := f.m.ConfirmFunding(context.Background(), d.Record.ID, nil)
	require.NoError(t, err)
	require.Equal(t, records.StateFunded, r.State)
	return d
}

func (f *fixture) submit(t testing.TB, p *claims.Payout) {
	t.Helper()
	_, err := f.net.Submit(p.Group)
	require.NoError(t, err)
}

var strategies = []policy.Tag{policy.AccountBoundTag, policy.ContractBoundTag}

func TestClaimScenario(t *testing.T) {
	for _, tag := range strategies {
		t.Run(string(tag), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, tag)

			d, err := f.m.CreateDeposit(ctx, claims.DepositRequest{
				Sender:           f.sender.Address(),
				RecipientContact: "friend@example.com",
				Amount:           5000000,
			})
			require.NoError(t, err)
			assert.Equal(t, records.StatePending, d.Record.State)
			assert.Equal(t, d.Record.CreatedAt+claimsend.UnixTime(30*24*3600), d.Record.ExpiresAt)
			for _, i := range d.Group.Unsigned() {
				assert.True(t, f.sender.Address().Equals(d.Group.Ops[i].Op.Sender), "only sender operations are left unsigned")
			}
			assert.Empty(t, f.outbox.sent(), "nobody is told before the funding confirms")

			_, err = f.net.Submit(d.Group, f.sender)
			require.NoError(t, err)
			r, err := f.m.ConfirmFunding(ctx, d.Record.ID, d.Record.FundingOps)
			require.NoError(t, err)
			assert.Equal(t, records.StateFunded, r.State)
			assert.Equal(t, claimsend.Amount(5000000), f.net.Holding(t, r.Holding))

			sent := f.outbox.sent()
			require.Len(t, sent, 1)
			assert.Equal(t, "friend@example.com", sent[0].Contact)
			assert.Equal(t, claimURL+d.Token, sent[0].ClaimURL)
			assert.Equal(t, claimsend.Amount(5000000), sent[0].Amount)

			// confirmations may be retried
			r, err = f.m.ConfirmFunding(ctx, d.Record.ID, nil)
			require.NoError(t, err)
			assert.Equal(t, records.StateFunded, r.State)
			assert.Len(t, f.outbox.sent(), 1)

			p, err := f.m.PrepareClaim(ctx, d.Token, f.dest.Address())
			require.NoError(t, err)
			assert.Empty(t, p.Group.Unsigned())
			assert.Equal(t, records.StateResolving, p.Record.State)
			f.submit(t, p)

			f.clock.Advance(time.Minute)
			r, err = f.m.ConfirmClaim(ctx, d.Token, p.Key)
			require.NoError(t, err)
			assert.Equal(t, records.StateClaimed, r.State)
			assert.Equal(t, claimsend.AsUnixTime(f.clock.Now()), r.ResolvedAt)
			assert.Equal(t, p.Key, r.ConfirmingOp)
			assert.True(t, f.dest.Address().Equals(r.ResolvedTo))
			assert.Nil(t, r.Resolving)
			assert.Equal(t, claimsend.Amount(5000000), f.net.Holding(t, f.dest.Address()))

			// retried confirmation of the same payout
			again, err := f.m.ConfirmClaim(ctx, d.Token, p.Key)
			require.NoError(t, err)
			assert.Equal(t, r.Version, again.Version)

			_, err = f.m.PrepareClaim(ctx, d.Token, f.dest.Address())
			assert.True(t, errors.ErrAlreadyResolved.Is(err), "got %+v", err)
			_, err = f.m.PrepareReclaim(ctx, d.Token, f.sender.Address())
			assert.True(t, errors.ErrAlreadyResolved.Is(err), "got %+v", err)
		})
	}
}

func TestExactAmounts(t *testing.T) {
	for _, tag := range strategies {
		t.Run(string(tag), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, tag)

			claimed := f.deposit(t, 19990000)
			p, err := f.m.PrepareClaim(ctx, claimed.Token, f.dest.Address())
			require.NoError(t, err)
			f.submit(t, p)
			_, err = f.m.ConfirmClaim(ctx, claimed.Token, "")
			require.NoError(t, err)
			assert.Equal(t, claimsend.Amount(19990000), f.net.Holding(t, f.dest.Address()))
			assert.Equal(t, claimsend.Amount(0), f.net.Holding(t, claimed.Record.Holding))

			reclaimed := f.deposit(t, 19990000)
			assert.Equal(t, senderAssets-2*19990000, f.net.Holding(t, f.sender.Address()))
			p, err = f.m.PrepareReclaim(ctx, reclaimed.Token, f.sender.Address())
			require.NoError(t, err)
			f.submit(t, p)
			r, err := f.m.ConfirmReclaim(ctx, reclaimed.Token, f.sender.Address(), "")
			require.NoError(t, err)
			assert.Equal(t, records.StateReclaimed, r.State)
			assert.Equal(t, senderAssets-19990000, f.net.Holding(t, f.sender.Address()))
		})
	}
}

func TestExpiredClaimCanBeReclaimed(t *testing.T) {
	for _, tag := range strategies {
		t.Run(string(tag), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, tag)
			d := f.deposit(t, 5000000)

			f.clock.Advance(31 * day)
			_, err := f.m.PrepareClaim(ctx, d.Token, f.dest.Address())
			assert.True(t, errors.ErrExpired.Is(err), "got %+v", err)
			r, err := f.m.Get(ctx, d.Record.ID)
			require.NoError(t, err)
			assert.Equal(t, records.StateExpired, r.State)

			_, err = f.m.PrepareClaim(ctx, d.Token, f.dest.Address())
			assert.True(t, errors.ErrExpired.Is(err), "got %+v", err)

			p, err := f.m.PrepareReclaim(ctx, d.Token, f.sender.Address())
			require.NoError(t, err)
			assert.Equal(t, records.StateExpired, p.Record.Resolving.PrevState)
			f.submit(t, p)
			r, err = f.m.ConfirmReclaim(ctx, d.Token, f.sender.Address(), p.Key)
			require.NoError(t, err)
			assert.Equal(t, records.StateReclaimed, r.State)
			assert.Equal(t, senderAssets, f.net.Holding(t, f.sender.Address()))
		})
	}
}

func TestReclaimRequiresSender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.AccountBoundTag)
	stranger := claimtest.Key(t, 9)

	pending, err := f.m.CreateDeposit(ctx, claims.DepositRequest{
		Sender:           f.sender.Address(),
		RecipientContact: "friend@example.com",
		Amount:           1000,
	})
	require.NoError(t, err)
	funded := f.deposit(t, 2000)
	claimed := f.deposit(t, 3000)
	p, err := f.m.PrepareClaim(ctx, claimed.Token, f.dest.Address())
	require.NoError(t, err)
	f.submit(t, p)
	_, err = f.m.ConfirmClaim(ctx, claimed.Token, "")
	require.NoError(t, err)

	for _, token := range []string{pending.Token, funded.Token, claimed.Token} {
		_, err := f.m.PrepareReclaim(ctx, token, stranger.Address())
		assert.True(t, errors.ErrUnauthorized.Is(err), "got %+v", err)
		_, err = f.m.ConfirmReclaim(ctx, token, stranger.Address(), "")
		assert.True(t, errors.ErrUnauthorized.Is(err), "got %+v", err)
		_, err = f.m.PrepareReclaim(ctx, token, f.dest.Address())
		assert.True(t, errors.ErrUnauthorized.Is(err), "got %+v", err)
	}
}

func TestClaimToUnregisteredDestination(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.AccountBoundTag)
	d := f.deposit(t, 5000000)

	unregistered := claimtest.Key(t, 3)
	f.net.Account(t, unregistered, 1000000, 0)
	_, err := f.m.PrepareClaim(ctx, d.Token, unregistered.Address())
	assert.True(t, errors.ErrRecipientNotReady.Is(err), "got %+v", err)

	r, err := f.m.Get(ctx, d.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StateFunded, r.State)
	assert.Equal(t, d.Record.Version+1, r.Version, "only the funding changed the record")

	// after registering the asset the claim goes through
	f.net.OptIn(t, unregistered)
	_, err = f.m.PrepareClaim(ctx, d.Token, unregistered.Address())
	require.NoError(t, err)
}

func TestUnknownToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.AccountBoundTag)
	_, err := f.m.PrepareClaim(ctx, "unknown", f.dest.Address())
	assert.True(t, errors.ErrNotFound.Is(err), "got %+v", err)
	_, err = f.m.PrepareReclaim(ctx, "", f.sender.Address())
	assert.True(t, errors.ErrNotFound.Is(err), "got %+v", err)
	_, err = f.m.ConfirmClaim(ctx, "unknown", "")
	assert.True(t, errors.ErrNotFound.Is(err), "got %+v", err)
}

func TestBoundRecipient(t *testing.T) {
	for _, tag := range strategies {
		t.Run(string(tag), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, tag)
			other := claimtest.Key(t, 3)
			f.net.Account(t, other, 1000000, 0)
			f.net.OptIn(t, other)

			d, err := f.m.CreateDeposit(ctx, claims.DepositRequest{
				Sender:    f.sender.Address(),
				Recipient: f.dest.Address(),
				Amount:    700,
			})
			require.NoError(t, err)
			_, err = f.net.Submit(d.Group, f.sender)
			require.NoError(t, err)
			_, err = f.m.ConfirmFunding(ctx, d.Record.ID, nil)
			require.NoError(t, err)
			assert.Empty(t, f.outbox.sent(), "no contact to notify")

			_, err = f.m.PrepareClaim(ctx, d.Token, other.Address())
			assert.True(t, errors.ErrUnauthorized.Is(err), "got %+v", err)

			p, err := f.m.PrepareClaim(ctx, d.Token, f.dest.Address())
			require.NoError(t, err)
			f.submit(t, p)
			r, err := f.m.ConfirmClaim(ctx, d.Token, "")
			require.NoError(t, err)
			assert.Equal(t, records.StateClaimed, r.State)
		})
	}
}

func TestCreateDepositValidation(t *testing.T) {
	f := newFixture(t, policy.AccountBoundTag)
	poor := claimtest.Key(t, 7)
	f.net.Account(t, poor, 300000, 1000)

	cases := map[string]struct {
		req     claims.DepositRequest
		wantErr *errors.Error
	}{
		"malformed sender": {
			req:     claims.DepositRequest{Sender: claimsend.Address("short"), RecipientContact: "a@b.c", Amount: 1},
			wantErr: errors.ErrInvalidIdentity,
		},
		"zero amount": {
			req:     claims.DepositRequest{Sender: f.sender.Address(), RecipientContact: "a@b.c"},
			wantErr: errors.ErrInvalidAmount,
		},
		"nobody to claim": {
			req:     claims.DepositRequest{Sender: f.sender.Address(), Amount: 1},
			wantErr: errors.ErrInvalidInput,
		},
		"note too long": {
			req:     claims.DepositRequest{Sender: f.sender.Address(), RecipientContact: "a@b.c", Amount: 1, Note: strings.Repeat("x", 513)},
			wantErr: errors.ErrInvalidInput,
		},
		"unknown strategy": {
			req:     claims.DepositRequest{Sender: f.sender.Address(), RecipientContact: "a@b.c", Amount: 1, Strategy: "multisig"},
			wantErr: errors.ErrInvalidInput,
		},
		"more than the sender holds": {
			req:     claims.DepositRequest{Sender: f.sender.Address(), RecipientContact: "a@b.c", Amount: senderAssets + 1},
			wantErr: errors.ErrInsufficientBalance,
		},
		"sender without reserve": {
			req:     claims.DepositRequest{Sender: poor.Address(), RecipientContact: "a@b.c", Amount: 1000},
			wantErr: errors.ErrInsufficientBalance,
		},
		"sender without asset": {
			req:     claims.DepositRequest{Sender: f.dest.Address(), RecipientContact: "a@b.c", Amount: 1},
			wantErr: errors.ErrInsufficientBalance,
		},
	}
	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			_, err := f.m.CreateDeposit(context.Background(), tc.req)
			assert.True(t, tc.wantErr.Is(err), "got %+v", err)
		})
	}

	list, err := f.m.ListBySender(context.Background(), f.sender.Address())
	require.NoError(t, err)
	assert.Empty(t, list, "failed requests store nothing")
}

func TestHoldingIsReproducible(t *testing.T) {
	ctx := context.Background()
	for _, tag := range strategies {
		t.Run(string(tag), func(t *testing.T) {
			f := newFixture(t, tag)
			d, err := f.m.CreateDeposit(ctx, claims.DepositRequest{
				Sender:           f.sender.Address(),
				RecipientContact: "friend@example.com",
				Amount:           10,
				Strategy:         tag,
			})
			require.NoError(t, err)
			assert.Equal(t, tag, d.Record.Strategy)

			s, err := f.net.Strategies(t).Get(tag)
			require.NoError(t, err)
			c, err := s.Compile(policy.Params{Sender: d.Record.Sender, Nonce: d.Record.Nonce})
			require.NoError(t, err)
			assert.Equal(t, d.Record.Holding, c.Holding)
			assert.Equal(t, d.Record.Program, c.Program)
		})
	}
}

func TestConfirmFunding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.AccountBoundTag)
	d, err := f.m.CreateDeposit(ctx, claims.DepositRequest{
		Sender:           f.sender.Address(),
		RecipientContact: "friend@example.com",
		Amount:           5000000,
	})
	require.NoError(t, err)

	_, err = f.m.ConfirmFunding(ctx, d.Record.ID, []ledger.TxID{"AAAA"})
	assert.True(t, errors.ErrInvalidInput.Is(err), "got %+v", err)

	// nothing was submitted yet
	_, err = f.m.ConfirmFunding(ctx, d.Record.ID, nil)
	assert.True(t, errors.ErrLedgerTimeout.Is(err), "got %+v", err)
	assert.True(t, errors.IsRetryable(err))
	r, err := f.m.Get(ctx, d.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StatePending, r.State)

	_, err = f.m.PrepareClaim(ctx, d.Token, f.dest.Address())
	assert.True(t, errors.ErrState.Is(err), "got %+v", err)

	_, err = f.net.Submit(d.Group, f.sender)
	require.NoError(t, err)
	r, err = f.m.ConfirmFunding(ctx, d.Record.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, records.StateFunded, r.State)

	_, err = f.m.ConfirmFunding(ctx, "2b7c0c44-93a4-4a43-9a7b-44e1a8fb46a4", nil)
	assert.True(t, errors.ErrNotFound.Is(err), "got %+v", err)
}

func TestRotateToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.AccountBoundTag)
	d := f.deposit(t, 5000000)

	f.clock.Advance(10 * day)
	_, _, err := f.m.RotateToken(ctx, d.Record.ID, f.dest.Address())
	assert.True(t, errors.ErrUnauthorized.Is(err), "got %+v", err)

	r, token, err := f.m.RotateToken(ctx, d.Record.ID, f.sender.Address())
	require.NoError(t, err)
	assert.NotEqual(t, d.Token, token)
	assert.Equal(t, records.StateFunded, r.State)
	assert.Equal(t, claimsend.AsUnixTime(f.clock.Now().Add(30*day)), r.ExpiresAt)

	sent := f.outbox.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, claimURL+token, sent[1].ClaimURL)

	_, err = f.m.PrepareClaim(ctx, d.Token, f.dest.Address())
	assert.True(t, errors.ErrNotFound.Is(err), "got %+v", err)

	// the new deadline counts from the rotation
	f.clock.Advance(25 * day)
	p, err := f.m.PrepareClaim(ctx, token, f.dest.Address())
	require.NoError(t, err)

	_, _, err = f.m.RotateToken(ctx, d.Record.ID, f.sender.Address())
	assert.True(t, errors.ErrAlreadyResolved.Is(err), "got %+v", err)

	f.submit(t, p)
	_, err = f.m.ConfirmClaim(ctx, token, "")
	require.NoError(t, err)
	_, _, err = f.m.RotateToken(ctx, d.Record.ID, f.sender.Address())
	assert.True(t, errors.ErrAlreadyResolved.Is(err), "got %+v", err)

	expired := f.deposit(t, 1000)
	f.clock.Advance(31 * day)
	_, _, err = f.m.RotateToken(ctx, expired.Record.ID, f.sender.Address())
	assert.True(t, errors.ErrExpired.Is(err), "got %+v", err)
}

func TestListBySender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.AccountBoundTag)
	first := f.deposit(t, 1000)
	f.clock.Advance(time.Hour)
	second := f.deposit(t, 2000)

	list, err := f.m.ListBySender(ctx, f.sender.Address())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.Record.ID, list[0].ID)
	assert.Equal(t, second.Record.ID, list[1].ID)

	_, err = f.m.ListBySender(ctx, claimsend.Address("bad"))
	assert.True(t, errors.ErrInvalidIdentity.Is(err), "got %+v", err)
}

func TestNewManagerValidatesConfig(t *testing.T) {
	net := claimtest.NewNet(t)
	db := records.NewKVStore(store.MemStore())

	_, err := claims.NewManager(claims.Config{}, db, net.Strategies(t), net.Ledger)
	assert.True(t, errors.ErrEmpty.Is(err), "got %+v", err)

	conf := claims.Config{
		AssetID:          net.AssetID,
		Strategy:         policy.ContractBoundTag,
		ClaimTTL:         day,
		ResolveLease:     time.Minute,
		MaxConfirmRounds: 1,
	}
	_, err = claims.NewManager(conf, db, policy.NewRegistry(net.AccountBound(t)), net.Ledger)
	assert.True(t, errors.ErrNotFound.Is(err), "got %+v", err)
}
