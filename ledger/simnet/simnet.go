/*
Package simnet implements an in-memory ledger.

It follows the rules the escrow protocol depends on: accounts keep a minimum
reserve that grows with every registered asset and created contract, an
account must opt in before it can receive an asset, groups are applied in
order and all or nothing, and every operation must be authorized by a key
signature, a predicate program or a contract predicate.

Submitted groups are checked and staged immediately. They are confirmed when
the next round is committed, which happens on every submission unless the
ledger was created with WithManualCommit.
*/
package simnet

import (
	"context"
	"sync"

	"github.com/tendermint/tendermint/libs/log"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
)

// DefaultParams returns the parameters used unless WithParams is given.
func DefaultParams() ledger.Params {
	return ledger.Params{
		Network:         "simnet-v1",
		MinFee:          1000,
		MinBalance:      100000,
		AssetMinBalance: 100000,
		AppMinBalance:   100000,
		ValidityWindow:  1000,
	}
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithParams overrides the ledger parameters.
func WithParams(p ledger.Params) Option {
	return func(l *Ledger) { l.params = p }
}

// WithManualCommit disables committing a round on every submission. Call
// Commit to confirm staged groups.
func WithManualCommit() Option {
	return func(l *Ledger) { l.auto = false }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

type pendingGroup struct {
	ids []ledger.TxID
	ops []ledger.Operation
}

// Ledger is a simulated ledger. It is safe for concurrent use.
type Ledger struct {
	mu     sync.Mutex
	params ledger.Params
	eval   ledger.Evaluator
	auto   bool
	logger log.Logger

	round     uint64
	committed *state
	staged    *state
	pending   []pendingGroup
	known     map[ledger.TxID]bool
	confirmed map[ledger.TxID]*ledger.Confirmation
	// roundCh is closed and replaced on every commit.
	roundCh   chan struct{}
	nextAsset uint64
}

var _ ledger.Client = (*Ledger)(nil)

// New returns an empty ledger. The evaluator decides predicate programs, it
// may be nil if no program is ever used.
func New(eval ledger.Evaluator, opts ...Option) *Ledger {
	l := &Ledger{
		params:    DefaultParams(),
		eval:      eval,
		auto:      true,
		logger:    log.NewNopLogger(),
		round:     1,
		committed: newState(),
		staged:    newState(),
		known:     make(map[ledger.TxID]bool),
		confirmed: make(map[ledger.TxID]*ledger.Confirmation),
		roundCh:   make(chan struct{}),
		nextAsset: 1,
	}
	for _, o := range opts {
		o(l)
	}
	l.logger = l.logger.With("module", "simnet")
	return l
}

// Fund credits reserve currency to an account out of thin air.
func (l *Ledger) Fund(addr claimsend.Address, amount claimsend.Amount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range []*state{l.committed, l.staged} {
		a := s.account(addr)
		a.balance += amount
	}
}

// CreateAsset mints a new asset held entirely by the creator and returns its
// id. The creator is opted in.
func (l *Ledger) CreateAsset(creator claimsend.Address, total claimsend.Amount) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextAsset
	l.nextAsset++
	for _, s := range []*state{l.committed, l.staged} {
		s.assets[id] = &asset{creator: creator.Clone(), total: total}
		s.account(creator).assets[id] = total
	}
	return id
}

// App returns the committed state of a contract.
func (l *Ledger) App(id uint64) (*ledger.AppState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	app, ok := l.committed.apps[id]
	if !ok {
		return nil, false
	}
	cp := *app
	return &cp, true
}

// Round returns the last committed round.
func (l *Ledger) Round() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.round
}

// Commit confirms all staged groups in a new round and returns it.
func (l *Ledger) Commit() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commit()
}

func (l *Ledger) commit() uint64 {
	l.round++
	for _, g := range l.pending {
		for _, id := range g.ids {
			l.confirmed[id] = &ledger.Confirmation{TxID: id, Round: l.round, Group: g.ops}
			delete(l.known, id)
		}
	}
	if len(l.pending) > 0 {
		l.logger.Debug("round committed", "round", l.round, "groups", len(l.pending))
	}
	l.pending = nil
	l.committed = l.staged.clone()
	close(l.roundCh)
	l.roundCh = make(chan struct{})
	return l.round
}

// Params returns the current ledger parameters.
func (l *Ledger) Params(ctx context.Context) (*ledger.Params, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.params
	p.LastRound = l.round
	return &p, nil
}

// AccountState returns the committed state of an account.
func (l *Ledger) AccountState(ctx context.Context, addr claimsend.Address) (*ledger.AccountState, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed.accountState(addr), nil
}

// Submit checks the group against the staged state and stages it.
func (l *Ledger) Submit(ctx context.Context, raw []byte) (ledger.TxID, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(errors.ErrLedgerSubmission, err.Error())
	}
	g, err := ledger.DecodeGroup(raw)
	if err != nil {
		return "", errors.Wrap(errors.ErrLedgerRejected, err.Error())
	}
	ids, err := g.TxIDs()
	if err != nil {
		return "", errors.Wrap(errors.ErrLedgerRejected, err.Error())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.confirmed[ids[0]]; ok || l.known[ids[0]] {
		return ids[0], nil
	}

	st := l.staged.clone()
	next := l.round + 1
	for i := range g.Ops {
		if err := l.check(st, next, &g.Ops[i]); err != nil {
			l.logger.Debug("group rejected", "op", i, "err", err)
			return "", errors.Wrapf(errors.ErrLedgerRejected, "operation %d: %s", i, err)
		}
		if err := st.apply(&l.params, &g.Ops[i].Op); err != nil {
			l.logger.Debug("group rejected", "op", i, "err", err)
			return "", errors.Wrapf(errors.ErrLedgerRejected, "operation %d: %s", i, err)
		}
	}

	l.staged = st
	l.pending = append(l.pending, pendingGroup{ids: ids, ops: g.Operations()})
	for _, id := range ids {
		l.known[id] = true
	}
	if l.auto {
		l.commit()
	}
	return ids[0], nil
}

// check verifies the operation may be applied in the given round and that
// it is authorized.
func (l *Ledger) check(st *state, round uint64, s *ledger.SignedOperation) error {
	op := &s.Op
	if op.Network != l.params.Network {
		return errors.Wrapf(errors.ErrInvalidInput, "network %q", op.Network)
	}
	if round < op.FirstRound || round > op.LastRound {
		return errors.Wrapf(errors.ErrExpired, "round %d outside [%d, %d]", round, op.FirstRound, op.LastRound)
	}
	if op.Fee < l.params.MinFee {
		return errors.Wrapf(errors.ErrInvalidInput, "fee %d below %d", op.Fee, l.params.MinFee)
	}

	methods := 0
	for _, set := range []bool{len(s.Sig) != 0, len(s.Program) != 0, s.AppAuth != 0} {
		if set {
			methods++
		}
	}
	if methods != 1 {
		return errors.Wrapf(errors.ErrUnauthorized, "%d authorizations", methods)
	}

	switch {
	case len(s.Sig) != 0:
		return ledger.VerifySignature(*s)
	case len(s.Program) != 0:
		if !ledger.ProgramAddress(s.Program).Equals(op.Sender) {
			return errors.Wrap(errors.ErrUnauthorized, "program does not govern sender")
		}
		if l.eval == nil {
			return errors.Wrap(errors.ErrUnauthorized, "programs are not supported")
		}
		return l.eval.Approve(s.Program, *op, nil)
	default:
		if !ledger.AppAddress(s.AppAuth).Equals(op.Sender) {
			return errors.Wrap(errors.ErrUnauthorized, "contract does not own sender")
		}
		app, ok := st.apps[s.AppAuth]
		if !ok {
			return errors.Wrapf(errors.ErrNotFound, "contract %d", s.AppAuth)
		}
		if l.eval == nil {
			return errors.Wrap(errors.ErrUnauthorized, "programs are not supported")
		}
		cp := *app
		return l.eval.Approve([]byte(app.Program), *op, &cp)
	}
}

// AwaitConfirmation waits until the operation is confirmed. Operations this
// ledger never accepted time out immediately.
func (l *Ledger) AwaitConfirmation(ctx context.Context, id ledger.TxID, maxRounds uint64) (*ledger.Confirmation, error) {
	l.mu.Lock()
	start := l.round
	for {
		if c, ok := l.confirmed[id]; ok {
			cp := *c
			l.mu.Unlock()
			return &cp, nil
		}
		if !l.known[id] {
			l.mu.Unlock()
			return nil, errors.Wrapf(errors.ErrLedgerTimeout, "unknown operation %s", id)
		}
		if l.round >= start+maxRounds {
			l.mu.Unlock()
			return nil, errors.Wrapf(errors.ErrLedgerTimeout, "not confirmed within %d rounds", maxRounds)
		}
		ch := l.roundCh
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(errors.ErrLedgerTimeout, ctx.Err().Error())
		case <-ch:
		}
		l.mu.Lock()
	}
}
