/*
Package txgroup builds the atomic operation groups of a deposit.

A funding group brings a holding account from nothing to funded: the
strategy setup (a contract creation for contract-bound deposits), the
reserve payment, the asset registration of the holding account and the
deposit transfer, in that order. Operations of the holding account are
authorized by its predicate before the group is returned; operations of the
sender are left for the sender to sign.

A payout group moves the deposit out of the holding account, preceded by
whatever release operations the strategy requires. It is fully authorized
when returned.
*/
package txgroup

import (
	"context"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
	"github.com/iov-one/claimsend/policy"
	"github.com/iov-one/claimsend/readiness"
)

// Plan is a built group.
type Plan struct {
	Group *ledger.Group
	// Key is the id of the operation moving the asset. The group is
	// atomic, so its confirmation confirms every operation.
	Key ledger.TxID
	// Funding is what the sender spends. It is empty for payouts.
	Funding readiness.Funding
}

// TxIDs returns the ids of all operations.
func (p *Plan) TxIDs() ([]ledger.TxID, error) {
	return p.Group.TxIDs()
}

// Builder builds groups against the current ledger state. It holds no
// state of its own.
type Builder struct {
	client   ledger.Client
	verifier *readiness.Verifier
}

// NewBuilder returns a builder for the verifier's asset.
func NewBuilder(client ledger.Client, verifier *readiness.Verifier) *Builder {
	return &Builder{client: client, verifier: verifier}
}

// Fund builds the funding group of a deposit. The note is attached to the
// deposit transfer.
func (b *Builder) Fund(ctx context.Context, s policy.Strategy, c *policy.Compiled, amount claimsend.Amount, note []byte) (*Plan, error) {
	if !amount.IsPositive() {
		return nil, errors.Wrap(errors.ErrInvalidAmount, "deposit must be positive")
	}
	if len(note) > ledger.MaxNoteSize {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "note longer than %d", ledger.MaxNoteSize)
	}
	lp, err := b.client.Params(ctx)
	if err != nil {
		return nil, err
	}
	holding, err := b.client.AccountState(ctx, c.Holding)
	if err != nil {
		return nil, err
	}
	optedIn := holding.IsOptedIn(c.AssetID)
	first, last := lp.Window()

	var (
		ops     []ledger.Operation
		funding = readiness.Funding{Asset: amount}
	)

	// A holding account with a balance was set up by an earlier group.
	if holding.Balance == 0 && !optedIn {
		setup, err := s.Setup(c, lp)
		if err != nil {
			return nil, err
		}
		for _, op := range setup {
			if op.App != nil && op.App.Action == ledger.AppCreate {
				funding.NewApps++
			}
			if funding.Reserve, err = funding.Reserve.Add(op.Fee); err != nil {
				return nil, err
			}
		}
		ops = append(ops, setup...)
	}

	if topUp := reserveTopUp(lp, holding, optedIn); topUp > 0 {
		ops = append(ops, ledger.Operation{
			Type:       ledger.OpPay,
			Network:    lp.Network,
			Sender:     c.Sender,
			Receiver:   c.Holding,
			Amount:     topUp,
			Fee:        lp.MinFee,
			FirstRound: first,
			LastRound:  last,
		})
		if funding.Reserve, err = funding.Reserve.Add(topUp + lp.MinFee); err != nil {
			return nil, err
		}
	}

	optInAt := -1
	if !optedIn {
		optInAt = len(ops)
		ops = append(ops, ledger.Operation{
			Type:       ledger.OpAssetTransfer,
			Network:    lp.Network,
			Sender:     c.Holding,
			Receiver:   c.Holding,
			AssetID:    c.AssetID,
			Fee:        lp.MinFee,
			FirstRound: first,
			LastRound:  last,
		})
	}

	depositAt := len(ops)
	ops = append(ops, ledger.Operation{
		Type:       ledger.OpAssetTransfer,
		Network:    lp.Network,
		Sender:     c.Sender,
		Receiver:   c.Holding,
		Amount:     amount,
		AssetID:    c.AssetID,
		Fee:        lp.MinFee,
		FirstRound: first,
		LastRound:  last,
		Note:       note,
	})
	if funding.Reserve, err = funding.Reserve.Add(lp.MinFee); err != nil {
		return nil, err
	}

	g, err := ledger.Assemble(ops...)
	if err != nil {
		return nil, err
	}
	if optInAt >= 0 {
		if err := g.Authorize(optInAt, s.Authority(c)); err != nil {
			return nil, err
		}
	}
	key, err := g.Ops[depositAt].Op.ID()
	if err != nil {
		return nil, err
	}
	return &Plan{Group: g, Key: key, Funding: funding}, nil
}

// reserveTopUp returns how much reserve currency the holding account lacks
// to hold the asset and pay for its registration and one payout.
func reserveTopUp(lp *ledger.Params, holding *ledger.AccountState, optedIn bool) claimsend.Amount {
	assets := len(holding.Assets)
	fees := lp.MinFee
	if !optedIn {
		assets++
		fees += lp.MinFee
	}
	need := lp.MinBalanceFor(assets, holding.CreatedApps) + fees
	if holding.Balance >= need {
		return 0
	}
	return need - holding.Balance
}

// Payout builds the group moving amount from the holding account to dest.
// It fails with ErrRecipientNotReady, before building anything, if dest
// cannot receive the asset.
func (b *Builder) Payout(ctx context.Context, s policy.Strategy, c *policy.Compiled, dest claimsend.Address, amount claimsend.Amount) (*Plan, error) {
	if !amount.IsPositive() {
		return nil, errors.Wrap(errors.ErrInvalidAmount, "payout must be positive")
	}
	if err := b.verifier.RecipientReady(ctx, dest); err != nil {
		return nil, err
	}
	lp, err := b.client.Params(ctx)
	if err != nil {
		return nil, err
	}
	release, releaser, err := s.Release(c, dest, lp)
	if err != nil {
		return nil, err
	}

	first, last := lp.Window()
	ops := append(release, ledger.Operation{
		Type:       ledger.OpAssetTransfer,
		Network:    lp.Network,
		Sender:     c.Holding,
		Receiver:   dest,
		Amount:     amount,
		AssetID:    c.AssetID,
		Fee:        lp.MinFee,
		FirstRound: first,
		LastRound:  last,
		Note:       s.PayoutNote(c, dest),
	})
	g, err := ledger.Assemble(ops...)
	if err != nil {
		return nil, err
	}
	for i := range release {
		if err := g.Authorize(i, releaser); err != nil {
			return nil, err
		}
	}
	payoutAt := len(ops) - 1
	if err := g.Authorize(payoutAt, s.Authority(c)); err != nil {
		return nil, err
	}
	key, err := g.Ops[payoutAt].Op.ID()
	if err != nil {
		return nil, err
	}
	return &Plan{Group: g, Key: key}, nil
}
