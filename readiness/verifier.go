/*
Package readiness checks account state before operations are built.

A missing asset registration is never guessed around: it is reported as
ErrRecipientNotReady for destinations and ErrInsufficientBalance for
senders.
*/
package readiness

import (
	"context"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
)

// Verifier reads account state from the ledger for a single asset.
type Verifier struct {
	client  ledger.Client
	assetID uint64
}

// NewVerifier returns a verifier of the given asset.
func NewVerifier(client ledger.Client, assetID uint64) *Verifier {
	return &Verifier{client: client, assetID: assetID}
}

// AssetID returns the asset this verifier checks.
func (v *Verifier) AssetID() uint64 {
	return v.assetID
}

// IsOptedIn returns true if the account registered the asset.
func (v *Verifier) IsOptedIn(ctx context.Context, addr claimsend.Address) (bool, error) {
	st, err := v.client.AccountState(ctx, addr)
	if err != nil {
		return false, err
	}
	return st.IsOptedIn(v.assetID), nil
}

// RecipientReady fails with ErrRecipientNotReady unless the destination can
// receive the asset.
func (v *Verifier) RecipientReady(ctx context.Context, dest claimsend.Address) error {
	if err := dest.Validate(); err != nil {
		return err
	}
	ok, err := v.IsOptedIn(ctx, dest)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(errors.ErrRecipientNotReady, "%s has not registered asset %d", dest, v.assetID)
	}
	return nil
}

// Funding is what a sender spends to fund a deposit.
type Funding struct {
	// Asset is the deposit amount.
	Asset claimsend.Amount
	// Reserve is the reserve currency leaving the sender, fees included.
	Reserve claimsend.Amount
	// NewApps is the number of contracts the sender creates.
	NewApps int
}

// SenderCanFund fails with ErrInsufficientBalance unless the sender holds
// the deposit and can spend the reserve while keeping its own minimum
// balance.
func (v *Verifier) SenderCanFund(ctx context.Context, sender claimsend.Address, f Funding) error {
	p, err := v.client.Params(ctx)
	if err != nil {
		return err
	}
	st, err := v.client.AccountState(ctx, sender)
	if err != nil {
		return err
	}
	have, ok := st.Holding(v.assetID)
	if !ok {
		return errors.Wrapf(errors.ErrInsufficientBalance, "%s has not registered asset %d", sender, v.assetID)
	}
	if have < f.Asset {
		return errors.Wrapf(errors.ErrInsufficientBalance, "holds %d of asset %d, needs %d", have, v.assetID, f.Asset)
	}
	need, err := p.MinBalanceFor(len(st.Assets), st.CreatedApps+f.NewApps).Add(f.Reserve)
	if err != nil {
		return err
	}
	if st.Balance < need {
		return errors.Wrapf(errors.ErrInsufficientBalance, "balance %d, needs %d", st.Balance, need)
	}
	return nil
}

// HoldingFunded returns true if the account holds at least amount of the
// asset.
func (v *Verifier) HoldingFunded(ctx context.Context, holding claimsend.Address, amount claimsend.Amount) (bool, error) {
	st, err := v.client.AccountState(ctx, holding)
	if err != nil {
		return false, err
	}
	have, ok := st.Holding(v.assetID)
	return ok && have >= amount, nil
}
