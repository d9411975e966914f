package ledger

import (
	"context"

	"github.com/iov-one/claimsend"
)

// Client is the ledger as seen by the protocol. All calls may suspend for a
// network round trip and honor the context.
type Client interface {
	// Params returns the current ledger parameters.
	Params(ctx context.Context) (*Params, error)

	// Submit hands an encoded group to the ledger and returns the id of its
	// first operation. Submitting the same bytes again is not an error.
	// A group that the ledger refuses for a deterministic reason fails with
	// ErrLedgerRejected, transport problems fail with ErrLedgerSubmission.
	Submit(ctx context.Context, raw []byte) (TxID, error)

	// AwaitConfirmation blocks until the operation is confirmed or maxRounds
	// rounds have passed, in which case it fails with ErrLedgerTimeout.
	AwaitConfirmation(ctx context.Context, id TxID, maxRounds uint64) (*Confirmation, error)

	// AccountState returns the balances of an account. Unknown accounts
	// are returned empty.
	AccountState(ctx context.Context, addr claimsend.Address) (*AccountState, error)
}

// Evaluator decides whether a predicate program approves an operation. App
// is the contract state for contract accounts and nil otherwise.
type Evaluator interface {
	Approve(program []byte, op Operation, app *AppState) error
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(program []byte, op Operation, app *AppState) error

// Approve calls fn.
func (fn EvaluatorFunc) Approve(program []byte, op Operation, app *AppState) error {
	return fn(program, op, app)
}

// Params are the ledger parameters operations are built against.
type Params struct {
	Network         string           `json:"network"`
	LastRound       uint64           `json:"last_round,string"`
	MinFee          claimsend.Amount `json:"min_fee,string"`
	MinBalance      claimsend.Amount `json:"min_balance,string"`
	AssetMinBalance claimsend.Amount `json:"asset_min_balance,string"`
	AppMinBalance   claimsend.Amount `json:"app_min_balance,string"`
	ValidityWindow  uint64           `json:"validity_window,string"`
}

// Window returns the validity range for operations built now.
func (p *Params) Window() (first, last uint64) {
	return p.LastRound, p.LastRound + p.ValidityWindow
}

// MinBalanceFor returns the reserve an account holding the given number of
// assets and created contracts must keep.
func (p *Params) MinBalanceFor(assets, apps int) claimsend.Amount {
	return p.MinBalance +
		p.AssetMinBalance*claimsend.Amount(assets) +
		p.AppMinBalance*claimsend.Amount(apps)
}

// AssetHolding is the balance of one registered asset.
type AssetHolding struct {
	AssetID uint64           `json:"asset_id,string"`
	Amount  claimsend.Amount `json:"amount,string"`
}

// AccountState is the on-ledger state of an account.
type AccountState struct {
	Address     claimsend.Address `json:"address"`
	Balance     claimsend.Amount  `json:"balance,string"`
	Assets      []AssetHolding    `json:"assets"`
	CreatedApps int               `json:"created_apps,string"`
}

// Holding returns the balance of an asset and whether the account opted in.
func (a *AccountState) Holding(assetID uint64) (claimsend.Amount, bool) {
	for _, h := range a.Assets {
		if h.AssetID == assetID {
			return h.Amount, true
		}
	}
	return 0, false
}

// IsOptedIn returns true if the account registered the asset.
func (a *AccountState) IsOptedIn(assetID uint64) bool {
	_, ok := a.Holding(assetID)
	return ok
}

// MinBalance returns the reserve this account must keep.
func (a *AccountState) MinBalance(p *Params) claimsend.Amount {
	return p.MinBalanceFor(len(a.Assets), a.CreatedApps)
}

// AppState is the state of a deployed contract.
type AppState struct {
	ID        uint64            `json:"id,string"`
	Creator   claimsend.Address `json:"creator"`
	Operator  claimsend.Address `json:"operator"`
	AssetID   uint64            `json:"asset_id,string"`
	Recipient claimsend.Address `json:"recipient,omitempty"`
	Program   string            `json:"program"`
}

// Confirmation reports where an operation was confirmed, together with every
// operation of its group.
type Confirmation struct {
	TxID  TxID        `json:"txid"`
	Round uint64      `json:"round,string"`
	Group []Operation `json:"group"`
}
