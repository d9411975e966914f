package records

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/btcsuite/btcutil/base58"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
	"github.com/iov-one/claimsend/policy"
)

// State is the lifecycle state of a record.
type State string

const (
	StatePending   State = "pending"
	StateFunded    State = "funded"
	StateResolving State = "resolving"
	StateClaimed   State = "claimed"
	StateReclaimed State = "reclaimed"
	StateExpired   State = "expired"
)

// States lists every state.
var States = []State{StatePending, StateFunded, StateResolving, StateClaimed, StateReclaimed, StateExpired}

// Validate returns an error for unknown states.
func (s State) Validate() error {
	for _, known := range States {
		if s == known {
			return nil
		}
	}
	return errors.Wrapf(errors.ErrState, "unknown state %q", string(s))
}

// IsPaidOut returns true once the deposit left the holding account.
func (s State) IsPaidOut() bool {
	return s == StateClaimed || s == StateReclaimed
}

// Kind tells a claim from a reclaim.
type Kind string

const (
	KindClaim   Kind = "claim"
	KindReclaim Kind = "reclaim"
)

// FinalState returns the state a confirmed payout of this kind leads to.
func (k Kind) FinalState() State {
	if k == KindReclaim {
		return StateReclaimed
	}
	return StateClaimed
}

// Resolving is the marker of a record whose payout was prepared but not
// yet confirmed.
type Resolving struct {
	Kind        Kind               `json:"kind"`
	Destination claimsend.Address  `json:"destination"`
	PrevState   State              `json:"prev_state"`
	LeaseUntil  claimsend.UnixTime `json:"lease_until"`
	// PayoutOp is the id of the prepared payout transfer.
	PayoutOp ledger.TxID `json:"payout_op"`
}

// Prepared is a payout group handed out for a record. The group stays valid
// on the ledger after its lease lapsed, so it is kept until the record is
// resolved.
type Prepared struct {
	Kind        Kind              `json:"kind"`
	Destination claimsend.Address `json:"destination"`
	Op          ledger.TxID       `json:"op"`
}

// Record is a deposit and its lifecycle.
type Record struct {
	ID               string            `json:"id"`
	Sender           claimsend.Address `json:"sender"`
	RecipientContact string            `json:"recipient_contact"`
	// Recipient is set when the sender named the recipient address.
	Recipient claimsend.Address `json:"recipient,omitempty"`
	Amount    claimsend.Amount  `json:"amount,string"`
	AssetID   uint64            `json:"asset_id,string"`
	Note      string            `json:"note,omitempty"`

	Strategy   policy.Tag        `json:"strategy"`
	Nonce      []byte            `json:"nonce"`
	Holding    claimsend.Address `json:"holding"`
	ContractID uint64            `json:"contract_id,omitempty,string"`
	Program    []byte            `json:"program"`

	Token     string             `json:"token"`
	State     State              `json:"state"`
	CreatedAt claimsend.UnixTime `json:"created_at"`
	ExpiresAt claimsend.UnixTime `json:"expires_at"`

	FundingOps []ledger.TxID `json:"funding_ops"`
	// FundingKey is the id of the deposit transfer of the funding group.
	FundingKey ledger.TxID `json:"funding_key"`

	Resolving *Resolving `json:"resolving,omitempty"`
	// Prepared lists every payout handed out, superseded leases included.
	Prepared     []Prepared         `json:"prepared,omitempty"`
	ConfirmingOp ledger.TxID        `json:"confirming_op,omitempty"`
	ResolvedTo   claimsend.Address  `json:"resolved_to,omitempty"`
	ResolvedAt   claimsend.UnixTime `json:"resolved_at,omitempty"`

	// Version is incremented by every update.
	Version int64 `json:"version"`
}

// NewID returns a fresh record id.
func NewID() string {
	return uuid.New().String()
}

// NewToken returns a fresh claim token, 32 random bytes in base58.
func NewToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(errors.ErrHuman, err.Error())
	}
	return base58.Encode(raw), nil
}

// TokenHash is the form a token is indexed by.
func TokenHash(token string) string {
	h := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// Validate checks the record is consistent.
func (r *Record) Validate() error {
	var errs error
	if _, err := uuid.Parse(r.ID); err != nil {
		errs = errors.AppendField(errs, "ID", errors.Wrap(errors.ErrInvalidInput, err.Error()))
	}
	errs = errors.AppendField(errs, "Sender", r.Sender.Validate())
	if !r.Recipient.IsEmpty() {
		errs = errors.AppendField(errs, "Recipient", r.Recipient.Validate())
	}
	if !r.Amount.IsPositive() {
		errs = errors.AppendField(errs, "Amount", errors.ErrInvalidAmount)
	}
	if r.AssetID == 0 {
		errs = errors.AppendField(errs, "AssetID", errors.ErrEmpty)
	}
	if r.Strategy == "" {
		errs = errors.AppendField(errs, "Strategy", errors.ErrEmpty)
	}
	if len(r.Nonce) != policy.NonceSize {
		errs = errors.AppendField(errs, "Nonce", errors.Wrapf(errors.ErrInvalidInput, "must be %d bytes", policy.NonceSize))
	}
	errs = errors.AppendField(errs, "Holding", r.Holding.Validate())
	if len(r.Program) == 0 {
		errs = errors.AppendField(errs, "Program", errors.ErrEmpty)
	}
	if r.Token == "" {
		errs = errors.AppendField(errs, "Token", errors.ErrEmpty)
	}
	errs = errors.AppendField(errs, "State", r.State.Validate())
	if r.ExpiresAt <= r.CreatedAt {
		errs = errors.AppendField(errs, "ExpiresAt", errors.Wrap(errors.ErrInvalidInput, "not after creation"))
	}
	if (r.State == StateResolving) != (r.Resolving != nil) {
		errs = errors.AppendField(errs, "Resolving", errors.Wrap(errors.ErrState, "resolving marker does not match state"))
	}
	if r.State.IsPaidOut() {
		if r.ConfirmingOp == "" {
			errs = errors.AppendField(errs, "ConfirmingOp", errors.ErrEmpty)
		}
		errs = errors.AppendField(errs, "ResolvedTo", r.ResolvedTo.Validate())
	}
	return errs
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.Sender = r.Sender.Clone()
	c.Recipient = r.Recipient.Clone()
	c.Holding = r.Holding.Clone()
	c.ResolvedTo = r.ResolvedTo.Clone()
	c.Nonce = append([]byte(nil), r.Nonce...)
	c.Program = append([]byte(nil), r.Program...)
	c.FundingOps = append([]ledger.TxID(nil), r.FundingOps...)
	if r.Resolving != nil {
		res := *r.Resolving
		res.Destination = r.Resolving.Destination.Clone()
		c.Resolving = &res
	}
	if r.Prepared != nil {
		c.Prepared = make([]Prepared, len(r.Prepared))
		for i, p := range r.Prepared {
			p.Destination = p.Destination.Clone()
			c.Prepared[i] = p
		}
	}
	return &c
}

// PreparedPayout returns the payout handed out under the given transfer id.
func (r *Record) PreparedPayout(op ledger.TxID) (Prepared, bool) {
	for _, p := range r.Prepared {
		if p.Op == op {
			return p, true
		}
	}
	return Prepared{}, false
}

// Compiled returns the compilation inputs and outputs stored with the
// record.
func (r *Record) Compiled() *policy.Compiled {
	return &policy.Compiled{
		Tag:        r.Strategy,
		Sender:     r.Sender,
		Recipient:  r.Recipient,
		Nonce:      r.Nonce,
		Program:    r.Program,
		Holding:    r.Holding,
		ContractID: r.ContractID,
		AssetID:    r.AssetID,
	}
}
