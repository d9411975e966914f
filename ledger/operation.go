package ledger

import (
	"crypto/sha512"
	"encoding/base32"
	"encoding/json"

	"github.com/gowebpki/jcs"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
)

// OpType is the kind of a ledger operation.
type OpType string

const (
	OpPay           OpType = "pay"
	OpAssetTransfer OpType = "axfer"
	OpAppCall       OpType = "appl"
)

// AppAction is the contract call being made by an appl operation.
type AppAction string

const (
	// AppCreate deploys a new contract under a caller chosen id.
	AppCreate AppAction = "create"
	// AppBind sets the recipient of a contract. Only the contract operator
	// may call it.
	AppBind AppAction = "bind"
)

const (
	// MaxNoteSize is the largest note accepted by the ledger.
	MaxNoteSize = 1024
	// MaxGroupSize is the largest number of operations in an atomic group.
	MaxGroupSize = 16
)

var txidEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TxID identifies an operation. It is the digest of the operation bytes, so
// it is known before submission.
type TxID string

// Validate returns an error if the id is not well formed.
func (id TxID) Validate() error {
	raw, err := txidEncoding.DecodeString(string(id))
	if err != nil || len(raw) != sha512.Size256 {
		return errors.Wrapf(errors.ErrInvalidInput, "operation id %q", string(id))
	}
	return nil
}

// Operation is a single ledger operation. Amounts of a pay operation are in
// the reserve currency, amounts of an axfer operation are in the asset
// smallest unit.
type Operation struct {
	Type       OpType            `json:"type"`
	Network    string            `json:"gen"`
	Sender     claimsend.Address `json:"snd"`
	Receiver   claimsend.Address `json:"rcv,omitempty"`
	Amount     claimsend.Amount  `json:"amt,omitempty,string"`
	AssetID    uint64            `json:"xaid,omitempty,string"`
	CloseTo    claimsend.Address `json:"close,omitempty"`
	RekeyTo    claimsend.Address `json:"rekey,omitempty"`
	Fee        claimsend.Amount  `json:"fee,string"`
	FirstRound uint64            `json:"fv,string"`
	LastRound  uint64            `json:"lv,string"`
	Note       []byte            `json:"note,omitempty"`
	Group      []byte            `json:"grp,omitempty"`
	App        *AppCall          `json:"apcall,omitempty"`
}

// AppCall carries the arguments of an appl operation.
type AppCall struct {
	Action AppAction `json:"action"`
	AppID  uint64    `json:"app_id,string"`
	// Program, Operator and AssetID are set on create.
	Program  string            `json:"program,omitempty"`
	Operator claimsend.Address `json:"operator,omitempty"`
	AssetID  uint64            `json:"asset_id,omitempty,string"`
	// Recipient is set on bind and optionally on create.
	Recipient claimsend.Address `json:"recipient,omitempty"`
}

// IsOptIn returns true if this operation registers an asset for its sender.
func (op *Operation) IsOptIn() bool {
	return op.Type == OpAssetTransfer && op.Amount == 0 && op.Sender.Equals(op.Receiver)
}

// Validate checks the operation is well formed. It does not consult ledger
// state.
func (op *Operation) Validate() error {
	var errs error
	if op.Network == "" {
		errs = errors.AppendField(errs, "Network", errors.ErrEmpty)
	}
	errs = errors.AppendField(errs, "Sender", op.Sender.Validate())
	if op.LastRound < op.FirstRound {
		errs = errors.AppendField(errs, "LastRound", errors.Wrap(errors.ErrInvalidInput, "before first round"))
	}
	if len(op.Note) > MaxNoteSize {
		errs = errors.AppendField(errs, "Note", errors.Wrapf(errors.ErrInvalidInput, "longer than %d", MaxNoteSize))
	}
	if op.CloseTo != nil {
		errs = errors.AppendField(errs, "CloseTo", op.CloseTo.Validate())
	}
	if op.RekeyTo != nil {
		errs = errors.AppendField(errs, "RekeyTo", op.RekeyTo.Validate())
	}

	switch op.Type {
	case OpPay:
		errs = errors.AppendField(errs, "Receiver", op.Receiver.Validate())
		if op.AssetID != 0 {
			errs = errors.AppendField(errs, "AssetID", errors.Wrap(errors.ErrInvalidInput, "pay moves the reserve currency"))
		}
	case OpAssetTransfer:
		errs = errors.AppendField(errs, "Receiver", op.Receiver.Validate())
		if op.AssetID == 0 {
			errs = errors.AppendField(errs, "AssetID", errors.ErrEmpty)
		}
	case OpAppCall:
		errs = errors.AppendField(errs, "App", op.App.validate())
	default:
		errs = errors.AppendField(errs, "Type", errors.Wrapf(errors.ErrInvalidInput, "unknown operation type %q", op.Type))
	}
	return errs
}

func (c *AppCall) validate() error {
	if c == nil {
		return errors.ErrEmpty
	}
	if c.AppID == 0 {
		return errors.Wrap(errors.ErrEmpty, "app id")
	}
	switch c.Action {
	case AppCreate:
		if c.Program == "" {
			return errors.Wrap(errors.ErrEmpty, "program")
		}
		if err := c.Operator.Validate(); err != nil {
			return errors.Wrap(err, "operator")
		}
		if c.AssetID == 0 {
			return errors.Wrap(errors.ErrEmpty, "asset id")
		}
	case AppBind:
		if err := c.Recipient.Validate(); err != nil {
			return errors.Wrap(err, "recipient")
		}
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unknown app action %q", c.Action)
	}
	return nil
}

// Bytes returns the canonical serialization of the operation. It is what
// signatures and ids are computed over.
func (op *Operation) Bytes() ([]byte, error) {
	raw, err := json.Marshal(op)
	if err != nil {
		return nil, errors.Wrap(errors.ErrModel, err.Error())
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, errors.Wrap(errors.ErrModel, err.Error())
	}
	return canonical, nil
}

// signingBytes is the message signed by keys. The prefix separates
// operations from any other signed payload.
func (op *Operation) signingBytes() ([]byte, error) {
	raw, err := op.Bytes()
	if err != nil {
		return nil, err
	}
	return append([]byte("TX"), raw...), nil
}

func (op *Operation) hash() ([sha512.Size256]byte, error) {
	msg, err := op.signingBytes()
	if err != nil {
		return [sha512.Size256]byte{}, err
	}
	return sha512.Sum512_256(msg), nil
}

// ID returns the operation id.
func (op *Operation) ID() (TxID, error) {
	h, err := op.hash()
	if err != nil {
		return "", err
	}
	return TxID(txidEncoding.EncodeToString(h[:])), nil
}

// Transferred returns how much of the asset the operations moved from one
// account to another.
func Transferred(ops []Operation, assetID uint64, from, to claimsend.Address) claimsend.Amount {
	var total claimsend.Amount
	for _, op := range ops {
		if op.Type != OpAssetTransfer || op.AssetID != assetID {
			continue
		}
		if op.Sender.Equals(from) && op.Receiver.Equals(to) {
			total += op.Amount
		}
	}
	return total
}
