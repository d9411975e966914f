package policy

import (
	"fmt"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
)

// ContractBound governs a holding account owned by a contract created by
// the sender. The contract program is the same for every deposit; the
// recipient lives in the contract state and is bound by the operator when a
// claim is prepared.
type ContractBound struct {
	rt       *Runtime
	assetID  uint64
	maxFee   claimsend.Amount
	operator ledger.Signer
}

var _ Strategy = (*ContractBound)(nil)

// NewContractBound returns the strategy for one asset. The operator signs
// recipient bindings.
func NewContractBound(rt *Runtime, assetID uint64, maxFee claimsend.Amount, operator ledger.Signer) (*ContractBound, error) {
	if assetID == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "asset id")
	}
	if operator == nil {
		return nil, errors.Wrap(errors.ErrEmpty, "operator")
	}
	return &ContractBound{rt: rt, assetID: assetID, maxFee: maxFee, operator: operator}, nil
}

// Tag returns ContractBoundTag.
func (*ContractBound) Tag() Tag { return ContractBoundTag }

func (c *ContractBound) source() string {
	return fmt.Sprintf(`txn.type == %q && txn.asset_id == app.asset_id`+
		` && txn.rekey_to == "" && txn.close_to == "" && txn.fee <= %du`+
		` && ((txn.amount == 0u && txn.receiver == txn.sender)`+
		` || txn.receiver == app.creator`+
		` || (app.recipient != "" && txn.receiver == app.recipient))`,
		ledger.OpAssetTransfer, uint64(c.maxFee))
}

// Compile returns the contract program and the address of the contract
// account.
func (c *ContractBound) Compile(p Params) (*Compiled, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	program := []byte(c.source())
	if err := c.rt.Check(program); err != nil {
		return nil, err
	}
	id := ContractID(p.Sender, p.Nonce)
	return &Compiled{
		Tag:        ContractBoundTag,
		Sender:     p.Sender.Clone(),
		Recipient:  p.Recipient.Clone(),
		Nonce:      append([]byte(nil), p.Nonce...),
		Program:    program,
		Holding:    ledger.AppAddress(id),
		ContractID: id,
		AssetID:    c.assetID,
	}, nil
}

// Setup returns the contract creation.
func (c *ContractBound) Setup(comp *Compiled, lp *ledger.Params) ([]ledger.Operation, error) {
	first, last := lp.Window()
	return []ledger.Operation{{
		Type:       ledger.OpAppCall,
		Network:    lp.Network,
		Sender:     comp.Sender,
		Fee:        lp.MinFee,
		FirstRound: first,
		LastRound:  last,
		App: &ledger.AppCall{
			Action:    ledger.AppCreate,
			AppID:     comp.ContractID,
			Program:   string(comp.Program),
			Operator:  c.operator.Address(),
			AssetID:   comp.AssetID,
			Recipient: comp.Recipient,
		},
	}}, nil
}

// Release binds dest as the contract recipient unless dest is the sender
// or the recipient bound at creation.
func (c *ContractBound) Release(comp *Compiled, dest claimsend.Address, lp *ledger.Params) ([]ledger.Operation, ledger.Signer, error) {
	if dest.Equals(comp.Sender) || dest.Equals(comp.Recipient) {
		return nil, nil, nil
	}
	if !comp.Recipient.IsEmpty() {
		return nil, nil, errors.Wrap(errors.ErrUnauthorized, "deposit is bound to another recipient")
	}
	first, last := lp.Window()
	return []ledger.Operation{{
		Type:       ledger.OpAppCall,
		Network:    lp.Network,
		Sender:     c.operator.Address(),
		Fee:        lp.MinFee,
		FirstRound: first,
		LastRound:  last,
		App: &ledger.AppCall{
			Action:    ledger.AppBind,
			AppID:     comp.ContractID,
			Recipient: dest,
		},
	}}, c.operator, nil
}

// Authority references the contract.
func (*ContractBound) Authority(c *Compiled) ledger.Signer {
	return ledger.AppSigner{AppID: c.ContractID}
}

// PayoutNote returns nil, contract payouts are authorized by identity.
func (*ContractBound) PayoutNote(*Compiled, claimsend.Address) []byte {
	return nil
}
