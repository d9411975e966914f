package simnet

import (
	"sort"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
)

type account struct {
	balance claimsend.Amount
	assets  map[uint64]claimsend.Amount
	apps    int
}

func (a *account) isEmpty() bool {
	return a.balance == 0 && len(a.assets) == 0 && a.apps == 0
}

type asset struct {
	creator claimsend.Address
	total   claimsend.Amount
}

// state is the full ledger state. Groups are applied to a clone so that a
// failing operation leaves nothing behind.
type state struct {
	accounts map[string]*account
	apps     map[uint64]*ledger.AppState
	assets   map[uint64]*asset
}

func newState() *state {
	return &state{
		accounts: make(map[string]*account),
		apps:     make(map[uint64]*ledger.AppState),
		assets:   make(map[uint64]*asset),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, a := range s.accounts {
		cp := &account{balance: a.balance, apps: a.apps, assets: make(map[uint64]claimsend.Amount, len(a.assets))}
		for id, amount := range a.assets {
			cp.assets[id] = amount
		}
		c.accounts[k] = cp
	}
	for id, app := range s.apps {
		cp := *app
		c.apps[id] = &cp
	}
	for id, as := range s.assets {
		cp := *as
		c.assets[id] = &cp
	}
	return c
}

func (s *state) account(addr claimsend.Address) *account {
	key := string(addr)
	a, ok := s.accounts[key]
	if !ok {
		a = &account{assets: make(map[uint64]claimsend.Amount)}
		s.accounts[key] = a
	}
	return a
}

func (s *state) accountState(addr claimsend.Address) *ledger.AccountState {
	res := &ledger.AccountState{Address: addr.Clone(), Assets: []ledger.AssetHolding{}}
	a, ok := s.accounts[string(addr)]
	if !ok {
		return res
	}
	res.Balance = a.balance
	res.CreatedApps = a.apps
	for id, amount := range a.assets {
		res.Assets = append(res.Assets, ledger.AssetHolding{AssetID: id, Amount: amount})
	}
	sort.Slice(res.Assets, func(i, j int) bool { return res.Assets[i].AssetID < res.Assets[j].AssetID })
	return res
}

// apply executes a single operation. Authorization must be checked before.
func (s *state) apply(p *ledger.Params, op *ledger.Operation) error {
	if op.RekeyTo != nil {
		return errors.Wrap(errors.ErrInvalidInput, "rekey is not supported")
	}
	if op.CloseTo != nil {
		return errors.Wrap(errors.ErrInvalidInput, "close is not supported")
	}

	sender := s.account(op.Sender)
	var err error
	if sender.balance, err = sender.balance.Sub(op.Fee); err != nil {
		return errors.Wrap(err, "fee")
	}

	touched := []claimsend.Address{op.Sender}
	switch op.Type {
	case ledger.OpPay:
		if sender.balance, err = sender.balance.Sub(op.Amount); err != nil {
			return err
		}
		receiver := s.account(op.Receiver)
		if receiver.balance, err = receiver.balance.Add(op.Amount); err != nil {
			return err
		}
		touched = append(touched, op.Receiver)

	case ledger.OpAssetTransfer:
		if _, ok := s.assets[op.AssetID]; !ok {
			return errors.Wrapf(errors.ErrNotFound, "asset %d", op.AssetID)
		}
		if op.IsOptIn() {
			if _, ok := sender.assets[op.AssetID]; ok {
				return errors.Wrapf(errors.ErrDuplicate, "already opted in to asset %d", op.AssetID)
			}
			sender.assets[op.AssetID] = 0
			break
		}
		have, ok := sender.assets[op.AssetID]
		if !ok {
			return errors.Wrapf(errors.ErrRecipientNotReady, "sender not opted in to asset %d", op.AssetID)
		}
		receiver := s.account(op.Receiver)
		if _, ok := receiver.assets[op.AssetID]; !ok {
			return errors.Wrapf(errors.ErrRecipientNotReady, "receiver not opted in to asset %d", op.AssetID)
		}
		if sender.assets[op.AssetID], err = have.Sub(op.Amount); err != nil {
			return err
		}
		if receiver.assets[op.AssetID], err = receiver.assets[op.AssetID].Add(op.Amount); err != nil {
			return err
		}
		touched = append(touched, op.Receiver)

	case ledger.OpAppCall:
		switch op.App.Action {
		case ledger.AppCreate:
			if _, ok := s.apps[op.App.AppID]; ok {
				return errors.Wrapf(errors.ErrDuplicate, "contract %d", op.App.AppID)
			}
			s.apps[op.App.AppID] = &ledger.AppState{
				ID:        op.App.AppID,
				Creator:   op.Sender.Clone(),
				Operator:  op.App.Operator.Clone(),
				AssetID:   op.App.AssetID,
				Recipient: op.App.Recipient.Clone(),
				Program:   op.App.Program,
			}
			sender.apps++
		case ledger.AppBind:
			app, ok := s.apps[op.App.AppID]
			if !ok {
				return errors.Wrapf(errors.ErrNotFound, "contract %d", op.App.AppID)
			}
			if !app.Operator.Equals(op.Sender) {
				return errors.Wrapf(errors.ErrUnauthorized, "only the operator may bind contract %d", op.App.AppID)
			}
			app.Recipient = op.App.Recipient.Clone()
		}
	}

	for _, addr := range touched {
		a := s.account(addr)
		if a.isEmpty() {
			continue
		}
		if need := p.MinBalanceFor(len(a.assets), a.apps); a.balance < need {
			return errors.Wrapf(errors.ErrInsufficientBalance, "account %s below min balance %d", addr, need)
		}
	}
	return nil
}
