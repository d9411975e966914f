/*
Package policy compiles the authorization predicates of holding accounts.

A Strategy turns a sender, an optional recipient and a nonce into a predicate
program and the address of the holding account the program governs. Two
strategies exist. AccountBound programs govern an account whose address is
the digest of the program itself, so the program cannot change after the
account is funded. ContractBound programs are installed into a contract
whose recipient is bound at claim time by the operator.

Compilation is deterministic: the same strategy configuration and inputs
always produce the same program and holding address.
*/
package policy

import (
	"crypto/sha512"
	"encoding/binary"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
)

// Tag names a strategy. It is stored with every record.
type Tag string

const (
	AccountBoundTag  Tag = "account-bound"
	ContractBoundTag Tag = "contract-bound"
)

// NonceSize is the length of the nonces Params expects.
const NonceSize = 16

// Params are the inputs of a compilation.
type Params struct {
	Sender claimsend.Address
	// Recipient is optional. When empty the recipient is bound at claim
	// time.
	Recipient claimsend.Address
	Nonce     []byte
}

// Validate returns an error if the params cannot be compiled.
func (p *Params) Validate() error {
	if err := p.Sender.Validate(); err != nil {
		return errors.Wrap(err, "sender")
	}
	if !p.Recipient.IsEmpty() {
		if err := p.Recipient.Validate(); err != nil {
			return errors.Wrap(err, "recipient")
		}
	}
	if len(p.Nonce) != NonceSize {
		return errors.Wrapf(errors.ErrInvalidInput, "nonce must be %d bytes", NonceSize)
	}
	return nil
}

// Compiled is the result of a compilation.
type Compiled struct {
	Tag       Tag
	Sender    claimsend.Address
	Recipient claimsend.Address
	Nonce     []byte
	// Program is the predicate source. For contract-bound deposits it is
	// the contract program.
	Program []byte
	// Holding is the address of the account that holds the deposit.
	Holding claimsend.Address
	// ContractID is set for contract-bound deposits.
	ContractID uint64
	// AssetID is the only asset the predicate releases.
	AssetID uint64
}

// Strategy is an escrow enforcement mechanism.
type Strategy interface {
	Tag() Tag

	// Compile produces the predicate and holding address. It fails with
	// ErrInvalidIdentity for malformed addresses and with
	// ErrPolicyCompilation if the predicate does not compile.
	Compile(p Params) (*Compiled, error)

	// Setup returns the operations that must precede funding the holding
	// account. They are sent by the sender and are not authorized.
	Setup(c *Compiled, lp *ledger.Params) ([]ledger.Operation, error)

	// Release returns the operations that must precede a payout to dest
	// in the same group, together with the signer authorizing them.
	Release(c *Compiled, dest claimsend.Address, lp *ledger.Params) ([]ledger.Operation, ledger.Signer, error)

	// Authority returns the signer of the holding account.
	Authority(c *Compiled) ledger.Signer

	// PayoutNote returns the note a payout to dest must carry to be
	// approved.
	PayoutNote(c *Compiled, dest claimsend.Address) []byte
}

// Registry resolves strategies by tag.
type Registry map[Tag]Strategy

// NewRegistry indexes the strategies by their tag.
func NewRegistry(strategies ...Strategy) Registry {
	r := make(Registry, len(strategies))
	for _, s := range strategies {
		r[s.Tag()] = s
	}
	return r
}

// Get returns the strategy for a tag.
func (r Registry) Get(tag Tag) (Strategy, error) {
	s, ok := r[tag]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "strategy %q", tag)
	}
	return s, nil
}

// ContractID derives the id of the contract of a contract-bound deposit.
// Ids fit in 63 bits and are never zero.
func ContractID(sender claimsend.Address, nonce []byte) uint64 {
	buf := make([]byte, 0, 13+len(sender)+len(nonce))
	buf = append(buf, "claimsend/app"...)
	buf = append(buf, sender...)
	buf = append(buf, nonce...)
	h := sha512.Sum512_256(buf)
	id := binary.BigEndian.Uint64(h[:8]) & (1<<63 - 1)
	if id == 0 {
		id = 1
	}
	return id
}
