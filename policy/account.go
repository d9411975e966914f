package policy

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
)

// ClaimNotePrefix starts the note of an account-bound claim payout.
const ClaimNotePrefix = "claimsend:claim:"

// MinSecretSize is the shortest secret AccountBound accepts.
const MinSecretSize = 16

// AccountBound governs a holding account by a program whose digest is the
// account address.
//
// The program cannot learn the recipient after the account is funded, so
// unless a recipient is known at deposit time a claim is authorized by
// content: the payout note must carry a claim key derived from the service
// secret and the nonce. The program contains only the digest of that note.
//
// The claim note is the same for every payout of a deposit and the program
// checks neither rounds nor destination, so whoever holds a prepared claim
// group can build a new claim transfer from its note at any time. The claim
// period is enforced by the service refusing to prepare claims, not by the
// program: an unbound deposit past its deadline should be reclaimed rather
// than left in its holding account. A round bound in the program would make
// the holding account depend on the deposit round and no longer be
// reproducible from the sender and the nonce.
type AccountBound struct {
	rt      *Runtime
	assetID uint64
	maxFee  claimsend.Amount
	secret  []byte
}

var _ Strategy = (*AccountBound)(nil)

// NewAccountBound returns the strategy for one asset. Programs approve
// operations paying at most maxFee.
func NewAccountBound(rt *Runtime, assetID uint64, maxFee claimsend.Amount, secret []byte) (*AccountBound, error) {
	if assetID == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "asset id")
	}
	if len(secret) < MinSecretSize {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "secret must have at least %d bytes", MinSecretSize)
	}
	return &AccountBound{rt: rt, assetID: assetID, maxFee: maxFee, secret: secret}, nil
}

// Tag returns AccountBoundTag.
func (*AccountBound) Tag() Tag { return AccountBoundTag }

// Compile returns the program and the address it governs.
func (a *AccountBound) Compile(p Params) (*Compiled, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	program := []byte(a.source(&p))
	if err := a.rt.Check(program); err != nil {
		return nil, err
	}
	return &Compiled{
		Tag:       AccountBoundTag,
		Sender:    p.Sender.Clone(),
		Recipient: p.Recipient.Clone(),
		Nonce:     append([]byte(nil), p.Nonce...),
		Program:   program,
		Holding:   ledger.ProgramAddress(program),
		AssetID:   a.assetID,
	}, nil
}

// source renders the predicate. The nonce is embedded so that every
// deposit gets its own account.
func (a *AccountBound) source(p *Params) string {
	var b strings.Builder
	fmt.Fprintf(&b, "txn.type == %q && txn.asset_id == %du", ledger.OpAssetTransfer, a.assetID)
	b.WriteString(` && txn.rekey_to == "" && txn.close_to == ""`)
	fmt.Fprintf(&b, " && txn.fee <= %du", uint64(a.maxFee))
	fmt.Fprintf(&b, " && %q != \"\"", hex.EncodeToString(p.Nonce))
	b.WriteString(" && (")
	b.WriteString("(txn.amount == 0u && txn.receiver == txn.sender)")
	fmt.Fprintf(&b, " || txn.receiver == %q", p.Sender.String())
	if p.Recipient.IsEmpty() {
		fmt.Fprintf(&b, " || digest(txn.note) == %q", Digest(string(a.claimNote(p.Sender, p.Nonce))))
	} else {
		fmt.Fprintf(&b, " || txn.receiver == %q", p.Recipient.String())
	}
	b.WriteString(")")
	return b.String()
}

func (a *AccountBound) claimNote(sender claimsend.Address, nonce []byte) []byte {
	h, err := blake2b.New256(a.secret)
	if err != nil {
		// secret length is checked by NewAccountBound
		panic(err)
	}
	h.Write(sender)
	h.Write(nonce)
	return []byte(ClaimNotePrefix + hex.EncodeToString(h.Sum(nil)))
}

// Setup returns nothing, the account exists once it is funded.
func (*AccountBound) Setup(*Compiled, *ledger.Params) ([]ledger.Operation, error) {
	return nil, nil
}

// Release returns nothing, the program needs no state change. It fails if
// the program was bound to another recipient at deposit time.
func (*AccountBound) Release(c *Compiled, dest claimsend.Address, _ *ledger.Params) ([]ledger.Operation, ledger.Signer, error) {
	if c.Recipient.IsEmpty() || dest.Equals(c.Sender) || dest.Equals(c.Recipient) {
		return nil, nil, nil
	}
	return nil, nil, errors.Wrap(errors.ErrUnauthorized, "deposit is bound to another recipient")
}

// Authority attaches the program.
func (*AccountBound) Authority(c *Compiled) ledger.Signer {
	return ledger.ProgramSigner{Program: c.Program}
}

// PayoutNote returns the claim note for any destination other than the
// sender or a recipient fixed at deposit time.
func (a *AccountBound) PayoutNote(c *Compiled, dest claimsend.Address) []byte {
	if dest.Equals(c.Sender) || !c.Recipient.IsEmpty() {
		return nil
	}
	return a.claimNote(c.Sender, c.Nonce)
}
