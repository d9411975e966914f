package ledger

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/ed25519"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
)

// Signer authorizes operations sent from a single address.
type Signer interface {
	Address() claimsend.Address
	Sign(op Operation) (SignedOperation, error)
}

// ProgramAddress returns the address of the account governed by the given
// predicate program.
func ProgramAddress(program []byte) claimsend.Address {
	return claimsend.NewCondition("lsig", "cel", program).Address()
}

// AppAddress returns the address of the account owned by a contract.
func AppAddress(appID uint64) claimsend.Address {
	id := make([]byte, 8)
	binary.BigEndian.PutUint64(id, appID)
	return claimsend.NewCondition("app", "id", id).Address()
}

// KeySigner signs with an ed25519 private key. Its address is the public
// key.
type KeySigner struct {
	key ed25519.PrivateKey
}

var _ Signer = (*KeySigner)(nil)

// NewKeySigner deterministically derives a key from a 32 byte seed.
func NewKeySigner(seed []byte) (*KeySigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "seed must be %d bytes", ed25519.SeedSize)
	}
	return &KeySigner{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// GenerateKeySigner returns a signer for a new random key. A nil reader uses
// crypto/rand.
func GenerateKeySigner(r io.Reader) (*KeySigner, error) {
	if r == nil {
		r = rand.Reader
	}
	_, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, errors.Wrap(errors.ErrHuman, err.Error())
	}
	return &KeySigner{key: priv}, nil
}

// Address returns the public key.
func (k *KeySigner) Address() claimsend.Address {
	return claimsend.Address(k.key.Public().(ed25519.PublicKey))
}

// Seed returns the seed the key can be restored from.
func (k *KeySigner) Seed() []byte {
	return k.key.Seed()
}

// Sign returns the operation with a signature attached.
func (k *KeySigner) Sign(op Operation) (SignedOperation, error) {
	if !op.Sender.Equals(k.Address()) {
		return SignedOperation{}, errors.Wrapf(errors.ErrUnauthorized, "key %s cannot sign for %s", k.Address(), op.Sender)
	}
	msg, err := op.signingBytes()
	if err != nil {
		return SignedOperation{}, err
	}
	return SignedOperation{Op: op, Sig: ed25519.Sign(k.key, msg)}, nil
}

// VerifySignature checks the ed25519 signature of the operation against its
// sender.
func VerifySignature(s SignedOperation) error {
	if len(s.Op.Sender) != ed25519.PublicKeySize || len(s.Sig) != ed25519.SignatureSize {
		return errors.Wrap(errors.ErrUnauthorized, "malformed signature")
	}
	msg, err := s.Op.signingBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(s.Op.Sender), msg, s.Sig) {
		return errors.Wrap(errors.ErrUnauthorized, "invalid signature")
	}
	return nil
}

// ProgramSigner authorizes operations of a predicate governed account by
// attaching the program. The ledger evaluates it.
type ProgramSigner struct {
	Program []byte
}

var _ Signer = ProgramSigner{}

// Address of the governed account.
func (p ProgramSigner) Address() claimsend.Address {
	return ProgramAddress(p.Program)
}

// Sign attaches the program.
func (p ProgramSigner) Sign(op Operation) (SignedOperation, error) {
	if !op.Sender.Equals(p.Address()) {
		return SignedOperation{}, errors.Wrapf(errors.ErrUnauthorized, "program cannot authorize %s", op.Sender)
	}
	return SignedOperation{Op: op, Program: p.Program}, nil
}

// AppSigner authorizes operations of a contract account. The ledger
// evaluates the contract predicate with the contract state.
type AppSigner struct {
	AppID uint64
}

var _ Signer = AppSigner{}

// Address of the contract account.
func (a AppSigner) Address() claimsend.Address {
	return AppAddress(a.AppID)
}

// Sign references the contract.
func (a AppSigner) Sign(op Operation) (SignedOperation, error) {
	if !op.Sender.Equals(a.Address()) {
		return SignedOperation{}, errors.Wrapf(errors.ErrUnauthorized, "contract %d cannot authorize %s", a.AppID, op.Sender)
	}
	return SignedOperation{Op: op, AppAuth: a.AppID}, nil
}
