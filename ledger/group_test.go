package ledger

import (
	"testing"

	"github.com/iov-one/claimsend/claimtest/assert"
	"github.com/iov-one/claimsend/errors"
)

func TestAssembleGroup(t *testing.T) {
	alice := seedSigner(t, 1)
	bob := seedSigner(t, 2)
	program := ProgramSigner{Program: []byte(`txn.amount == 0`)}

	g, err := Assemble(
		transfer(alice.Address(), program.Address(), 0),
		transfer(program.Address(), program.Address(), 0),
		transfer(alice.Address(), bob.Address(), 5),
	)
	assert.Nil(t, err)
	assert.Nil(t, g.Validate())

	gid := g.ID()
	if len(gid) != 32 {
		t.Fatalf("want 32 byte group id, got %X", gid)
	}
	for i, s := range g.Ops {
		if string(s.Op.Group) != string(gid) {
			t.Fatalf("operation %d carries another group id", i)
		}
	}
	assert.Equal(t, []int{0, 1, 2}, g.Unsigned())

	assert.Nil(t, g.Authorize(1, program))
	n, err := g.SignAll(alice)
	assert.Nil(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int(nil), g.Unsigned())
	assert.Nil(t, VerifySignature(g.Ops[0]))
	assert.Nil(t, VerifySignature(g.Ops[2]))

	// the wrong key cannot sign
	assert.IsErr(t, errors.ErrUnauthorized, g.Authorize(0, bob))
}

func TestSingleOperationGroup(t *testing.T) {
	alice := seedSigner(t, 1)
	g, err := Assemble(transfer(alice.Address(), alice.Address(), 0))
	assert.Nil(t, err)
	assert.Nil(t, g.ID())
	assert.Nil(t, g.Validate())
}

func TestAssembleLimits(t *testing.T) {
	_, err := Assemble()
	assert.IsErr(t, errors.ErrEmpty, err)

	alice := seedSigner(t, 1).Address()
	ops := make([]Operation, MaxGroupSize+1)
	for i := range ops {
		ops[i] = transfer(alice, alice, 0)
	}
	_, err = Assemble(ops...)
	assert.IsErr(t, errors.ErrInvalidInput, err)
}

func TestEncodeDecodeGroup(t *testing.T) {
	alice := seedSigner(t, 1)
	bob := seedSigner(t, 2)

	g, err := Assemble(
		transfer(alice.Address(), bob.Address(), 19990000),
		transfer(bob.Address(), alice.Address(), 1),
	)
	assert.Nil(t, err)
	_, err = g.SignAll(alice)
	assert.Nil(t, err)
	_, err = g.SignAll(bob)
	assert.Nil(t, err)

	raw, err := g.Encode()
	assert.Nil(t, err)
	back, err := DecodeGroup(raw)
	assert.Nil(t, err)

	want, err := g.TxIDs()
	assert.Nil(t, err)
	got, err := back.TxIDs()
	assert.Nil(t, err)
	assert.Equal(t, want, got)
	for i := range back.Ops {
		assert.Nil(t, VerifySignature(back.Ops[i]))
	}
}

func TestTamperedGroupIsRejected(t *testing.T) {
	alice := seedSigner(t, 1)
	bob := seedSigner(t, 2)

	g, err := Assemble(
		transfer(alice.Address(), bob.Address(), 5),
		transfer(bob.Address(), alice.Address(), 1),
	)
	assert.Nil(t, err)
	_, err = g.SignAll(alice)
	assert.Nil(t, err)

	// swapping an operation out breaks the group id
	g.Ops[1].Op.Amount = 1000
	assert.IsErr(t, errors.ErrInvalidInput, g.Validate())

	// a modified operation no longer matches its signature
	g.Ops[0].Op.Amount = 6
	assert.IsErr(t, errors.ErrUnauthorized, VerifySignature(g.Ops[0]))
}

func TestContractAddresses(t *testing.T) {
	a := AppSigner{AppID: 1}
	b := AppSigner{AppID: 2}
	if a.Address().Equals(b.Address()) {
		t.Fatal("contracts must have distinct accounts")
	}
	assert.Equal(t, AppAddress(1), a.Address())

	op := transfer(a.Address(), b.Address(), 1)
	signed, err := a.Sign(op)
	assert.Nil(t, err)
	assert.Equal(t, uint64(1), signed.AppAuth)

	_, err = b.Sign(op)
	assert.IsErr(t, errors.ErrUnauthorized, err)
}
