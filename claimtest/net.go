package claimtest

import (
	"context"
	"testing"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/ledger"
	"github.com/iov-one/claimsend/ledger/simnet"
	"github.com/iov-one/claimsend/policy"
)

// Secret is the account-bound claim secret used by Net strategies.
var Secret = []byte("claimtest secret, not for production")

// MaxFee is the fee limit of Net strategies.
const MaxFee claimsend.Amount = 10000

// Net is a simulated ledger with one asset and a funded contract operator.
type Net struct {
	Ledger   *simnet.Ledger
	Runtime  *policy.Runtime
	AssetID  uint64
	Issuer   *ledger.KeySigner
	Operator *ledger.KeySigner
}

// NewNet returns a ledger with an asset minted by the issuer. Both the
// issuer and the operator hold plenty of reserve currency.
func NewNet(t testing.TB, opts ...simnet.Option) *Net {
	t.Helper()
	rt, err := policy.NewRuntime()
	if err != nil {
		t.Fatalf("cannot create runtime: %s", err)
	}
	n := &Net{
		Ledger:   simnet.New(rt, opts...),
		Runtime:  rt,
		Issuer:   Key(t, 0xA0),
		Operator: Key(t, 0xA1),
	}
	n.Ledger.Fund(n.Issuer.Address(), 1000000000)
	n.Ledger.Fund(n.Operator.Address(), 1000000000)
	n.AssetID = n.Ledger.CreateAsset(n.Issuer.Address(), 1000000000000000)
	return n
}

// AccountBound returns the account-bound strategy for the asset.
func (n *Net) AccountBound(t testing.TB) *policy.AccountBound {
	t.Helper()
	s, err := policy.NewAccountBound(n.Runtime, n.AssetID, MaxFee, Secret)
	if err != nil {
		t.Fatalf("cannot create strategy: %s", err)
	}
	return s
}

// ContractBound returns the contract-bound strategy for the asset.
func (n *Net) ContractBound(t testing.TB) *policy.ContractBound {
	t.Helper()
	s, err := policy.NewContractBound(n.Runtime, n.AssetID, MaxFee, n.Operator)
	if err != nil {
		t.Fatalf("cannot create strategy: %s", err)
	}
	return s
}

// Strategies returns a registry of both strategies.
func (n *Net) Strategies(t testing.TB) policy.Registry {
	t.Helper()
	return policy.NewRegistry(n.AccountBound(t), n.ContractBound(t))
}

// Account funds the key with reserve currency and, if assets is not zero,
// opts it in and transfers assets from the issuer.
func (n *Net) Account(t testing.TB, k *ledger.KeySigner, reserve, assets claimsend.Amount) {
	t.Helper()
	n.Ledger.Fund(k.Address(), reserve)
	if assets == 0 {
		return
	}
	n.OptIn(t, k)
	p := n.params(t)
	first, last := p.Window()
	xfer := ledger.Operation{
		Type:       ledger.OpAssetTransfer,
		Network:    p.Network,
		Sender:     n.Issuer.Address(),
		Receiver:   k.Address(),
		Amount:     assets,
		AssetID:    n.AssetID,
		Fee:        p.MinFee,
		FirstRound: first,
		LastRound:  last,
	}
	n.MustSubmit(t, xfer)
}

// OptIn registers the asset for the key.
func (n *Net) OptIn(t testing.TB, k *ledger.KeySigner) {
	t.Helper()
	p := n.params(t)
	first, last := p.Window()
	optIn := ledger.Operation{
		Type:       ledger.OpAssetTransfer,
		Network:    p.Network,
		Sender:     k.Address(),
		Receiver:   k.Address(),
		AssetID:    n.AssetID,
		Fee:        p.MinFee,
		FirstRound: first,
		LastRound:  last,
	}
	n.MustSubmit(t, optIn, k)
}

// MustSubmit assembles, signs and submits the operations. The issuer and
// operator keys are always available. The test fails on any error.
func (n *Net) MustSubmit(t testing.TB, op ledger.Operation, keys ...ledger.Signer) ledger.TxID {
	t.Helper()
	g, err := ledger.Assemble(op)
	if err != nil {
		t.Fatalf("cannot assemble: %s", err)
	}
	id, err := n.Submit(g, keys...)
	if err != nil {
		t.Fatalf("cannot submit: %s", err)
	}
	return id
}

// Submit signs every unauthorized operation of the group with the key
// matching its sender and submits it.
func (n *Net) Submit(g *ledger.Group, keys ...ledger.Signer) (ledger.TxID, error) {
	keys = append(keys, n.Issuer, n.Operator)
	for _, i := range g.Unsigned() {
		for _, k := range keys {
			if k.Address().Equals(g.Ops[i].Op.Sender) {
				if err := g.Authorize(i, k); err != nil {
					return "", err
				}
				break
			}
		}
	}
	raw, err := g.Encode()
	if err != nil {
		return "", err
	}
	return n.Ledger.Submit(context.Background(), raw)
}

// Holding returns the asset balance of an account.
func (n *Net) Holding(t testing.TB, addr claimsend.Address) claimsend.Amount {
	t.Helper()
	st, err := n.Ledger.AccountState(context.Background(), addr)
	if err != nil {
		t.Fatalf("cannot get account state: %s", err)
	}
	amount, _ := st.Holding(n.AssetID)
	return amount
}

func (n *Net) params(t testing.TB) *ledger.Params {
	t.Helper()
	p, err := n.Ledger.Params(context.Background())
	if err != nil {
		t.Fatalf("cannot get params: %s", err)
	}
	return p
}
