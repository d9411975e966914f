package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/claims"
	"github.com/iov-one/claimsend/ledger"
	"github.com/iov-one/claimsend/records"
)

func cmdDemo(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Run a complete deposit on an in-process simulated ledger.

A sender and a recipient account are created and funded, the sender makes a
deposit and the recipient claims it, or the sender reclaims it. Every step
is written to the output.
`)
		fl.PrintDefaults()
	}
	var (
		strategyFl = fl.String("strategy", "account-bound", "Holding account strategy, account-bound or contract-bound.")
		amountFl   = fl.String("amount", "19.99", "Amount of the deposit in whole units.")
		reclaimFl  = fl.Bool("reclaim", false, "Reclaim the deposit instead of claiming it.")
		logFl      = fl.String("log", "error", "Log level: debug, info, error or none.")
	)
	fl.Parse(args)

	operator, err := ledger.GenerateKeySigner(nil)
	if err != nil {
		return err
	}
	conf := claimsend.DefaultConfig()
	conf.Escrow.Strategy = *strategyFl
	conf.Escrow.OperatorKey = hex.EncodeToString(operator.Seed())
	conf.Log.Level = *logFl

	ctx := context.Background()
	s, err := newService(ctx, conf, stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	amount, err := s.amount(*amountFl)
	if err != nil {
		return err
	}
	d := demo{s: s, out: output}
	return d.run(ctx, amount, *reclaimFl)
}

type demo struct {
	s   *service
	out io.Writer
}

type demoStep struct {
	Step   string        `json:"step"`
	Record string        `json:"record,omitempty"`
	State  records.State `json:"state,omitempty"`
	TxID   ledger.TxID   `json:"txid,omitempty"`
	Detail string        `json:"detail,omitempty"`
}

func (d *demo) step(st demoStep) error {
	return writeJSON(d.out, st)
}

func (d *demo) run(ctx context.Context, amount claimsend.Amount, reclaim bool) error {
	sender, err := ledger.GenerateKeySigner(nil)
	if err != nil {
		return err
	}
	recipient, err := ledger.GenerateKeySigner(nil)
	if err != nil {
		return err
	}
	d.s.sim.Fund(sender.Address(), 10000000)
	d.s.sim.Fund(recipient.Address(), 1000000)
	for _, k := range []*ledger.KeySigner{sender, recipient} {
		if _, err := d.transfer(ctx, k, k.Address(), 0); err != nil {
			return fmt.Errorf("cannot register asset: %s", err)
		}
	}
	if _, err := d.transfer(ctx, d.s.operator, sender.Address(), amount); err != nil {
		return fmt.Errorf("cannot fund sender: %s", err)
	}
	if err := d.step(demoStep{Step: "accounts", Detail: fmt.Sprintf("sender %s, recipient %s", sender.Address(), recipient.Address())}); err != nil {
		return err
	}

	dep, err := d.s.manager.CreateDeposit(ctx, claims.DepositRequest{
		Sender:           sender.Address(),
		RecipientContact: "recipient@example.com",
		Amount:           amount,
		Note:             "demo",
	})
	if err != nil {
		return err
	}
	if err := d.step(demoStep{Step: "deposit", Record: dep.Record.ID, State: dep.Record.State, Detail: "holding " + dep.Record.Holding.String()}); err != nil {
		return err
	}
	if _, err := dep.Group.SignAll(sender); err != nil {
		return err
	}
	id, err := d.submit(ctx, dep.Group)
	if err != nil {
		return err
	}
	r, err := d.s.manager.ConfirmFunding(ctx, dep.Record.ID, nil)
	if err != nil {
		return err
	}
	if err := d.step(demoStep{Step: "funded", Record: r.ID, State: r.State, TxID: id}); err != nil {
		return err
	}

	var p *claims.Payout
	if reclaim {
		p, err = d.s.manager.PrepareReclaim(ctx, dep.Token, sender.Address())
	} else {
		p, err = d.s.manager.PrepareClaim(ctx, dep.Token, recipient.Address())
	}
	if err != nil {
		return err
	}
	if err := d.step(demoStep{Step: "prepared", Record: r.ID, State: p.Record.State, TxID: p.Key, Detail: string(p.Record.Resolving.Kind)}); err != nil {
		return err
	}
	if _, err := d.submit(ctx, p.Group); err != nil {
		return err
	}
	if reclaim {
		r, err = d.s.manager.ConfirmReclaim(ctx, dep.Token, sender.Address(), p.Key)
	} else {
		r, err = d.s.manager.ConfirmClaim(ctx, dep.Token, p.Key)
	}
	if err != nil {
		return err
	}

	dest := r.ResolvedTo
	acc, err := d.s.client.AccountState(ctx, dest)
	if err != nil {
		return err
	}
	held, _ := acc.Holding(d.s.conf.Ledger.AssetID)
	return d.step(demoStep{
		Step:   "resolved",
		Record: r.ID,
		State:  r.State,
		TxID:   r.ConfirmingOp,
		Detail: fmt.Sprintf("%s now holds %s", dest, d.s.display(held)),
	})
}

// transfer moves assets from the key to the receiver. A zero amount to
// itself registers the asset.
func (d *demo) transfer(ctx context.Context, from *ledger.KeySigner, to claimsend.Address, amount claimsend.Amount) (ledger.TxID, error) {
	p, err := d.s.client.Params(ctx)
	if err != nil {
		return "", err
	}
	first, last := p.Window()
	g, err := ledger.Assemble(ledger.Operation{
		Type:       ledger.OpAssetTransfer,
		Network:    p.Network,
		Sender:     from.Address(),
		Receiver:   to,
		Amount:     amount,
		AssetID:    d.s.conf.Ledger.AssetID,
		Fee:        p.MinFee,
		FirstRound: first,
		LastRound:  last,
	})
	if err != nil {
		return "", err
	}
	if _, err := g.SignAll(from); err != nil {
		return "", err
	}
	return d.submit(ctx, g)
}

func (d *demo) submit(ctx context.Context, g *ledger.Group) (ledger.TxID, error) {
	raw, err := g.Encode()
	if err != nil {
		return "", err
	}
	id, err := d.s.client.Submit(ctx, raw)
	if err != nil {
		return "", err
	}
	if _, err := d.s.client.AwaitConfirmation(ctx, id, d.s.conf.Ledger.MaxConfirmRounds); err != nil {
		return "", err
	}
	return id, nil
}
