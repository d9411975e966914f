package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/iov-one/claimsend/claims"
	"github.com/iov-one/claimsend/policy"
)

func cmdDeposit(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Create a deposit and the group funding its holding account.

The group must be signed by the sender and submitted. The claim token is
part of the output and must be kept secret: whoever holds it can claim.
`)
		fl.PrintDefaults()
	}
	var (
		confFl      = flConfig(fl)
		senderFl    = flAddress(fl, "sender", "", "Address of the account funding the deposit.")
		recipientFl = flAddress(fl, "recipient", "", "Optional address the deposit is bound to. Only this address can claim.")
		amountFl    = fl.String("amount", "", "Amount of the asset in whole units, for example 19.99")
		contactFl   = fl.String("contact", "", "Where the claim link is sent, for example an email address.")
		noteFl      = fl.String("note", "", "Optional note attached to the funding transfer.")
		strategyFl  = fl.String("strategy", "", "Holding account strategy, account-bound or contract-bound. The configured one is used if not provided.")
	)
	fl.Parse(args)

	ctx := context.Background()
	s, err := loadService(ctx, *confFl)
	if err != nil {
		return err
	}
	defer s.Close()

	amount, err := s.amount(*amountFl)
	if err != nil {
		return err
	}
	d, err := s.manager.CreateDeposit(ctx, claims.DepositRequest{
		Sender:           *senderFl,
		RecipientContact: *contactFl,
		Recipient:        *recipientFl,
		Amount:           amount,
		Note:             *noteFl,
		Strategy:         policy.Tag(*strategyFl),
	})
	if err != nil {
		return err
	}
	return writeGroup(output, d.Group, map[string]interface{}{
		"record":    d.Record.ID,
		"holding":   d.Record.Holding,
		"amount":    s.display(d.Record.Amount),
		"token":     d.Token,
		"claim_url": s.manager.ClaimURL(d.Token),
		"expires":   d.Record.ExpiresAt,
	})
}

func cmdConfirmFunding(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Wait for the funding group of a deposit to be confirmed and mark the deposit
funded. The recipient is notified.
`)
		fl.PrintDefaults()
	}
	var (
		confFl = flConfig(fl)
		idFl   = fl.String("record", "", "ID of the deposit record.")
		opsFl  = flTxIDs(fl, "ops", "Optional comma separated ids of submitted funding operations. Each must belong to the funding group.")
	)
	fl.Parse(args)

	ctx := context.Background()
	s, err := loadService(ctx, *confFl)
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.manager.ConfirmFunding(ctx, *idFl, *opsFl)
	if err != nil {
		return err
	}
	return writeJSON(output, redacted(r))
}

func cmdHoldingAddress(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Print the holding account address a deposit with the given parameters uses.
The address does not depend on anything else, so it can be recomputed at any
time.
`)
		fl.PrintDefaults()
	}
	var (
		confFl      = flConfig(fl)
		senderFl    = flAddress(fl, "sender", "", "Address of the account funding the deposit.")
		recipientFl = flAddress(fl, "recipient", "", "Optional address the deposit is bound to.")
		nonceFl     = flHex(fl, "nonce", "", "Hex encoded deposit nonce.")
		strategyFl  = fl.String("strategy", "", "Holding account strategy. The configured one is used if not provided.")
	)
	fl.Parse(args)

	ctx := context.Background()
	s, err := loadService(ctx, *confFl)
	if err != nil {
		return err
	}
	defer s.Close()

	tag := policy.Tag(*strategyFl)
	if tag == "" {
		tag = policy.Tag(s.conf.Escrow.Strategy)
	}
	strategy, err := s.strategies.Get(tag)
	if err != nil {
		return err
	}
	compiled, err := strategy.Compile(policy.Params{
		Sender:    *senderFl,
		Recipient: *recipientFl,
		Nonce:     *nonceFl,
	})
	if err != nil {
		return err
	}
	out := map[string]interface{}{
		"strategy": tag,
		"holding":  compiled.Holding,
	}
	if compiled.ContractID != 0 {
		out["contract_id"] = compiled.ContractID
	}
	return writeJSON(output, out)
}
