package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/iov-one/claimsend/claims"
	"github.com/iov-one/claimsend/ledger"
)

func cmdPrepareClaim(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Build the group paying a deposit out to the holder of its claim token.

The destination account must have registered the asset. The group is fully
authorized and only needs to be submitted.
`)
		fl.PrintDefaults()
	}
	var (
		confFl  = flConfig(fl)
		tokenFl = fl.String("token", env("CLAIMSEND_TOKEN", ""), "Claim token of the deposit. You can use CLAIMSEND_TOKEN environment variable to set it.")
		destFl  = flAddress(fl, "to", "", "Address the deposit is paid out to.")
	)
	fl.Parse(args)

	ctx := context.Background()
	s, err := loadService(ctx, *confFl)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.manager.PrepareClaim(ctx, *tokenFl, *destFl)
	if err != nil {
		return err
	}
	return writePayout(output, s, p)
}

func cmdPrepareReclaim(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Build the group returning a deposit to its sender.
`)
		fl.PrintDefaults()
	}
	var (
		confFl   = flConfig(fl)
		tokenFl  = fl.String("token", env("CLAIMSEND_TOKEN", ""), "Claim token of the deposit. You can use CLAIMSEND_TOKEN environment variable to set it.")
		senderFl = flAddress(fl, "sender", "", "Address of the account that funded the deposit.")
	)
	fl.Parse(args)

	ctx := context.Background()
	s, err := loadService(ctx, *confFl)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.manager.PrepareReclaim(ctx, *tokenFl, *senderFl)
	if err != nil {
		return err
	}
	return writePayout(output, s, p)
}

func writePayout(w io.Writer, s *service, p *claims.Payout) error {
	return writeGroup(w, p.Group, map[string]interface{}{
		"record":      p.Record.ID,
		"kind":        p.Record.Resolving.Kind,
		"destination": p.Record.Resolving.Destination,
		"amount":      s.display(p.Record.Amount),
		"payout_op":   p.Key,
		"lease_until": p.Record.Resolving.LeaseUntil,
	})
}

func cmdConfirmClaim(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Wait for a submitted claim to be confirmed and mark the deposit claimed.
`)
		fl.PrintDefaults()
	}
	var (
		confFl  = flConfig(fl)
		tokenFl = fl.String("token", env("CLAIMSEND_TOKEN", ""), "Claim token of the deposit. You can use CLAIMSEND_TOKEN environment variable to set it.")
		opFl    = fl.String("op", "", "Optional id of the payout operation. The prepared payout is used if not provided.")
	)
	fl.Parse(args)

	ctx := context.Background()
	s, err := loadService(ctx, *confFl)
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.manager.ConfirmClaim(ctx, *tokenFl, ledger.TxID(*opFl))
	if err != nil {
		return err
	}
	return writeJSON(output, redacted(r))
}

func cmdConfirmReclaim(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Wait for a submitted reclaim to be confirmed and mark the deposit reclaimed.
`)
		fl.PrintDefaults()
	}
	var (
		confFl   = flConfig(fl)
		tokenFl  = fl.String("token", env("CLAIMSEND_TOKEN", ""), "Claim token of the deposit. You can use CLAIMSEND_TOKEN environment variable to set it.")
		senderFl = flAddress(fl, "sender", "", "Address of the account that funded the deposit.")
		opFl     = fl.String("op", "", "Optional id of the payout operation. The prepared payout is used if not provided.")
	)
	fl.Parse(args)

	ctx := context.Background()
	s, err := loadService(ctx, *confFl)
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.manager.ConfirmReclaim(ctx, *tokenFl, *senderFl, ledger.TxID(*opFl))
	if err != nil {
		return err
	}
	return writeJSON(output, redacted(r))
}
