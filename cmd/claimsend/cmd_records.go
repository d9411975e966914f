package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iov-one/claimsend/claims"
	"github.com/iov-one/claimsend/records"
)

func cmdShow(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Print a deposit record, found either by its ID or by its claim token.
`)
		fl.PrintDefaults()
	}
	var (
		confFl  = flConfig(fl)
		idFl    = fl.String("record", "", "ID of the deposit record.")
		tokenFl = fl.String("token", "", "Claim token of the deposit.")
	)
	fl.Parse(args)

	if (*idFl == "") == (*tokenFl == "") {
		flagDie("exactly one of -record and -token is required")
	}

	ctx := context.Background()
	s, err := loadService(ctx, *confFl)
	if err != nil {
		return err
	}
	defer s.Close()

	var r *records.Record
	if *idFl != "" {
		r, err = s.manager.Get(ctx, *idFl)
	} else {
		r, err = s.manager.Lookup(ctx, *tokenFl)
	}
	if err != nil {
		return err
	}
	return writeJSON(output, redacted(r))
}

func cmdList(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
List the deposits of a sender, oldest first.
`)
		fl.PrintDefaults()
	}
	var (
		confFl   = flConfig(fl)
		senderFl = flAddress(fl, "sender", "", "Address of the account that funded the deposits.")
	)
	fl.Parse(args)

	ctx := context.Background()
	s, err := loadService(ctx, *confFl)
	if err != nil {
		return err
	}
	defer s.Close()

	rs, err := s.manager.ListBySender(ctx, *senderFl)
	if err != nil {
		return err
	}
	type row struct {
		ID      string        `json:"record"`
		State   records.State `json:"state"`
		Amount  string        `json:"amount"`
		Holding string        `json:"holding"`
		Expires time.Time     `json:"expires"`
	}
	out := make([]row, 0, len(rs))
	for _, r := range rs {
		out = append(out, row{
			ID:      r.ID,
			State:   r.State,
			Amount:  s.display(r.Amount),
			Holding: r.Holding.String(),
			Expires: r.ExpiresAt.Time().UTC(),
		})
	}
	return writeJSON(output, out)
}

func cmdRotateToken(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Replace the claim token of a deposit and restart its claim period. The old
token stops working. The recipient is sent the new link.
`)
		fl.PrintDefaults()
	}
	var (
		confFl   = flConfig(fl)
		idFl     = fl.String("record", "", "ID of the deposit record.")
		senderFl = flAddress(fl, "sender", "", "Address of the account that funded the deposit.")
	)
	fl.Parse(args)

	ctx := context.Background()
	s, err := loadService(ctx, *confFl)
	if err != nil {
		return err
	}
	defer s.Close()

	r, token, err := s.manager.RotateToken(ctx, *idFl, *senderFl)
	if err != nil {
		return err
	}
	return writeJSON(output, map[string]interface{}{
		"record":    r.ID,
		"token":     token,
		"claim_url": s.manager.ClaimURL(token),
		"expires":   r.ExpiresAt,
	})
}

func cmdSweep(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Expire deposits whose claim period is over and release abandoned payouts.

Without -every a single pass is made and its result printed. With -every the
command keeps sweeping until interrupted.
`)
		fl.PrintDefaults()
	}
	var (
		confFl  = flConfig(fl)
		everyFl = fl.Duration("every", 0, "Interval between two passes.")
	)
	fl.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	s, err := loadService(ctx, *confFl)
	if err != nil {
		return err
	}
	defer s.Close()

	if *everyFl <= 0 {
		res, err := s.manager.Sweep(ctx)
		if err != nil {
			return err
		}
		return writeJSON(output, res)
	}

	s.logger.Info("sweeper started", "interval", everyFl.String())
	if err := claims.NewSweeper(s.manager, *everyFl).Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// flagDie reports a command line usage problem and terminates the process.
func flagDie(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
