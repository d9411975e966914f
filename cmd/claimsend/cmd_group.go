package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/iov-one/claimsend/ledger"
)

func cmdSign(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Read a group from the input, sign every operation sent by the key that is
not yet authorized and write the group to the output.
`)
		fl.PrintDefaults()
	}
	var (
		keyFl = flHex(fl, "key", env("CLAIMSEND_KEY", ""), "Hex encoded ed25519 seed of the signing key. You can use CLAIMSEND_KEY environment variable to set it.")
	)
	fl.Parse(args)

	key, err := ledger.NewKeySigner(*keyFl)
	if err != nil {
		return fmt.Errorf("cannot load key: %s", err)
	}
	g, extra, err := readGroup(input)
	if err != nil {
		return err
	}
	n, err := g.SignAll(key)
	if err != nil {
		return fmt.Errorf("cannot sign: %s", err)
	}
	if n == 0 {
		return fmt.Errorf("no operation of %s to sign", key.Address())
	}
	return writeGroup(output, g, extra)
}

func cmdSubmit(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Read a fully authorized group from the input and submit it to the ledger.
The id of the first operation is written to the output.
`)
		fl.PrintDefaults()
	}
	var (
		confFl = flConfig(fl)
	)
	fl.Parse(args)

	g, extra, err := readGroup(input)
	if err != nil {
		return err
	}
	if missing := g.Senders(); len(missing) != 0 {
		return fmt.Errorf("group lacks the signature of %s", missing[0])
	}
	raw, err := g.Encode()
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := loadService(ctx, *confFl)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.client.Submit(ctx, raw)
	if err != nil {
		return err
	}
	out := map[string]interface{}{"txid": id}
	for _, k := range []string{"record", "token", "payout_op"} {
		if v, ok := extra[k]; ok {
			out[k] = v
		}
	}
	return writeJSON(output, out)
}

func cmdView(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Read a group from the input and print its operations in a human readable
form.
`)
		fl.PrintDefaults()
	}
	fl.Parse(args)

	g, _, err := readGroup(input)
	if err != nil {
		return err
	}
	ids, err := g.TxIDs()
	if err != nil {
		return err
	}
	type view struct {
		TxID       ledger.TxID      `json:"txid"`
		Authorized bool             `json:"authorized"`
		Operation  ledger.Operation `json:"operation"`
	}
	out := make([]view, len(g.Ops))
	for i, s := range g.Ops {
		out[i] = view{TxID: ids[i], Authorized: s.IsAuthorized(), Operation: s.Op}
	}
	return writeJSON(output, out)
}
