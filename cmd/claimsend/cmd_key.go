package main

import (
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/iov-one/claimsend/ledger"
)

func cmdKeygen(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Generate a new ed25519 key and write its hex encoded seed to the output.

The seed is the private key. Use it as the operator key of the service or to
sign groups.
`)
		fl.PrintDefaults()
	}
	fl.Parse(args)

	key, err := ledger.GenerateKeySigner(nil)
	if err != nil {
		return fmt.Errorf("cannot generate key: %s", err)
	}
	_, err = fmt.Fprintln(output, hex.EncodeToString(key.Seed()))
	return err
}

func cmdKeyaddr(input io.Reader, output io.Writer, args []string) error {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	fl.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
Read a hex encoded key seed from the input and print the address of the key.
`)
		fl.PrintDefaults()
	}
	fl.Parse(args)

	raw, err := ioutil.ReadAll(input)
	if err != nil {
		return fmt.Errorf("cannot read seed: %s", err)
	}
	seed, err := hex.DecodeString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return fmt.Errorf("seed is not hex encoded: %s", err)
	}
	key, err := ledger.NewKeySigner(seed)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(output, key.Address())
	return err
}
