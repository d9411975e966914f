package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/ledger"
)

// flConfig registers the configuration file flag every command that talks to
// the ledger or the record store accepts.
func flConfig(fl *flag.FlagSet) *string {
	return fl.String("config", env(configEnv, ""),
		"Path to the YAML configuration file. You can use "+configEnv+" environment variable to set it. Defaults are used if not provided.")
}

// flAddress returns a value that is being initialized with given default value
// and optionally overwritten by a command line argument if provided. This
// function follows Go's flag package convention.
// If given value cannot be deserialized to required type, process is
// terminated.
func flAddress(fl *flag.FlagSet, name, defaultVal, usage string) *claimsend.Address {
	var a claimsend.Address
	if defaultVal != "" {
		var err error
		a, err = claimsend.ParseAddress(defaultVal)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot parse %q address flag value. %s", name, err)
			os.Exit(2)
		}
	}
	fl.Var(&a, name, usage)
	return &a
}

// flHex returns a value that is being initialized with given default value
// and optionally overwritten by a command line argument if provided. This
// function follows Go's flag package convention.
// If given value cannot be deserialized to required type, process is
// terminated.
func flHex(fl *flag.FlagSet, name, defaultVal, usage string) *[]byte {
	var b flagbyte
	if defaultVal != "" {
		if err := b.Set(defaultVal); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot parse %q hex encoded flag value. %s", name, err)
			os.Exit(2)
		}
	}
	fl.Var(&b, name, usage)
	return (*[]byte)(&b)
}

type flagbyte []byte

func (b flagbyte) String() string {
	return hex.EncodeToString(b)
}

func (b *flagbyte) Set(raw string) error {
	val, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	*b = val
	return nil
}

// flTxIDs returns a comma separated list of operation ids.
func flTxIDs(fl *flag.FlagSet, name, usage string) *[]ledger.TxID {
	var ids txids
	fl.Var(&ids, name, usage)
	return (*[]ledger.TxID)(&ids)
}

type txids []ledger.TxID

func (ids txids) String() string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = string(id)
	}
	return strings.Join(s, ",")
}

func (ids *txids) Set(raw string) error {
	for _, s := range strings.Split(raw, ",") {
		id := ledger.TxID(strings.TrimSpace(s))
		if err := id.Validate(); err != nil {
			return err
		}
		*ids = append(*ids, id)
	}
	return nil
}
