package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/iov-one/claimsend"
)

// commands is a register of all available commands. The name is matched
// with the first argument given.
//
// A command function reads from input and writes its result to output.
// Arguments are the command line arguments without the program name and the
// command name, and are parsed by the command itself using the flag package.
// Commands that produce a group write it to output so that commands can be
// chained:
//
//   $ claimsend deposit -sender $SENDER -amount 5 -contact bob@example.com \
//       | claimsend sign -key $SENDER_KEY \
//       | claimsend submit
//
var commands = map[string]func(input io.Reader, output io.Writer, args []string) error{
	"confirm-claim":    cmdConfirmClaim,
	"confirm-funding":  cmdConfirmFunding,
	"confirm-reclaim":  cmdConfirmReclaim,
	"demo":             cmdDemo,
	"deposit":          cmdDeposit,
	"holding-address":  cmdHoldingAddress,
	"keyaddr":          cmdKeyaddr,
	"keygen":           cmdKeygen,
	"list":             cmdList,
	"prepare-claim":    cmdPrepareClaim,
	"prepare-reclaim":  cmdPrepareReclaim,
	"rotate-token":     cmdRotateToken,
	"show":             cmdShow,
	"sign":             cmdSign,
	"submit":           cmdSubmit,
	"sweep":            cmdSweep,
	"version":          cmdVersion,
	"view":             cmdView,
}

// stderr receives the messages that must not end up in a pipeline, for
// example the claim token of a new deposit.
var stderr io.Writer = os.Stderr

func main() {
	if len(os.Args) == 1 {
		fmt.Fprintf(os.Stderr, "%s creates and resolves claimable deposits.\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: %s <command> [<flags>]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nAvailable commands are:\n\t%s\n", strings.Join(availableCmds(), "\n\t"))
		fmt.Fprintf(os.Stderr, "Run '%s <command> -help' to learn more about each command.\n", os.Args[0])
		os.Exit(2)
	}
	run, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "\nAvailable commands are:\n\t%s\n", strings.Join(availableCmds(), "\n\t"))
		os.Exit(2)
	}

	if err := run(os.Stdin, os.Stdout, os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func availableCmds() []string {
	available := make([]string, 0, len(commands))
	for name := range commands {
		available = append(available, name)
	}
	sort.Strings(available)
	return available
}

func cmdVersion(in io.Reader, out io.Writer, args []string) error {
	fmt.Fprintln(out, claimsend.Version())
	return nil
}
