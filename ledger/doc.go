/*
Package ledger models the ledger the escrow protocol runs on.

Value moves through operations: "pay" moves the native reserve currency,
"axfer" moves a fungible asset (a zero amount sent to oneself registers the
asset, which is called opting in) and "appl" creates or calls a contract.
Operations are bundled into atomic groups that the ledger applies in order and
all or nothing.

Every operation is authorized in one of three ways: an ed25519 signature of
the sender key, a predicate program whose address is the sender, or the
predicate of the contract whose account is the sender. Programs are evaluated
by an Evaluator provided by the ledger implementation.

The ledger itself is reached through the Client interface. Package simnet
implements it in memory and package rpcledger talks to a remote gateway.
*/
package ledger
