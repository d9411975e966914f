/*
Package claimsend defines the types shared by every part of the escrow claim
protocol: ledger addresses and the conditions they are derived from, exact
asset amounts, timestamps and the service configuration.

A sender deposits an asset into a holding account that no private key
controls. The account is governed by a predicate (see package policy) and is
addressed only through an opaque claim token. Whoever presents the token and a
ledger address ready to receive the asset can take the funds, while the sender
may reclaim them as long as nobody did. Package claims owns that lifecycle.
*/
package claimsend
