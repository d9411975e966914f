/*
Package notify delivers claim links to recipients.

The lifecycle manager hands a Message to a Notifier and never waits for the
delivery: a deposit is valid whether or not its recipient was told about it.
Dispatcher decouples the two by queueing messages and delivering them from a
single goroutine at a bounded rate.
*/
package notify

import (
	"context"

	"github.com/tendermint/tendermint/libs/log"

	"github.com/iov-one/claimsend"
)

// Message tells a recipient where to claim a deposit.
type Message struct {
	RecordID string           `json:"record_id"`
	Contact  string           `json:"contact"`
	ClaimURL string           `json:"claim_url"`
	Amount   claimsend.Amount `json:"amount,string"`
	AssetID  uint64           `json:"asset_id,string"`
	Note     string           `json:"note,omitempty"`
}

// Notifier sends a message to its recipient.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, m Message) error

// Notify calls fn.
func (fn NotifierFunc) Notify(ctx context.Context, m Message) error {
	return fn(ctx, m)
}

// LogNotifier writes messages to a logger instead of delivering them. It is
// meant for development setups, where the operator reads the claim link from
// the log.
type LogNotifier struct {
	logger log.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier returns a notifier writing to logger.
func NewLogNotifier(logger log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the message.
func (n *LogNotifier) Notify(ctx context.Context, m Message) error {
	n.logger.Info("claim notification",
		"record", m.RecordID,
		"contact", m.Contact,
		"amount", m.Amount,
		"url", m.ClaimURL)
	return nil
}
