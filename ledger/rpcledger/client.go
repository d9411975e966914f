/*
Package rpcledger implements ledger.Client against a ledger gateway that
speaks JSON-RPC 2.0 over HTTP.

The gateway exposes four methods:

	params                    -> ledger.Params
	submit       {group}      -> {txid, rejected}
	confirmation {txid}       -> {last_round, confirmation}
	account      {address}    -> ledger.AccountState

A group the gateway refuses is reported inside the result, so that a
rejection is never confused with a transport failure. Transport failures
count against a circuit breaker, calls are throttled by a token bucket.
*/
package rpcledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tendermint/tendermint/libs/log"
	rpcclient "github.com/tendermint/tendermint/rpc/lib/client"
	"golang.org/x/time/rate"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
)

// Client is a ledger.Client talking to a remote gateway. It is safe for
// concurrent use.
type Client struct {
	rpc     *rpcclient.JSONRPCClient
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  log.Logger

	timeout      time.Duration
	pollInterval time.Duration
}

var _ ledger.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTimeout bounds every single call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithPollInterval sets how often AwaitConfirmation asks the gateway.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithRateLimit throttles calls to perSecond with the given burst. A limit
// that is not positive disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewClient returns a client of the gateway at remote, for example
// "http://localhost:8980" or "tcp://localhost:8980".
func NewClient(remote string, opts ...Option) *Client {
	c := &Client{
		rpc:          rpcclient.NewJSONRPCClient(remote),
		limiter:      rate.NewLimiter(rate.Inf, 1),
		logger:       log.NewNopLogger(),
		timeout:      10 * time.Second,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("module", "rpcledger")
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger-gateway",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Params implements ledger.Client.
func (c *Client) Params(ctx context.Context) (*ledger.Params, error) {
	var p ledger.Params
	if err := c.call(ctx, "params", map[string]interface{}{}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type submitResult struct {
	TxID     ledger.TxID `json:"txid"`
	Rejected string      `json:"rejected,omitempty"`
}

// Submit implements ledger.Client.
func (c *Client) Submit(ctx context.Context, raw []byte) (ledger.TxID, error) {
	if len(raw) == 0 {
		return "", errors.Wrap(errors.ErrInvalidInput, "empty group")
	}
	params := map[string]interface{}{
		"group": base64.StdEncoding.EncodeToString(raw),
	}
	var res submitResult
	if err := c.call(ctx, "submit", params, &res); err != nil {
		return "", errors.Wrap(errors.ErrLedgerSubmission, err.Error())
	}
	if res.Rejected != "" {
		return "", errors.Wrap(errors.ErrLedgerRejected, res.Rejected)
	}
	if err := res.TxID.Validate(); err != nil {
		return "", errors.Wrap(errors.ErrLedgerSubmission, "gateway returned an invalid operation id")
	}
	c.logger.Debug("group submitted", "txid", res.TxID)
	return res.TxID, nil
}

type confirmationResult struct {
	LastRound    uint64               `json:"last_round,string"`
	Confirmation *ledger.Confirmation `json:"confirmation"`
}

// AwaitConfirmation implements ledger.Client. The gateway is polled until it
// reports the operation confirmed or the ledger advanced maxRounds rounds
// past the first answer.
func (c *Client) AwaitConfirmation(ctx context.Context, id ledger.TxID, maxRounds uint64) (*ledger.Confirmation, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	params := map[string]interface{}{"txid": string(id)}

	var start uint64
	for first := true; ; first = false {
		var res confirmationResult
		if err := c.call(ctx, "confirmation", params, &res); err != nil {
			if ctx.Err() == nil && c.breaker.State() != gobreaker.StateOpen {
				c.logger.Debug("confirmation poll failed", "txid", id, "err", err)
			} else {
				return nil, err
			}
		} else {
			if res.Confirmation != nil {
				return res.Confirmation, nil
			}
			if first {
				start = res.LastRound
			}
			if res.LastRound >= start+maxRounds {
				return nil, errors.Wrapf(errors.ErrLedgerTimeout, "%s not confirmed within %d rounds", id, maxRounds)
			}
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrap(errors.ErrLedgerTimeout, ctx.Err().Error())
		case <-timer.C:
		}
	}
}

// AccountState implements ledger.Client.
func (c *Client) AccountState(ctx context.Context, addr claimsend.Address) (*ledger.AccountState, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	var acc ledger.AccountState
	if err := c.call(ctx, "account", map[string]interface{}{"address": addr.String()}, &acc); err != nil {
		return nil, err
	}
	if acc.Address.IsEmpty() {
		acc.Address = addr
	}
	return &acc, nil
}

// call runs one request through the limiter and the circuit breaker and
// decodes the result into dest. All failures are ErrNetwork.
func (c *Client) call(ctx context.Context, method string, params map[string]interface{}, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(errors.ErrNetwork, "%s: %s", method, err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, method, params)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return errors.Wrapf(errors.ErrNetwork, "%s: gateway unavailable: %s", method, err)
		}
		return errors.Wrapf(errors.ErrNetwork, "%s: %s", method, err)
	}
	if err := json.Unmarshal(*raw.(*json.RawMessage), dest); err != nil {
		return errors.Wrapf(errors.ErrNetwork, "%s: cannot decode result: %s", method, err)
	}
	return nil
}

// roundTrip performs the request. The underlying client cannot be
// cancelled, the call is abandoned once ctx is done.
func (c *Client) roundTrip(ctx context.Context, method string, params map[string]interface{}) (*json.RawMessage, error) {
	type reply struct {
		raw *json.RawMessage
		err error
	}
	done := make(chan reply, 1)
	go func() {
		raw := new(json.RawMessage)
		_, err := c.rpc.Call(method, params, raw)
		done <- reply{raw: raw, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if len(*r.raw) == 0 || string(*r.raw) == "null" {
			return nil, errors.Wrap(errors.ErrNetwork, "empty result")
		}
		return r.raw, nil
	}
}
