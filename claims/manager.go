/*
Package claims implements the lifecycle of a deposit.

A record starts pending when its funding group is built and becomes funded
once that group is confirmed on the ledger. A funded record is resolved by
exactly one payout: a claim by the recipient presenting the token, or a
reclaim by the sender. Preparing a payout moves the record into the
resolving state with a compare-and-set, so two concurrent callers can never
both build a payout for the same deposit. The terminal state is written
only after the ledger confirmed the payout.

A resolving record is leased. If the caller abandons the prepared payout,
the lease lapses and the record may be resolved again, provided the
holding account still holds the deposit.

A funded record whose deadline passed becomes expired. Claims are refused
from then on, the sender may still reclaim.
*/
package claims

import (
	"context"
	"time"

	"github.com/tendermint/tendermint/libs/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
	"github.com/iov-one/claimsend/notify"
	"github.com/iov-one/claimsend/policy"
	"github.com/iov-one/claimsend/readiness"
	"github.com/iov-one/claimsend/records"
	"github.com/iov-one/claimsend/txgroup"
)

const instrumentationName = "github.com/iov-one/claimsend/claims"

// Config holds the lifecycle parameters.
type Config struct {
	AssetID uint64
	// Strategy is used for deposits that do not name one.
	Strategy         policy.Tag
	ClaimTTL         time.Duration
	ResolveLease     time.Duration
	ClaimURL         string
	MaxNoteSize      int
	MaxConfirmRounds uint64
}

// Validate returns all problems found in the configuration.
func (c Config) Validate() error {
	var errs error
	if c.AssetID == 0 {
		errs = errors.AppendField(errs, "AssetID", errors.ErrEmpty)
	}
	if c.Strategy == "" {
		errs = errors.AppendField(errs, "Strategy", errors.ErrEmpty)
	}
	if c.ClaimTTL < time.Second {
		errs = errors.AppendField(errs, "ClaimTTL", errors.Wrap(errors.ErrInvalidInput, "less than a second"))
	}
	if c.ResolveLease < time.Second {
		errs = errors.AppendField(errs, "ResolveLease", errors.Wrap(errors.ErrInvalidInput, "less than a second"))
	}
	if c.MaxNoteSize < 0 || c.MaxNoteSize > ledger.MaxNoteSize {
		errs = errors.AppendField(errs, "MaxNoteSize", errors.Wrapf(errors.ErrInvalidInput, "must be between 0 and %d", ledger.MaxNoteSize))
	}
	if c.MaxConfirmRounds == 0 {
		errs = errors.AppendField(errs, "MaxConfirmRounds", errors.ErrEmpty)
	}
	return errs
}

// Manager drives records through their lifecycle. It is safe for concurrent
// use: all coordination goes through the compare-and-set of the store.
type Manager struct {
	conf       Config
	store      records.Store
	strategies policy.Registry
	client     ledger.Client
	verifier   *readiness.Verifier
	builder    *txgroup.Builder

	notifier notify.Notifier
	logger   log.Logger
	now      func() time.Time

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	metrics        metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithNotifier sets where claim links are sent. The default drops them.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTracerProvider sets the tracer provider. The default is the global
// one.
func WithTracerProvider(p trace.TracerProvider) Option {
	return func(m *Manager) { m.tracerProvider = p }
}

// WithMeterProvider sets the meter provider. The default is the global one.
func WithMeterProvider(p metric.MeterProvider) Option {
	return func(m *Manager) { m.meterProvider = p }
}

// NewManager returns a manager of the configured asset. Every strategy a
// stored record names must be in the registry.
func NewManager(conf Config, store records.Store, strategies policy.Registry, client ledger.Client, opts ...Option) (*Manager, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if _, err := strategies.Get(conf.Strategy); err != nil {
		return nil, errors.Wrap(err, "default strategy")
	}
	verifier := readiness.NewVerifier(client, conf.AssetID)
	m := &Manager{
		conf:       conf,
		store:      store,
		strategies: strategies,
		client:     client,
		verifier:   verifier,
		builder:    txgroup.NewBuilder(client, verifier),
		notifier: notify.NotifierFunc(func(context.Context, notify.Message) error {
			return nil
		}),
		logger: log.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("module", "claims")
	if m.tracerProvider == nil {
		m.tracerProvider = otel.GetTracerProvider()
	}
	m.tracer = m.tracerProvider.Tracer(instrumentationName)
	met, err := newMetrics(m.meterProvider)
	if err != nil {
		return nil, err
	}
	m.metrics = met
	return m, nil
}

// Get returns a record by id.
func (m *Manager) Get(ctx context.Context, id string) (*records.Record, error) {
	return m.store.GetByID(ctx, id)
}

// Lookup returns the record a claim token points to.
func (m *Manager) Lookup(ctx context.Context, token string) (*records.Record, error) {
	if token == "" {
		return nil, errors.Wrap(errors.ErrNotFound, "empty token")
	}
	return m.store.GetByToken(ctx, token)
}

// ListBySender returns the records of a sender, oldest first.
func (m *Manager) ListBySender(ctx context.Context, sender claimsend.Address) ([]*records.Record, error) {
	if err := sender.Validate(); err != nil {
		return nil, err
	}
	return m.store.ListBySender(ctx, sender)
}

// RotateToken replaces the claim token of a record and restarts its claim
// period. Only the sender may rotate, and only before the record is
// resolved or expired. The new link is sent to the recipient.
func (m *Manager) RotateToken(ctx context.Context, id string, sender claimsend.Address) (_ *records.Record, _ string, err error) {
	ctx, span := m.tracer.Start(ctx, "claims.RotateToken", trace.WithAttributes(attribute.String("record", id)))
	defer func() { finish(span, err) }()

	if err := sender.Validate(); err != nil {
		return nil, "", err
	}
	now := m.now()
	r, token, err := records.RotateToken(ctx, m.store, id, m.deadline(now), func(r *records.Record) error {
		if !r.Sender.Equals(sender) {
			return errors.Wrap(errors.ErrUnauthorized, "only the sender can rotate the token")
		}
		switch {
		case r.State.IsPaidOut():
			return errors.Wrapf(errors.ErrAlreadyResolved, "record is %s", r.State)
		case r.State == records.StateResolving:
			return errors.Wrap(errors.ErrAlreadyResolved, "payout in progress")
		case r.State == records.StateExpired || claimsend.IsExpired(now, r.ExpiresAt):
			return errors.Wrap(errors.ErrExpired, "claim period is over")
		}
		return nil
	})
	if err != nil {
		if errors.ErrConflict.Is(err) {
			err = errors.Wrap(errors.ErrAlreadyResolved, err.Error())
		}
		m.logger.Debug("token rotation refused", "record", id, "err", err)
		return nil, "", err
	}
	m.logger.Info("token rotated", "record", id)
	if r.State == records.StateFunded {
		m.notify(ctx, r, token)
	}
	return r, token, nil
}

func (m *Manager) deadline(now time.Time) claimsend.UnixTime {
	return claimsend.AsUnixTime(now.Add(m.conf.ClaimTTL))
}

// ClaimURL returns the link a recipient follows to claim.
func (m *Manager) ClaimURL(token string) string {
	return m.conf.ClaimURL + token
}

// notify hands a claim link to the notifier. Failures never fail the
// caller.
func (m *Manager) notify(ctx context.Context, r *records.Record, token string) {
	if r.RecipientContact == "" {
		return
	}
	err := m.notifier.Notify(ctx, notify.Message{
		RecordID: r.ID,
		Contact:  r.RecipientContact,
		ClaimURL: m.ClaimURL(token),
		Amount:   r.Amount,
		AssetID:  r.AssetID,
		Note:     r.Note,
	})
	if err != nil {
		m.logger.Error("cannot notify recipient", "record", r.ID, "err", err)
	}
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type metrics struct {
	depositsCreated  metric.Int64Counter
	depositsFunded   metric.Int64Counter
	payoutsConfirmed metric.Int64Counter
	resolveConflicts metric.Int64Counter
	swept            metric.Int64Counter
}

func newMetrics(provider metric.MeterProvider) (metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)

	var (
		met metrics
		err error
	)
	if met.depositsCreated, err = meter.Int64Counter("claimsend.deposits.created",
		metric.WithDescription("Number of deposits created"),
		metric.WithUnit("{deposit}")); err != nil {
		return metrics{}, errors.Wrap(errors.ErrHuman, err.Error())
	}
	if met.depositsFunded, err = meter.Int64Counter("claimsend.deposits.funded",
		metric.WithDescription("Number of deposits whose funding was confirmed"),
		metric.WithUnit("{deposit}")); err != nil {
		return metrics{}, errors.Wrap(errors.ErrHuman, err.Error())
	}
	if met.payoutsConfirmed, err = meter.Int64Counter("claimsend.payouts.confirmed",
		metric.WithDescription("Number of confirmed claims and reclaims"),
		metric.WithUnit("{payout}")); err != nil {
		return metrics{}, errors.Wrap(errors.ErrHuman, err.Error())
	}
	if met.resolveConflicts, err = meter.Int64Counter("claimsend.resolve.conflicts",
		metric.WithDescription("Number of payouts refused because another one was being prepared"),
		metric.WithUnit("{payout}")); err != nil {
		return metrics{}, errors.Wrap(errors.ErrHuman, err.Error())
	}
	if met.swept, err = meter.Int64Counter("claimsend.records.swept",
		metric.WithDescription("Number of records expired or released by the sweeper"),
		metric.WithUnit("{record}")); err != nil {
		return metrics{}, errors.Wrap(errors.ErrHuman, err.Error())
	}
	return met, nil
}
