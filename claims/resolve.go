package claims

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
	"github.com/iov-one/claimsend/records"
)

// Payout is a prepared payout group. Every operation is authorized, the
// group only needs to be submitted.
type Payout struct {
	Record *records.Record
	Group  *ledger.Group
	// Key is the id of the transfer out of the holding account.
	Key ledger.TxID
}

// PrepareClaim builds the group paying the deposit the token points to out
// to dest. The destination must have registered the asset.
func (m *Manager) PrepareClaim(ctx context.Context, token string, dest claimsend.Address) (_ *Payout, err error) {
	ctx, span := m.tracer.Start(ctx, "claims.PrepareClaim")
	defer func() { finish(span, err) }()

	if err := dest.Validate(); err != nil {
		return nil, err
	}
	r, err := m.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("record", r.ID))
	return m.prepare(ctx, r, records.KindClaim, dest)
}

// PrepareReclaim builds the group returning the deposit to its sender.
// Reclaims are allowed after the claim period is over.
func (m *Manager) PrepareReclaim(ctx context.Context, token string, sender claimsend.Address) (_ *Payout, err error) {
	ctx, span := m.tracer.Start(ctx, "claims.PrepareReclaim")
	defer func() { finish(span, err) }()

	r, err := m.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("record", r.ID))
	if !r.Sender.Equals(sender) {
		return nil, errors.Wrap(errors.ErrUnauthorized, "only the sender can reclaim")
	}
	return m.prepare(ctx, r, records.KindReclaim, r.Sender)
}

// prepare moves the record into the resolving state and builds the payout.
// Only one caller can win the state change, the others fail with
// ErrAlreadyResolved.
func (m *Manager) prepare(ctx context.Context, r *records.Record, kind records.Kind, dest claimsend.Address) (*Payout, error) {
	now := m.now()
	base, err := m.resolvableState(ctx, r, now)
	if err != nil {
		return nil, err
	}
	if err := m.checkPayout(ctx, r, base, kind, dest, now); err != nil {
		m.logger.Debug("payout refused", "record", r.ID, "kind", kind, "err", err)
		return nil, err
	}
	strategy, err := m.strategies.Get(r.Strategy)
	if err != nil {
		return nil, err
	}
	if err := m.verifier.RecipientReady(ctx, dest); err != nil {
		return nil, err
	}

	prev := r.State
	r.State = records.StateResolving
	r.Resolving = &records.Resolving{
		Kind:        kind,
		Destination: dest,
		PrevState:   base,
		LeaseUntil:  claimsend.AsUnixTime(now.Add(m.conf.ResolveLease)),
	}
	if err := m.store.Update(ctx, r); err != nil {
		if errors.ErrConflict.Is(err) {
			m.metrics.resolveConflicts.Add(ctx, 1)
			return nil, errors.Wrap(errors.ErrAlreadyResolved, "another payout is being prepared")
		}
		return nil, err
	}
	m.logger.Info("state change", "record", r.ID, "from", prev, "to", records.StateResolving, "kind", kind)

	plan, err := m.builder.Payout(ctx, strategy, r.Compiled(), dest, r.Amount)
	if err != nil {
		m.unlock(ctx, r, base)
		return nil, err
	}
	r.Resolving.PayoutOp = plan.Key
	r.Prepared = append(r.Prepared, records.Prepared{Kind: kind, Destination: dest, Op: plan.Key})
	if err := m.store.Update(ctx, r); err != nil {
		m.logger.Error("cannot store prepared payout", "record", r.ID, "err", err)
		return nil, err
	}
	return &Payout{Record: r, Group: plan.Group, Key: plan.Key}, nil
}

// resolvableState returns the state a payout starts from. A resolving
// record whose lease lapsed counts as its previous state, unless its
// holding account was already emptied.
func (m *Manager) resolvableState(ctx context.Context, r *records.Record, now time.Time) (records.State, error) {
	if r.State != records.StateResolving {
		return r.State, nil
	}
	if !claimsend.IsExpired(now, r.Resolving.LeaseUntil) {
		return "", errors.Wrap(errors.ErrAlreadyResolved, "payout in progress")
	}
	funded, err := m.verifier.HoldingFunded(ctx, r.Holding, r.Amount)
	if err != nil {
		return "", err
	}
	if !funded {
		return "", errors.Wrap(errors.ErrAlreadyResolved, "holding account was paid out")
	}
	return r.Resolving.PrevState, nil
}

func (m *Manager) checkPayout(ctx context.Context, r *records.Record, state records.State, kind records.Kind, dest claimsend.Address, now time.Time) error {
	switch state {
	case records.StateClaimed, records.StateReclaimed:
		return errors.Wrapf(errors.ErrAlreadyResolved, "record is %s", state)
	case records.StatePending:
		return errors.Wrap(errors.ErrState, "funding not confirmed")
	case records.StateExpired:
		if kind == records.KindClaim {
			return errors.Wrap(errors.ErrExpired, "claim period is over")
		}
	case records.StateFunded:
		if kind == records.KindClaim && claimsend.IsExpired(now, r.ExpiresAt) {
			m.expire(ctx, r.ID)
			return errors.Wrap(errors.ErrExpired, "claim period is over")
		}
	}
	if kind == records.KindClaim && !r.Recipient.IsEmpty() && !r.Recipient.Equals(dest) {
		return errors.Wrap(errors.ErrUnauthorized, "deposit is bound to another recipient")
	}
	if kind == records.KindClaim && dest.Equals(r.Sender) && !dest.Equals(r.Recipient) {
		return errors.Wrap(errors.ErrInvalidInput, "the sender reclaims the deposit")
	}
	return nil
}

// expire marks a funded record expired. Failures are left to the sweeper.
func (m *Manager) expire(ctx context.Context, id string) {
	if _, err := records.UpdateState(ctx, m.store, id, records.StateFunded, records.StateExpired, "", nil, 0); err != nil {
		m.logger.Debug("cannot expire record", "record", id, "err", err)
		return
	}
	m.logger.Info("state change", "record", id, "from", records.StateFunded, "to", records.StateExpired)
}

// unlock returns a resolving record that r holds the latest version of to
// the given state. Failures are logged: the lease lapses anyway.
func (m *Manager) unlock(ctx context.Context, r *records.Record, to records.State) {
	r.State = to
	r.Resolving = nil
	if err := m.store.Update(ctx, r); err != nil {
		m.logger.Error("cannot release payout lease", "record", r.ID, "err", err)
		return
	}
	m.logger.Info("state change", "record", r.ID, "from", records.StateResolving, "to", to)
}

// ConfirmClaim waits for a claim payout to be confirmed and marks the record
// claimed. An empty op confirms the prepared payout. Confirming the same
// operation again returns the record unchanged.
func (m *Manager) ConfirmClaim(ctx context.Context, token string, op ledger.TxID) (_ *records.Record, err error) {
	ctx, span := m.tracer.Start(ctx, "claims.ConfirmClaim")
	defer func() { finish(span, err) }()

	r, err := m.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("record", r.ID))
	return m.confirm(ctx, r, records.KindClaim, op)
}

// ConfirmReclaim waits for a reclaim payout to be confirmed and marks the
// record reclaimed.
func (m *Manager) ConfirmReclaim(ctx context.Context, token string, sender claimsend.Address, op ledger.TxID) (_ *records.Record, err error) {
	ctx, span := m.tracer.Start(ctx, "claims.ConfirmReclaim")
	defer func() { finish(span, err) }()

	r, err := m.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("record", r.ID))
	if !r.Sender.Equals(sender) {
		return nil, errors.Wrap(errors.ErrUnauthorized, "only the sender can reclaim")
	}
	return m.confirm(ctx, r, records.KindReclaim, op)
}

// confirm writes the terminal state once the ledger confirmed the payout.
// If the write fails the record stays where it was, so the payout cannot be
// prepared twice.
func (m *Manager) confirm(ctx context.Context, r *records.Record, kind records.Kind, op ledger.TxID) (*records.Record, error) {
	final := kind.FinalState()
	if r.State == final && (op == "" || op == r.ConfirmingOp) {
		return r, nil
	}
	switch r.State {
	case records.StateClaimed, records.StateReclaimed:
		return nil, errors.Wrapf(errors.ErrAlreadyResolved, "record is %s", r.State)
	case records.StatePending:
		return nil, errors.Wrap(errors.ErrState, "funding not confirmed")
	}
	if op == "" {
		if r.Resolving == nil || r.Resolving.PayoutOp == "" {
			return nil, errors.Wrap(errors.ErrState, "no payout prepared")
		}
		if r.Resolving.Kind != kind {
			return nil, errors.Wrapf(errors.ErrState, "prepared payout is a %s", r.Resolving.Kind)
		}
		op = r.Resolving.PayoutOp
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}

	conf, err := m.client.AwaitConfirmation(ctx, op, m.conf.MaxConfirmRounds)
	if err != nil {
		m.logger.Debug("payout not confirmed", "record", r.ID, "op", op, "err", err)
		return nil, err
	}
	dest, err := payoutDestination(conf, r, kind, op)
	if err != nil {
		return nil, err
	}

	now := claimsend.AsUnixTime(m.now())
	updated, err := records.Mutate(ctx, m.store, r.ID, func(r *records.Record) error {
		switch r.State {
		case records.StateClaimed, records.StateReclaimed:
			return errors.Wrapf(errors.ErrAlreadyResolved, "record is %s", r.State)
		case records.StatePending:
			return errors.Wrap(errors.ErrState, "funding not confirmed")
		}
		// The ledger confirmed the payout. A lease that lapsed in the
		// meantime does not change that.
		r.State = final
		r.Resolving = nil
		r.ConfirmingOp = op
		r.ResolvedTo = dest
		r.ResolvedAt = now
		return nil
	})
	if err != nil {
		m.logger.Error("cannot record confirmed payout", "record", r.ID, "op", op, "err", err)
		return nil, err
	}
	m.metrics.payoutsConfirmed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	m.logger.Info("state change", "record", r.ID, "from", r.State, "to", final, "round", conf.Round)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("round", int64(conf.Round)))
	return updated, nil
}

// payoutDestination finds where the confirmed group sent the deposit and
// checks that it moved the whole amount to an address the payout kind
// allows. A payout handed out for the record must be confirmed as the kind
// it was prepared for, even when a later lease superseded it.
func payoutDestination(conf *ledger.Confirmation, r *records.Record, kind records.Kind, op ledger.TxID) (claimsend.Address, error) {
	var dest claimsend.Address
	for _, o := range conf.Group {
		if o.Type == ledger.OpAssetTransfer && o.AssetID == r.AssetID && o.Sender.Equals(r.Holding) && o.Amount > 0 {
			dest = o.Receiver
			break
		}
	}
	if dest.IsEmpty() {
		return nil, errors.Wrap(errors.ErrInvalidInput, "operation does not pay out the deposit")
	}
	if got := ledger.Transferred(conf.Group, r.AssetID, r.Holding, dest); got != r.Amount {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "operation pays %d, deposit is %d", got, r.Amount)
	}
	if p, ok := r.PreparedPayout(op); ok {
		if p.Kind != kind {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "operation is a %s payout", p.Kind)
		}
		if !dest.Equals(p.Destination) {
			return nil, errors.Wrap(errors.ErrInvalidInput, "operation pays another destination")
		}
	}
	switch {
	case kind == records.KindReclaim && !dest.Equals(r.Sender):
		return nil, errors.Wrap(errors.ErrInvalidInput, "operation does not return the deposit to its sender")
	case kind == records.KindClaim && !r.Recipient.IsEmpty() && !dest.Equals(r.Recipient):
		return nil, errors.Wrap(errors.ErrInvalidInput, "operation pays another recipient")
	case kind == records.KindClaim && dest.Equals(r.Sender) && !dest.Equals(r.Recipient):
		return nil, errors.Wrap(errors.ErrInvalidInput, "operation returns the deposit to its sender")
	}
	return dest, nil
}
