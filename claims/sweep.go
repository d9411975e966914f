package claims

import (
	"context"
	"time"

	"github.com/tendermint/tendermint/libs/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/records"
)

// SweepResult counts what a sweep changed.
type SweepResult struct {
	// Expired is the number of funded records past their deadline that
	// were marked expired.
	Expired int `json:"expired"`
	// Released is the number of lapsed payout leases returned to their
	// previous state.
	Released int `json:"released"`
	// Settled is the number of paid out records whose confirmed payout was
	// recorded by the sweep.
	Settled int `json:"settled"`
}

// Sweep releases lapsed payout leases and expires funded records past their
// deadline. Records changed concurrently are skipped and picked up by the
// next sweep.
func (m *Manager) Sweep(ctx context.Context) (_ *SweepResult, err error) {
	ctx, span := m.tracer.Start(ctx, "claims.Sweep")
	defer func() { finish(span, err) }()

	now := m.now()
	var res SweepResult

	resolving, err := m.store.ListByState(ctx, records.StateResolving)
	if err != nil {
		return nil, err
	}
	for _, r := range resolving {
		if !claimsend.IsExpired(now, r.Resolving.LeaseUntil) {
			continue
		}
		funded, err := m.verifier.HoldingFunded(ctx, r.Holding, r.Amount)
		if err != nil {
			return nil, err
		}
		if !funded {
			if m.settle(ctx, r) {
				res.Settled++
				continue
			}
			// The payout went through and waits for its confirmation.
			m.logger.Info("lapsed lease on paid out holding", "record", r.ID, "op", r.Resolving.PayoutOp)
			continue
		}
		prev := r.Resolving.PrevState
		r.State = prev
		r.Resolving = nil
		if err := m.store.Update(ctx, r); err != nil {
			if errors.ErrConflict.Is(err) {
				continue
			}
			return nil, err
		}
		res.Released++
		m.logger.Info("state change", "record", r.ID, "from", records.StateResolving, "to", prev, "reason", "lease lapsed")
	}

	funded, err := m.store.ListByState(ctx, records.StateFunded)
	if err != nil {
		return nil, err
	}
	for _, r := range funded {
		if !claimsend.IsExpired(now, r.ExpiresAt) {
			continue
		}
		if _, err := records.UpdateState(ctx, m.store, r.ID, records.StateFunded, records.StateExpired, "", nil, 0); err != nil {
			if errors.ErrConflict.Is(err) || errors.ErrState.Is(err) {
				continue
			}
			return nil, err
		}
		res.Expired++
		m.logger.Info("state change", "record", r.ID, "from", records.StateFunded, "to", records.StateExpired)
	}

	m.metrics.swept.Add(ctx, int64(res.Expired), metric.WithAttributes(attribute.String("action", "expired")))
	m.metrics.swept.Add(ctx, int64(res.Released), metric.WithAttributes(attribute.String("action", "released")))
	m.metrics.swept.Add(ctx, int64(res.Settled), metric.WithAttributes(attribute.String("action", "settled")))
	return &res, nil
}

// settle records the payout that emptied the holding account of r, looking
// through every group prepared for the record, newest first. It returns
// false while none of them is confirmed.
func (m *Manager) settle(ctx context.Context, r *records.Record) bool {
	for i := len(r.Prepared) - 1; i >= 0; i-- {
		p := r.Prepared[i]
		if _, err := m.client.AwaitConfirmation(ctx, p.Op, 0); err != nil {
			continue
		}
		if _, err := m.confirm(ctx, r, p.Kind, p.Op); err != nil {
			m.logger.Error("cannot settle paid out record", "record", r.ID, "op", p.Op, "err", err)
			return false
		}
		return true
	}
	return false
}

// Sweeper runs Sweep periodically.
type Sweeper struct {
	m        *Manager
	interval time.Duration
	logger   log.Logger
}

// NewSweeper returns a sweeper of the manager's records.
func NewSweeper(m *Manager, interval time.Duration) *Sweeper {
	return &Sweeper{
		m:        m,
		interval: interval,
		logger:   m.logger.With("component", "sweeper"),
	}
}

// Run sweeps every interval until the context is cancelled. A failed sweep
// is logged and retried at the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := s.m.Sweep(ctx)
			if err != nil {
				s.logger.Error("sweep failed", "err", err)
				continue
			}
			if res.Expired > 0 || res.Released > 0 || res.Settled > 0 {
				s.logger.Info("swept", "expired", res.Expired, "released", res.Released, "settled", res.Settled)
			}
		}
	}
}
