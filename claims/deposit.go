package claims

import (
	"context"
	"crypto/rand"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
	"github.com/iov-one/claimsend/policy"
	"github.com/iov-one/claimsend/records"
)

// DepositRequest describes a new deposit.
type DepositRequest struct {
	Sender claimsend.Address
	// RecipientContact is where the claim link is sent, for example an
	// email address.
	RecipientContact string
	// Recipient optionally binds the deposit to a known address. Only that
	// address can then claim.
	Recipient claimsend.Address
	Amount    claimsend.Amount
	Note      string
	// Strategy defaults to the configured one.
	Strategy policy.Tag
}

// Validate returns all problems found in the request.
func (r *DepositRequest) Validate(maxNoteSize int) error {
	var errs error
	errs = errors.AppendField(errs, "Sender", r.Sender.Validate())
	if !r.Recipient.IsEmpty() {
		errs = errors.AppendField(errs, "Recipient", r.Recipient.Validate())
	}
	if r.RecipientContact == "" && r.Recipient.IsEmpty() {
		errs = errors.AppendField(errs, "RecipientContact", errors.Wrap(errors.ErrInvalidInput, "contact or recipient address required"))
	}
	if !r.Amount.IsPositive() {
		errs = errors.AppendField(errs, "Amount", errors.Wrap(errors.ErrInvalidAmount, "must be positive"))
	}
	if len(r.Note) > maxNoteSize {
		errs = errors.AppendField(errs, "Note", errors.Wrapf(errors.ErrInvalidInput, "longer than %d bytes", maxNoteSize))
	}
	return errs
}

// Deposit is a created record together with the funding group the sender
// must sign and submit.
type Deposit struct {
	Record *records.Record
	Token  string
	// Group holds the holding account operations already authorized. The
	// operations of the sender are unsigned.
	Group *ledger.Group
}

// CreateDeposit compiles the holding account of a new deposit, builds its
// funding group and stores a pending record. The sender must hold the
// deposit and the reserve the group spends.
func (m *Manager) CreateDeposit(ctx context.Context, req DepositRequest) (_ *Deposit, err error) {
	ctx, span := m.tracer.Start(ctx, "claims.CreateDeposit")
	defer func() { finish(span, err) }()

	if err := req.Validate(m.conf.MaxNoteSize); err != nil {
		return nil, err
	}
	tag := req.Strategy
	if tag == "" {
		tag = m.conf.Strategy
	}
	strategy, err := m.strategies.Get(tag)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, err.Error())
	}

	nonce := make([]byte, policy.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(errors.ErrHuman, err.Error())
	}
	compiled, err := strategy.Compile(policy.Params{
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Nonce:     nonce,
	})
	if err != nil {
		return nil, err
	}
	plan, err := m.builder.Fund(ctx, strategy, compiled, req.Amount, []byte(req.Note))
	if err != nil {
		return nil, err
	}
	if err := m.verifier.SenderCanFund(ctx, req.Sender, plan.Funding); err != nil {
		return nil, err
	}
	ids, err := plan.TxIDs()
	if err != nil {
		return nil, err
	}
	token, err := records.NewToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	r := &records.Record{
		ID:               records.NewID(),
		Sender:           req.Sender,
		RecipientContact: req.RecipientContact,
		Recipient:        req.Recipient,
		Amount:           req.Amount,
		AssetID:          compiled.AssetID,
		Note:             req.Note,
		Strategy:         tag,
		Nonce:            nonce,
		Holding:          compiled.Holding,
		ContractID:       compiled.ContractID,
		Program:          compiled.Program,
		Token:            token,
		State:            records.StatePending,
		CreatedAt:        claimsend.AsUnixTime(now),
		ExpiresAt:        m.deadline(now),
		FundingOps:       ids,
		FundingKey:       plan.Key,
	}
	if err := m.store.Create(ctx, r); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("record", r.ID), attribute.String("strategy", string(tag)))
	m.metrics.depositsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", string(tag))))
	m.logger.Info("deposit created",
		"record", r.ID,
		"strategy", tag,
		"holding", r.Holding,
		"amount", r.Amount)
	return &Deposit{Record: r, Token: token, Group: plan.Group}, nil
}

// ConfirmFunding waits for the funding group of a record to be confirmed
// and marks the record funded. The given operation ids must belong to the
// funding group. Confirming a record that is already funded, or further
// along, returns it unchanged.
func (m *Manager) ConfirmFunding(ctx context.Context, id string, ops []ledger.TxID) (_ *records.Record, err error) {
	ctx, span := m.tracer.Start(ctx, "claims.ConfirmFunding", trace.WithAttributes(attribute.String("record", id)))
	defer func() { finish(span, err) }()

	r, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.State != records.StatePending {
		return r, nil
	}
	for _, op := range ops {
		if !containsTxID(r.FundingOps, op) {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "operation %s is not part of the funding group", op)
		}
	}

	conf, err := m.client.AwaitConfirmation(ctx, r.FundingKey, m.conf.MaxConfirmRounds)
	if err != nil {
		m.logger.Debug("funding not confirmed", "record", id, "err", err)
		return nil, err
	}
	if got := ledger.Transferred(conf.Group, r.AssetID, r.Sender, r.Holding); got != r.Amount {
		return nil, errors.Wrapf(errors.ErrLedgerRejected, "confirmed group deposits %d, record holds %d", got, r.Amount)
	}

	updated, err := records.UpdateState(ctx, m.store, id, records.StatePending, records.StateFunded, "", nil, 0)
	if err != nil {
		if !errors.ErrState.Is(err) && !errors.ErrConflict.Is(err) {
			m.logger.Error("cannot record confirmed funding", "record", id, "err", err)
			return nil, err
		}
		// Confirmed by a concurrent call.
		return m.store.GetByID(ctx, id)
	}
	m.metrics.depositsFunded.Add(ctx, 1)
	m.logger.Info("state change", "record", id, "from", records.StatePending, "to", records.StateFunded, "round", conf.Round)
	m.notify(ctx, updated, updated.Token)
	return updated, nil
}

func containsTxID(ids []ledger.TxID, id ledger.TxID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
