package notify

import (
	"context"
	"sync"
	"time"

	"github.com/tendermint/tendermint/libs/log"
	"golang.org/x/time/rate"

	"github.com/iov-one/claimsend/errors"
)

// DeliveryTimeout bounds a single delivery attempt.
const DeliveryTimeout = 10 * time.Second

// Dispatcher queues messages and delivers them in the background through
// another notifier. Deliveries are throttled and failures are only logged.
type Dispatcher struct {
	next    Notifier
	logger  log.Logger
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
	queue  chan Message
}

var _ Notifier = (*Dispatcher)(nil)

// NewDispatcher returns a dispatcher delivering at most perSecond messages
// per second. A non positive rate disables throttling.
func NewDispatcher(next Notifier, logger log.Logger, perSecond float64, queueSize int) *Dispatcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		next:    next,
		logger:  logger.With("module", "notify"),
		limiter: rate.NewLimiter(limit, 1),
		queue:   make(chan Message, queueSize),
	}
}

// Notify queues the message. It never blocks: when the queue is full the
// message is refused.
func (d *Dispatcher) Notify(ctx context.Context, m Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.Wrap(errors.ErrState, "dispatcher closed")
	}
	select {
	case d.queue <- m:
		return nil
	default:
		return errors.Wrapf(errors.ErrState, "notification queue full, dropping %s", m.RecordID)
	}
}

// Close stops accepting messages. Run returns once the queued messages are
// delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

// Run delivers queued messages until the dispatcher is closed and drained
// or the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-d.queue:
			if !ok {
				return nil
			}
			if err := d.limiter.Wait(ctx); err != nil {
				return err
			}
			d.deliver(ctx, m)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m Message) {
	ctx, cancel := context.WithTimeout(ctx, DeliveryTimeout)
	defer cancel()
	if err := d.next.Notify(ctx, m); err != nil {
		d.logger.Error("cannot deliver notification", "record", m.RecordID, "err", err)
		return
	}
	d.logger.Debug("notification delivered", "record", m.RecordID)
}
