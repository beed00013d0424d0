// Package events carries domain events raised after a unit of work commits.
// Delivery is best effort: a publishing failure is logged and never undoes
// the committed ledger change.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ids"
)

const (
	AccountCreated            = "account.created"
	InvestmentCreated         = "investment.created"
	InvestmentLiquidated      = "investment.liquidated"
	InvestmentReturnAccrued   = "investment.return_accrued"
	FinancingCreated          = "financing.created"
	FinancingCompleted        = "financing.completed"
	FinancingDropped          = "financing.dropped"
	InstallmentPaid           = "installment.paid"
	InstallmentOverdue        = "installment.overdue"
	TransferCompleted         = "transfer.completed"
	TransferExternalRequested = "transfer.external_requested"
	TransferSettled           = "transfer.settled"
)

// Event is a fact about the ledger, keyed by the affected user.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	UserID     string            `json:"user_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data,omitempty"`
}

// New stamps an event with an id and the current time.
func New(typ, userID string, data map[string]string) Event {
	return Event{
		ID:         ids.New(),
		Type:       typ,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher delivers events to an external consumer.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit publishes evt and logs instead of returning failures.
func Emit(ctx context.Context, pub Publisher, log *zap.Logger, evt Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, evt); err != nil && log != nil {
		log.Warn("event publish failed",
			zap.String("event", evt.Type),
			zap.String("event_id", evt.ID),
			zap.String("user_id", evt.UserID),
			zap.Error(err))
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of typ were recorded.
func (r *Recorder) Count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}
