// Package notify hosts the event consumers hung off the dispatcher: a
// ledger writer that makes every published event durable, and a notifier
// that surfaces time-sensitive events without spamming repeats.
package notify

import (
	"context"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/flode/internal/app"
	"github.com/hylla/flode/internal/domain"
)

// Ledger appends every published event to the persistent event ledger. It
// is registered as a catch-all handler so the ledger is a complete audit
// trail of both aggregate transitions and scheduler-published events.
type Ledger struct {
	repo app.Repository
}

// NewLedger constructs the ledger handler.
func NewLedger(repo app.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Handle appends one event. An append failure propagates to the dispatcher,
// which logs it; the triggering transition is already committed.
func (l *Ledger) Handle(ctx context.Context, e domain.Event) error {
	return l.repo.AppendEvent(ctx, e)
}

// Notifier logs reminder, overdue and assignment notifications. The
// scheduler re-publishes reminder and overdue events on every tick for as
// long as the condition holds, so the notifier deduplicates on the
// (aggregate, event, lead) triple within a suppression window.
type Notifier struct {
	mu       sync.Mutex
	seen     map[string]time.Time
	suppress time.Duration
	clock    app.Clock
	logger   *charmLog.Logger
}

// NewNotifier constructs a notifier. A non-positive suppression window
// defaults to six hours.
func NewNotifier(suppress time.Duration, clock app.Clock, logger *charmLog.Logger) *Notifier {
	if suppress <= 0 {
		suppress = 6 * time.Hour
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	return &Notifier{
		seen:     map[string]time.Time{},
		suppress: suppress,
		clock:    clock,
		logger:   logger,
	}
}

// Handle emits one notification unless an identical one went out inside the
// suppression window.
func (n *Notifier) Handle(_ context.Context, e domain.Event) error {
	key := e.AggregateID + "|" + e.Name + "|" + e.Payload["lead"]
	now := n.clock().UTC()

	n.mu.Lock()
	if last, ok := n.seen[key]; ok && now.Sub(last) < n.suppress {
		n.mu.Unlock()
		return nil
	}
	n.seen[key] = now
	n.prune(now)
	n.mu.Unlock()

	switch e.Name {
	case domain.EventChangeReminderDue:
		n.logger.Info("change starting soon",
			"tenant_id", e.TenantID, "change_id", e.AggregateID,
			"title", e.Payload["title"], "lead", e.Payload["lead"],
			"scheduled_start", e.Payload["scheduled_start"])
	case domain.EventChangeOverdue:
		n.logger.Warn("change past its maintenance window",
			"tenant_id", e.TenantID, "change_id", e.AggregateID,
			"title", e.Payload["title"], "overdue_by", e.Payload["overdue_by"])
	case domain.EventTaskAssigned, domain.EventTaskPoolAssigned, domain.EventTaskClaimed:
		n.logger.Info("task assignment changed",
			"tenant_id", e.TenantID, "task_id", e.AggregateID,
			"event", e.Name, "title", e.Payload["title"])
	}
	return nil
}

// prune drops suppression entries old enough that they can never match
// again. Caller holds the lock.
func (n *Notifier) prune(now time.Time) {
	for key, last := range n.seen {
		if now.Sub(last) >= n.suppress {
			delete(n.seen, key)
		}
	}
}

// Register wires the handlers onto a dispatcher: the ledger sees every
// event, the notifier only those it knows how to announce.
func Register(d *app.Dispatcher, ledger *Ledger, notifier *Notifier) {
	if ledger != nil {
		d.RegisterAll(ledger.Handle)
	}
	if notifier != nil {
		for _, name := range []string{
			domain.EventChangeReminderDue,
			domain.EventChangeOverdue,
			domain.EventTaskAssigned,
			domain.EventTaskPoolAssigned,
			domain.EventTaskClaimed,
		} {
			d.Register(name, notifier.Handle)
		}
	}
}
