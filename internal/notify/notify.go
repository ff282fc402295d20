// Package notify fans engine events out to external sinks. Delivery is fire
// and forget: a failing or slow sink is logged and counted, and never reaches
// the caller of Emit.
package notify

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/messaging/internal/pkg/logger"
	"github.com/ignite/messaging/internal/pkg/metrics"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventMessageCreated  EventType = "message.created"
	EventMessageDeleted  EventType = "message.deleted"
	EventMessageRecalled EventType = "message.recalled"
	EventAttachmentAdded EventType = "attachment.added"
	EventLinkAdded       EventType = "link.added"
)

// Event is the payload handed to every sink.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	TenantID   string         `json:"tenant_id"`
	MessageID  int64          `json:"message_id"`
	Actor      string         `json:"actor"`
	Recipients []string       `json:"recipients,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Notifier is what services depend on.
type Notifier interface {
	Emit(ctx context.Context, e Event)
}

// Sink delivers one event somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Emit(context.Context, Event) {}

// Dispatcher delivers each event to all sinks concurrently, each bounded by
// its own timeout and detached from the request context.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	log     *logger.Logger
	wg      sync.WaitGroup
}

// NewDispatcher builds a dispatcher over sinks. Nil sinks are skipped.
func NewDispatcher(timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &Dispatcher{timeout: timeout, log: logger.Named("notify")}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	return d
}

// Emit stamps the event and hands it to every sink in the background.
func (d *Dispatcher) Emit(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	base := context.WithoutCancel(ctx)
	for _, s := range d.sinks {
		d.wg.Add(1)
		go func(s Sink) {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("sink panicked", "sink", s.Name(), "event", string(e.Type), "panic", r)
					metrics.NotificationsDropped.WithLabelValues(s.Name()).Inc()
				}
			}()
			sctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()
			if err := s.Send(sctx, e); err != nil {
				d.log.Warn("notification dropped", "sink", s.Name(), "event", string(e.Type),
					"message_id", e.MessageID, "error", err.Error())
				metrics.NotificationsDropped.WithLabelValues(s.Name()).Inc()
			}
		}(s)
	}
}

// Wait blocks until all in-flight deliveries finish.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Close drains in-flight deliveries and closes sinks that hold connections.
func (d *Dispatcher) Close() error {
	d.wg.Wait()
	var firstErr error
	for _, s := range d.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
