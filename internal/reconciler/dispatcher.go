package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/terminal-bench/couponauction/pkg/messaging"
	"github.com/terminal-bench/couponauction/shared/events"
)

// Dispatcher consumes the chain event feed and routes each event to its
// reconciler handler. Handler failures are retried with backoff; an event
// that keeps failing is published to the dead-letter subject instead of
// being dropped, because losing it would desynchronize the off-chain record
// from the chain permanently.
type Dispatcher struct {
	msg         *messaging.Client
	rec         *Reconciler
	maxAttempts int
	backoff     time.Duration
}

// DispatcherConfig tunes retry behavior. Zero values get defaults.
type DispatcherConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

func NewDispatcher(msg *messaging.Client, rec *Reconciler, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &Dispatcher{
		msg:         msg,
		rec:         rec,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
	}
}

// Start subscribes to the event feed. Reconcilers join one queue group so a
// clustered deployment applies each delivery once.
func (d *Dispatcher) Start(ctx context.Context) error {
	return d.msg.QueueSubscribe(events.SubjectEvents, "reconcilers", func(m *nats.Msg) {
		var ev events.Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			log.Printf("reconciler: discarding undecodable event: %v", err)
			return
		}
		d.handleWithRetry(ctx, &ev)
	})
}

// Stop unsubscribes from the feed.
func (d *Dispatcher) Stop() {
	if err := d.msg.Unsubscribe(events.SubjectEvents + ":reconcilers"); err != nil {
		log.Printf("reconciler: unsubscribe: %v", err)
	}
}

func (d *Dispatcher) handleWithRetry(ctx context.Context, ev *events.Event) {
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err = d.Dispatch(ctx, ev); err == nil {
			return
		}
		log.Printf("reconciler: event %s (%s) attempt %d/%d: %v",
			ev.Signature, ev.Type, attempt, d.maxAttempts, err)

		select {
		case <-time.After(d.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return
		}
	}

	d.deadLetter(ctx, ev, err)
}

// Dispatch routes one event to its handler. Unknown event types are logged
// and acknowledged; they belong to modules outside this engine.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *events.Event) error {
	switch ev.Type {
	case events.TypeAuctionCreated:
		return d.rec.OnAuctionCreated(ctx, ev)
	case events.TypeBidPlaced:
		return d.rec.OnBidPlaced(ctx, ev)
	case events.TypeAuctionFinalized:
		return d.rec.OnAuctionFinalized(ctx, ev)
	case events.TypeAuctionCancelled:
		return d.rec.OnAuctionCancelled(ctx, ev)
	default:
		log.Printf("reconciler: ignoring event type %q (signature %s)", ev.Type, ev.Signature)
		return nil
	}
}

func (d *Dispatcher) deadLetter(ctx context.Context, ev *events.Event, cause error) {
	log.Printf("reconciler: dead-lettering event %s (%s) after %d attempts: %v",
		ev.Signature, ev.Type, d.maxAttempts, cause)

	payload := struct {
		Event *events.Event `json:"event"`
		Error string        `json:"error"`
	}{Event: ev, Error: fmt.Sprint(cause)}

	if err := d.msg.Publish(ctx, events.SubjectDeadLetter, payload); err != nil {
		log.Printf("reconciler: failed to publish dead letter for %s: %v", ev.Signature, err)
	}
}
