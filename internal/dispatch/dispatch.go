// Package dispatch runs the single inbound worker: it fetches batches from
// the transport, persists the cursor, and hands each event for a configured
// slot to the dialogue controller.
package dispatch

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/zulandar/archivebot/internal/cursor"
	"github.com/zulandar/archivebot/internal/session"
	"github.com/zulandar/archivebot/internal/transport"
	"go.uber.org/zap"
)

const (
	// defaultPollTimeout is the long-poll wait when none is configured.
	defaultPollTimeout = 300 * time.Second
	// baseBackoff is the initial wait after a failed fetch.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
)

// Handler applies one classified event to a slot.
type Handler interface {
	Handle(ctx context.Context, key session.Key, kind transport.Kind, ev transport.Event) error
}

// Dispatcher owns the polling cursor and the fetch/dispatch loop.
type Dispatcher struct {
	tr          transport.Transport
	cursor      cursor.Store
	handler     Handler
	slots       []session.Key
	timeout     time.Duration
	reminder    *Reminder
	log         *zap.Logger
	offset      int64
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Opts holds parameters for creating a Dispatcher.
type Opts struct {
	Transport   transport.Transport
	Cursor      cursor.Store
	Handler     Handler
	Slots       []session.Key
	PollTimeout time.Duration // defaults to 300s
	Reminder    *Reminder     // optional
	Logger      *zap.Logger
}

// New creates a Dispatcher and loads the persisted cursor.
func New(opts Opts) (*Dispatcher, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("dispatch: transport is required")
	}
	if opts.Cursor == nil {
		return nil, fmt.Errorf("dispatch: cursor is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("dispatch: handler is required")
	}
	if len(opts.Slots) == 0 {
		return nil, fmt.Errorf("dispatch: at least one slot is required")
	}
	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	offset, err := opts.Cursor.Load()
	if err != nil {
		return nil, fmt.Errorf("dispatch: load cursor: %w", err)
	}
	return &Dispatcher{
		tr:          opts.Transport,
		cursor:      opts.Cursor,
		handler:     opts.Handler,
		slots:       append([]session.Key(nil), opts.Slots...),
		timeout:     timeout,
		reminder:    opts.Reminder,
		log:         logger,
		offset:      offset,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Offset returns the next sequence number to fetch.
func (d *Dispatcher) Offset() int64 { return d.offset }

// Poll fetches one batch, persists the advanced cursor, and dispatches the
// events in arrival order. Nothing is dispatched when the cursor cannot be
// saved, so the batch is fetched again. It returns the batch size.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	events, err := d.tr.Fetch(ctx, d.offset, d.timeout)
	if err != nil {
		return 0, fmt.Errorf("dispatch: fetch: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	next := d.offset
	for _, ev := range events {
		if ev.Sequence+1 > next {
			next = ev.Sequence + 1
		}
	}
	if err := d.cursor.Save(next); err != nil {
		return 0, fmt.Errorf("dispatch: persist cursor: %w", err)
	}
	d.offset = next
	d.log.Debug("dispatch: batch", zap.Int("events", len(events)), zap.Int64("offset", next))

	for _, ev := range events {
		d.dispatch(ctx, ev)
	}
	return len(events), nil
}

// Run polls until ctx is cancelled. Fetch failures are retried with
// exponential backoff; reminders are checked between batches.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatch: running", zap.Int64("offset", d.offset), zap.Int("slots", len(d.slots)))
	failures := 0
	for {
		if ctx.Err() != nil {
			d.log.Info("dispatch: stopped", zap.Int64("offset", d.offset))
			return nil
		}

		if _, err := d.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			failures++
			wait := d.backoff(failures)
			d.log.Warn("dispatch: poll failed, retrying",
				zap.Error(err), zap.Int("failures", failures), zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		failures = 0

		if d.reminder != nil {
			if _, err := d.reminder.Tick(ctx); err != nil {
				d.log.Warn("dispatch: reminder", zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) backoff(failures int) time.Duration {
	if failures > 30 {
		return d.maxBackoff
	}
	wait := time.Duration(math.Pow(2, float64(failures-1))) * d.baseBackoff
	if wait > d.maxBackoff {
		wait = d.maxBackoff
	}
	return wait
}

// dispatch routes one event. Errors and panics stay contained to the
// event and are reported back to its slot.
func (d *Dispatcher) dispatch(ctx context.Context, ev transport.Event) {
	kind := transport.Classify(ev)
	key, ok := d.match(ev, kind)
	if !ok {
		d.log.Debug("dispatch: dropping event for unknown slot",
			zap.Int64("seq", ev.Sequence), zap.String("channel", ev.ChannelID), zap.String("thread", ev.ThreadID))
		return
	}

	err := d.handle(ctx, key, kind, ev)
	if err == nil {
		return
	}
	d.log.Error("dispatch: handle event",
		zap.Int64("seq", ev.Sequence), zap.Stringer("slot", key), zap.Stringer("kind", kind), zap.Error(err))
	dest := transport.Destination{ChannelID: key.ChannelID, ThreadID: key.ThreadID}
	if serr := d.tr.SendMessage(ctx, dest, err.Error()); serr != nil {
		d.log.Warn("dispatch: report error", zap.Stringer("slot", key), zap.Error(serr))
	}
}

func (d *Dispatcher) handle(ctx context.Context, key session.Key, kind transport.Kind, ev transport.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: panic handling event %d: %v", ev.Sequence, r)
		}
	}()
	return d.handler.Handle(ctx, key, kind, ev)
}

// match finds the configured slot for ev. A button press whose transport
// cannot report the thread matches on channel alone.
func (d *Dispatcher) match(ev transport.Event, kind transport.Kind) (session.Key, bool) {
	for _, slot := range d.slots {
		if ev.ChannelID != slot.ChannelID {
			continue
		}
		if ev.ThreadID == slot.ThreadID || (kind == transport.KindButton && ev.ThreadID == "") {
			return slot, true
		}
	}
	return session.Key{}, false
}
