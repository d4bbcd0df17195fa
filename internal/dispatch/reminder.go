package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/archivebot/internal/models"
	"github.com/zulandar/archivebot/internal/session"
	"github.com/zulandar/archivebot/internal/transport"
	"go.uber.org/zap"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// StaleLister returns unpublished submissions untouched since cutoff.
type StaleLister interface {
	ListStale(ctx context.Context, cutoff time.Time) ([]models.Submission, error)
}

// Reminder posts the list of stale submissions to their slots on a cron
// schedule. It has no goroutine of its own; the dispatcher calls Tick
// between batches, so a reminder fires at most one poll timeout late.
type Reminder struct {
	sched      cron.Schedule
	next       time.Time
	staleAfter time.Duration
	store      StaleLister
	tr         transport.Transport
	slots      []session.Key
	log        *zap.Logger
	now        func() time.Time
}

// ReminderOpts holds parameters for creating a Reminder.
type ReminderOpts struct {
	Cron       string
	StaleAfter time.Duration
	Store      StaleLister
	Transport  transport.Transport
	Slots      []session.Key
	Logger     *zap.Logger
	Now        func() time.Time // defaults to time.Now
}

// NewReminder parses the schedule and computes the first fire time.
func NewReminder(opts ReminderOpts) (*Reminder, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("dispatch: reminder: store is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("dispatch: reminder: transport is required")
	}
	sched, err := cronParser.Parse(opts.Cron)
	if err != nil {
		return nil, fmt.Errorf("dispatch: reminder: parse %q: %w", opts.Cron, err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reminder{
		sched:      sched,
		next:       sched.Next(now()),
		staleAfter: opts.StaleAfter,
		store:      opts.Store,
		tr:         opts.Transport,
		slots:      append([]session.Key(nil), opts.Slots...),
		log:        logger,
		now:        now,
	}, nil
}

// Next returns the next scheduled fire time.
func (r *Reminder) Next() time.Time { return r.next }

// Tick sends reminders when the fire time has passed and schedules the
// next one. It returns the number of slots notified.
func (r *Reminder) Tick(ctx context.Context) (int, error) {
	now := r.now()
	if now.Before(r.next) {
		return 0, nil
	}
	r.next = r.sched.Next(now)

	recs, err := r.store.ListStale(ctx, now.Add(-r.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("dispatch: reminder: %w", err)
	}
	bySlot := make(map[session.Key][]models.Submission)
	for _, rec := range recs {
		key := session.Key{ChannelID: rec.ChannelID, ThreadID: rec.ThreadID}
		bySlot[key] = append(bySlot[key], rec)
	}

	sent := 0
	for _, slot := range r.slots {
		pending := bySlot[slot]
		if len(pending) == 0 {
			continue
		}
		dest := transport.Destination{ChannelID: slot.ChannelID, ThreadID: slot.ThreadID}
		if err := r.tr.SendMessage(ctx, dest, reminderText(pending, now)); err != nil {
			r.log.Warn("dispatch: reminder send", zap.Stringer("slot", slot), zap.Error(err))
			continue
		}
		sent++
	}
	r.log.Info("dispatch: reminders sent", zap.Int("stale", len(recs)), zap.Int("slots", sent), zap.Time("next", r.next))
	return sent, nil
}

func reminderText(recs []models.Submission, now time.Time) string {
	var b strings.Builder
	b.WriteString("Audios pendientes de publicar:")
	for _, rec := range recs {
		name := rec.Title
		if name == "" {
			name = rec.Identifier
		}
		idle := now.Sub(rec.UpdatedAt).Truncate(time.Minute)
		fmt.Fprintf(&b, "\n👉 %s (%s, sin cambios desde hace %s)", name, rec.Step, idle)
	}
	return b.String()
}
