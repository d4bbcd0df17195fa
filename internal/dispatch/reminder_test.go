package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/archivebot/internal/models"
	"github.com/zulandar/archivebot/internal/session"
	"github.com/zulandar/archivebot/internal/transport"
)

type fakeStale struct {
	recs    []models.Submission
	err     error
	cutoffs []time.Time
}

func (f *fakeStale) ListStale(_ context.Context, cutoff time.Time) ([]models.Submission, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.recs, f.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newReminder(t *testing.T, store StaleLister, tr transport.Transport, c *clock) *Reminder {
	t.Helper()
	r, err := NewReminder(ReminderOpts{
		Cron:       "0 9 * * *",
		StaleAfter: 24 * time.Hour,
		Store:      store,
		Transport:  tr,
		Slots:      []session.Key{slot, {ChannelID: "-200"}},
		Now:        c.now,
	})
	if err != nil {
		t.Fatalf("NewReminder: %v", err)
	}
	return r
}

func TestNewReminder_Validation(t *testing.T) {
	if _, err := NewReminder(ReminderOpts{Cron: "0 9 * * *", Transport: transport.NewMock()}); err == nil {
		t.Error("expected error without store")
	}
	if _, err := NewReminder(ReminderOpts{Cron: "0 9 * * *", Store: &fakeStale{}}); err == nil {
		t.Error("expected error without transport")
	}
	_, err := NewReminder(ReminderOpts{Cron: "not a cron expr", Store: &fakeStale{}, Transport: transport.NewMock()})
	if err == nil || !strings.Contains(err.Error(), "parse") {
		t.Errorf("err = %v, want parse error", err)
	}
}

func TestReminder_FiresOnSchedule(t *testing.T) {
	c := &clock{t: time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)}
	store := &fakeStale{recs: []models.Submission{
		{Identifier: "abc", ChannelID: slot.ChannelID, ThreadID: slot.ThreadID, Title: "Episodio 1",
			Step: models.StepAwaitingTagsConfirm, UpdatedAt: time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)},
		{Identifier: "def", ChannelID: slot.ChannelID, ThreadID: slot.ThreadID,
			Step: models.StepAwaitingTitle, UpdatedAt: time.Date(2026, 10, 13, 7, 0, 0, 0, time.UTC)},
		{Identifier: "zzz", ChannelID: "unconfigured"},
	}}
	tr := transport.NewMock()
	r := newReminder(t, store, tr, c)

	if want := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC); !r.Next().Equal(want) {
		t.Fatalf("Next = %v, want %v", r.Next(), want)
	}

	c.t = c.t.Add(30 * time.Minute)
	if n, err := r.Tick(context.Background()); err != nil || n != 0 {
		t.Fatalf("early Tick = %d, %v", n, err)
	}
	if len(store.cutoffs) != 0 {
		t.Error("store queried before fire time")
	}

	c.t = time.Date(2026, 10, 14, 9, 1, 0, 0, time.UTC)
	n, err := r.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 1 {
		t.Errorf("slots notified = %d, want 1", n)
	}
	if want := c.t.Add(-24 * time.Hour); !store.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", store.cutoffs[0], want)
	}
	texts := tr.Texts()
	if len(texts) != 1 {
		t.Fatalf("texts = %q", texts)
	}
	for _, want := range []string{"Audios pendientes de publicar:", "👉 Episodio 1 (awaiting_tags_confirm", "👉 def (awaiting_title"} {
		if !strings.Contains(texts[0], want) {
			t.Errorf("reminder %q missing %q", texts[0], want)
		}
	}
	if strings.Contains(texts[0], "zzz") {
		t.Error("reminder mentions a record from an unconfigured slot")
	}
	if want := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC); !r.Next().Equal(want) {
		t.Errorf("Next after fire = %v, want %v", r.Next(), want)
	}

	// Same day again: not due.
	if n, _ := r.Tick(context.Background()); n != 0 {
		t.Errorf("second Tick = %d, want 0", n)
	}
}

func TestReminder_StoreError(t *testing.T) {
	c := &clock{t: time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)}
	store := &fakeStale{err: errors.New("db gone")}
	r := newReminder(t, store, transport.NewMock(), c)
	c.t = c.t.Add(24 * time.Hour)

	if _, err := r.Tick(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
