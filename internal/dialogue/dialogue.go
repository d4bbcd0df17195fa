// Package dialogue implements the per-slot metadata conversation: a voice
// message opens a submission, the sender answers title, description and
// tags with a confirm step after each, and finally sends or discards it.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zulandar/archivebot/internal/models"
	"github.com/zulandar/archivebot/internal/pipeline"
	"github.com/zulandar/archivebot/internal/session"
	"github.com/zulandar/archivebot/internal/submission"
	"github.com/zulandar/archivebot/internal/transport"
	"go.uber.org/zap"
)

// createAttempts bounds retries on an identifier collision.
const createAttempts = 3

// RecordStore is the subset of the submission store the controller needs.
type RecordStore interface {
	Create(ctx context.Context, in submission.NewSubmission) (*models.Submission, error)
	UpdateFields(ctx context.Context, identifier string, fields map[submission.Field]any) (*models.Submission, error)
	Delete(ctx context.Context, identifier string) (*models.Submission, error)
	ListOpen(ctx context.Context) ([]models.Submission, error)
}

// Publisher runs the terminal actions. *pipeline.Pipeline satisfies it.
type Publisher interface {
	Publish(ctx context.Context, rec *models.Submission, progress pipeline.Progress) (*models.Submission, error)
	Discard(ctx context.Context, rec *models.Submission, progress pipeline.Progress) (*models.Submission, error)
	VoicePath(rec *models.Submission) string
}

// Controller maps classified events onto session transitions and record
// mutations. It is not safe for concurrent use; the dispatcher calls it
// from a single goroutine.
type Controller struct {
	store     RecordStore
	sessions  *session.Store
	tr        transport.Transport
	publisher Publisher
	log       *zap.Logger
}

// Opts holds parameters for creating a Controller.
type Opts struct {
	Store     RecordStore
	Sessions  *session.Store // defaults to an empty store
	Transport transport.Transport
	Publisher Publisher
	Logger    *zap.Logger
}

// New creates a Controller.
func New(opts Opts) (*Controller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("dialogue: store is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("dialogue: transport is required")
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("dialogue: publisher is required")
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:     opts.Store,
		sessions:  sessions,
		tr:        opts.Transport,
		publisher: opts.Publisher,
		log:       logger,
	}, nil
}

// Sessions returns the session store the controller mutates.
func (c *Controller) Sessions() *session.Store { return c.sessions }

// Handle applies one event addressed to the slot key. Commands are
// recognized in any state before the event is treated as an answer. An
// event of the wrong kind for the current step is ignored.
func (c *Controller) Handle(ctx context.Context, key session.Key, kind transport.Kind, ev transport.Event) error {
	if kind == transport.KindText {
		if word, ok := parseCommand(ev.Text); ok {
			return c.handleCommand(ctx, key, word)
		}
	}

	st := c.sessions.Get(key)
	switch kind {
	case transport.KindVoice:
		return c.onVoice(ctx, key, st, ev)
	case transport.KindText:
		return c.onText(ctx, key, st, ev)
	case transport.KindButton:
		return c.onButton(ctx, key, st, ev.Callback.Data)
	}
	c.log.Debug("dialogue: ignoring event", zap.Stringer("slot", key), zap.Stringer("kind", kind))
	return nil
}

func (c *Controller) onVoice(ctx context.Context, key session.Key, st session.State, ev transport.Event) error {
	dest := destination(key)
	if !st.Idle() {
		return c.tr.SendMessage(ctx, dest, msgBusy)
	}

	rec, err := c.create(ctx, key, ev.Voice)
	if err != nil {
		return err
	}
	rec, err = c.attachFile(ctx, rec)
	if err != nil {
		if _, derr := c.store.Delete(ctx, rec.Identifier); derr != nil {
			c.log.Warn("dialogue: drop record after failed fetch",
				zap.String("identifier", rec.Identifier), zap.Error(derr))
		}
		return err
	}
	if err := c.sessions.Put(key, session.State{Step: rec.Step, Record: rec}); err != nil {
		return err
	}
	c.log.Info("dialogue: submission opened", zap.Stringer("slot", key), zap.String("identifier", rec.Identifier))

	if err := c.tr.SendMessage(ctx, dest, msgInstructions); err != nil {
		return err
	}
	return c.tr.SendMessage(ctx, dest, questions[0].prompt)
}

func (c *Controller) create(ctx context.Context, key session.Key, v *transport.Voice) (*models.Submission, error) {
	in := submission.NewSubmission{
		ChannelID:    key.ChannelID,
		ThreadID:     key.ThreadID,
		Duration:     v.Duration,
		MimeType:     v.MimeType,
		FileID:       v.FileID,
		FileUniqueID: v.FileUniqueID,
		FileSize:     v.FileSize,
	}
	var err error
	for i := 0; i < createAttempts; i++ {
		var rec *models.Submission
		rec, err = c.store.Create(ctx, in)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, submission.ErrDuplicateIdentifier) {
			return nil, err
		}
	}
	return nil, err
}

// attachFile resolves and downloads the voice file, then records its path
// together with the first question step.
func (c *Controller) attachFile(ctx context.Context, rec *models.Submission) (*models.Submission, error) {
	f, err := c.tr.FileInfo(ctx, rec.FileID)
	if err != nil {
		return rec, err
	}
	probe := *rec
	probe.FilePath = f.Path
	dst := c.publisher.VoicePath(&probe)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return rec, fmt.Errorf("dialogue: create voice dir: %w", err)
	}
	if err := c.tr.Download(ctx, f, dst); err != nil {
		os.Remove(dst)
		return rec, err
	}
	updated, err := c.store.UpdateFields(ctx, rec.Identifier, map[submission.Field]any{
		submission.FieldFilePath: f.Path,
		submission.FieldStep:     questions[0].ask,
	})
	if err != nil {
		os.Remove(dst)
		return rec, err
	}
	return updated, nil
}

func (c *Controller) onText(ctx context.Context, key session.Key, st session.State, ev transport.Event) error {
	i, ok := askingAt(st.Step)
	if !ok {
		c.log.Debug("dialogue: text not expected", zap.Stringer("slot", key), zap.String("step", string(st.Step)))
		return nil
	}
	q := questions[i]
	answer := strings.TrimSpace(ev.Text)

	rec, err := c.store.UpdateFields(ctx, st.Record.Identifier, map[submission.Field]any{
		q.field:              answer,
		submission.FieldStep: q.confirm,
	})
	if err != nil {
		return err
	}
	if err := c.sessions.Put(key, session.State{Step: q.confirm, Record: rec}); err != nil {
		return err
	}

	dest := destination(key)
	if ev.MessageID != "" {
		if err := c.tr.SetReaction(ctx, dest, ev.MessageID, emojiOK); err != nil {
			c.log.Warn("dialogue: set reaction", zap.Stringer("slot", key), zap.Error(err))
		}
	}
	return c.tr.SendQuestion(ctx, dest, answerText(q, rec), []string{OptionContinue, OptionModify})
}

func (c *Controller) onButton(ctx context.Context, key session.Key, st session.State, data string) error {
	dest := destination(key)

	if st.Step == models.StepAwaitingFinalConfirm {
		switch data {
		case OptionSend:
			return c.publish(ctx, key, st)
		case OptionDiscard:
			return c.discard(ctx, key, st)
		}
		c.log.Debug("dialogue: unknown final option", zap.Stringer("slot", key), zap.String("data", data))
		return nil
	}

	i, ok := confirmingAt(st.Step)
	if !ok {
		c.log.Debug("dialogue: button not expected", zap.Stringer("slot", key), zap.String("step", string(st.Step)))
		return nil
	}

	if data != OptionContinue {
		if _, err := c.advance(ctx, key, st.Record, questions[i].ask); err != nil {
			return err
		}
		return c.tr.SendMessage(ctx, dest, questions[i].prompt)
	}

	if i+1 < len(questions) {
		if _, err := c.advance(ctx, key, st.Record, questions[i+1].ask); err != nil {
			return err
		}
		return c.tr.SendMessage(ctx, dest, questions[i+1].prompt)
	}

	rec, err := c.advance(ctx, key, st.Record, models.StepAwaitingFinalConfirm)
	if err != nil {
		return err
	}
	return c.tr.SendQuestion(ctx, dest, summary(rec), []string{OptionSend, OptionDiscard})
}

// advance persists step and then moves the in-memory session to it. A
// record that no longer exists leaves the slot idle.
func (c *Controller) advance(ctx context.Context, key session.Key, rec *models.Submission, step models.Step) (*models.Submission, error) {
	updated, err := c.store.UpdateFields(ctx, rec.Identifier, map[submission.Field]any{
		submission.FieldStep: step,
	})
	if err != nil {
		if errors.Is(err, submission.ErrNotFound) {
			c.sessions.Clear(key)
		}
		return nil, err
	}
	if err := c.sessions.Put(key, session.State{Step: step, Record: updated}); err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *Controller) publish(ctx context.Context, key session.Key, st session.State) error {
	rec, err := c.advance(ctx, key, st.Record, models.StepPublishing)
	if err != nil {
		return err
	}
	dest := destination(key)
	progress := func(stage pipeline.Stage, status pipeline.Status) {
		switch {
		case stage == pipeline.StageTranscode && status == pipeline.StatusDone:
			c.notify(ctx, dest, msgTranscoded)
		case stage == pipeline.StageUpload && status == pipeline.StatusStarted:
			if err := c.tr.SendChatAction(ctx, dest, transport.ActionUploadVoice); err != nil {
				c.log.Warn("dialogue: chat action", zap.Error(err))
			}
		case stage == pipeline.StageUpload && status == pipeline.StatusDone:
			c.notify(ctx, dest, msgUploaded)
		}
	}

	last, err := c.publisher.Publish(ctx, rec, progress)
	if err != nil {
		c.retreat(ctx, key, last)
		return err
	}
	c.sessions.Clear(key)
	c.log.Info("dialogue: submission published", zap.Stringer("slot", key), zap.String("identifier", rec.Identifier))
	return nil
}

func (c *Controller) discard(ctx context.Context, key session.Key, st session.State) error {
	rec, err := c.advance(ctx, key, st.Record, models.StepDiscarding)
	if err != nil {
		return err
	}
	dest := destination(key)
	progress := func(stage pipeline.Stage, status pipeline.Status) {
		if status != pipeline.StatusDone {
			return
		}
		switch stage {
		case pipeline.StageCleanup:
			c.notify(ctx, dest, msgFileRemoved)
		case pipeline.StageDelete:
			c.notify(ctx, dest, msgDeleted)
		}
	}

	last, err := c.publisher.Discard(ctx, rec, progress)
	if err != nil {
		c.retreat(ctx, key, last)
		return err
	}
	c.sessions.Clear(key)
	c.log.Info("dialogue: submission discarded", zap.Stringer("slot", key), zap.String("identifier", rec.Identifier))
	return nil
}

// retreat returns a slot to the final confirmation after a failed
// terminal action so the user can press send or discard again. The
// in-memory session moves even if the step cannot be persisted; a restart
// maps the terminal step back to the same place.
func (c *Controller) retreat(ctx context.Context, key session.Key, rec *models.Submission) {
	updated, err := c.store.UpdateFields(ctx, rec.Identifier, map[submission.Field]any{
		submission.FieldStep: models.StepAwaitingFinalConfirm,
	})
	if errors.Is(err, submission.ErrNotFound) {
		c.sessions.Clear(key)
		return
	}
	if err != nil {
		c.log.Warn("dialogue: restore final step", zap.String("identifier", rec.Identifier), zap.Error(err))
		cp := *rec
		cp.Step = models.StepAwaitingFinalConfirm
		updated = &cp
	}
	if err := c.sessions.Put(key, session.State{Step: models.StepAwaitingFinalConfirm, Record: updated}); err != nil {
		c.log.Warn("dialogue: restore session", zap.Stringer("slot", key), zap.Error(err))
	}
}

func (c *Controller) notify(ctx context.Context, dest transport.Destination, text string) {
	if err := c.tr.SendMessage(ctx, dest, text); err != nil {
		c.log.Warn("dialogue: progress message", zap.Error(err))
	}
}
