// Package pipeline runs the terminal actions on a submission: publishing
// (transcode, upload, cleanup, delete) and discarding. Each publish stage
// records a progress marker on the row so a retried publish resumes after
// the last completed stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/zulandar/archivebot/internal/archive"
	"github.com/zulandar/archivebot/internal/media"
	"github.com/zulandar/archivebot/internal/models"
	"github.com/zulandar/archivebot/internal/submission"
	"go.uber.org/zap"
)

// Stage names a pipeline step.
type Stage string

const (
	StageResolve   Stage = "resolve"
	StageTranscode Stage = "transcode"
	StageUpload    Stage = "upload"
	StageCleanup   Stage = "cleanup"
	StageDelete    Stage = "delete"
)

// Status is reported to a Progress callback.
type Status int

const (
	StatusStarted Status = iota
	StatusDone
	StatusSkipped
)

// Progress observes stage transitions. It must not block for long.
type Progress func(stage Stage, status Status)

// PipelineError reports the stage at which a pipeline run stopped.
type PipelineError struct {
	Stage      Stage
	Identifier string
	Err        error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline: %s %s: %v", e.Stage, e.Identifier, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// RecordStore is the subset of the submission store the pipeline needs.
type RecordStore interface {
	UpdateFields(ctx context.Context, identifier string, fields map[submission.Field]any) (*models.Submission, error)
	Delete(ctx context.Context, identifier string) (*models.Submission, error)
}

// Pipeline runs publish and discard for submissions.
type Pipeline struct {
	store      RecordStore
	transcoder media.Transcoder
	uploader   archive.Uploader
	dataDir    string
	log        *zap.Logger
}

// Opts holds parameters for creating a Pipeline.
type Opts struct {
	Store      RecordStore
	Transcoder media.Transcoder
	Uploader   archive.Uploader
	DataDir    string
	Logger     *zap.Logger
}

// New creates a Pipeline.
func New(opts Opts) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline: store is required")
	}
	if opts.Transcoder == nil {
		return nil, fmt.Errorf("pipeline: transcoder is required")
	}
	if opts.Uploader == nil {
		return nil, fmt.Errorf("pipeline: uploader is required")
	}
	if opts.DataDir == "" {
		return nil, fmt.Errorf("pipeline: data dir is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:      opts.Store,
		transcoder: opts.Transcoder,
		uploader:   opts.Uploader,
		dataDir:    opts.DataDir,
		log:        logger,
	}, nil
}

// LocalVoicePath returns where the voice file for a submission lives on
// local disk: <dataDir>/voice/<identifier><ext>, with the extension taken
// from the transport file path.
func LocalVoicePath(dataDir, identifier, filePath string) string {
	ext := path.Ext(filePath)
	if ext == "" {
		ext = ".ogg"
	}
	return filepath.Join(dataDir, "voice", identifier+ext)
}

// VoicePath returns the local voice file for rec.
func (p *Pipeline) VoicePath(rec *models.Submission) string {
	return LocalVoicePath(p.dataDir, rec.Identifier, rec.FilePath)
}

// Publish transcodes, uploads, cleans up and deletes rec. Stages whose
// marker is already set are skipped. It returns the deleted row, or the
// latest known row with a *PipelineError when a stage fails. Nothing is rolled
// back on failure.
func (p *Pipeline) Publish(ctx context.Context, rec *models.Submission, progress Progress) (*models.Submission, error) {
	if progress == nil {
		progress = func(Stage, Status) {}
	}
	log := p.log.With(zap.String("identifier", rec.Identifier))

	progress(StageResolve, StatusStarted)
	if rec.FilePath == "" {
		return rec, p.fail(StageResolve, rec, errors.New("no voice file attached"))
	}
	src := p.VoicePath(rec)
	out := media.OutputPath(src)
	progress(StageResolve, StatusDone)

	// A lost output file needs transcoding again as long as it has not
	// been uploaded.
	needTranscode := !rec.Transcoded || (!rec.Uploaded && !exists(out))
	if needTranscode {
		progress(StageTranscode, StatusStarted)
		if err := p.transcoder.Convert(ctx, src, out); err != nil {
			return rec, p.fail(StageTranscode, rec, err)
		}
		updated, err := p.mark(ctx, rec, submission.FieldTranscoded)
		if err != nil {
			return rec, p.fail(StageTranscode, rec, err)
		}
		rec = updated
		log.Info("pipeline: transcoded", zap.String("output", out))
		progress(StageTranscode, StatusDone)
	} else {
		progress(StageTranscode, StatusSkipped)
	}

	if !rec.Uploaded {
		progress(StageUpload, StatusStarted)
		if err := p.uploader.Upload(ctx, rec, out); err != nil {
			return rec, p.fail(StageUpload, rec, err)
		}
		updated, err := p.mark(ctx, rec, submission.FieldUploaded, submission.FieldPublished)
		if err != nil {
			return rec, p.fail(StageUpload, rec, err)
		}
		rec = updated
		log.Info("pipeline: uploaded", zap.String("item", archive.ItemURL(rec.Identifier)))
		progress(StageUpload, StatusDone)
	} else {
		progress(StageUpload, StatusSkipped)
	}

	if !rec.Cleaned {
		progress(StageCleanup, StatusStarted)
		if err := removeFiles(src, out); err != nil {
			return rec, p.fail(StageCleanup, rec, err)
		}
		updated, err := p.mark(ctx, rec, submission.FieldCleaned)
		if err != nil {
			return rec, p.fail(StageCleanup, rec, err)
		}
		rec = updated
		progress(StageCleanup, StatusDone)
	} else {
		progress(StageCleanup, StatusSkipped)
	}

	progress(StageDelete, StatusStarted)
	deleted, err := p.store.Delete(ctx, rec.Identifier)
	if err != nil {
		return rec, p.fail(StageDelete, rec, err)
	}
	progress(StageDelete, StatusDone)
	log.Info("pipeline: published")
	return deleted, nil
}

// Discard removes the local files for rec and deletes the row. Nothing is
// rolled back if the delete fails after the files are gone.
func (p *Pipeline) Discard(ctx context.Context, rec *models.Submission, progress Progress) (*models.Submission, error) {
	if progress == nil {
		progress = func(Stage, Status) {}
	}
	src := p.VoicePath(rec)

	progress(StageCleanup, StatusStarted)
	if err := removeFiles(src, media.OutputPath(src)); err != nil {
		return rec, p.fail(StageCleanup, rec, err)
	}
	progress(StageCleanup, StatusDone)

	progress(StageDelete, StatusStarted)
	deleted, err := p.store.Delete(ctx, rec.Identifier)
	if err != nil {
		return rec, p.fail(StageDelete, rec, err)
	}
	progress(StageDelete, StatusDone)
	p.log.Info("pipeline: discarded", zap.String("identifier", rec.Identifier))
	return deleted, nil
}

func (p *Pipeline) mark(ctx context.Context, rec *models.Submission, fields ...submission.Field) (*models.Submission, error) {
	values := make(map[submission.Field]any, len(fields))
	for _, f := range fields {
		values[f] = true
	}
	return p.store.UpdateFields(ctx, rec.Identifier, values)
}

func (p *Pipeline) fail(stage Stage, rec *models.Submission, err error) error {
	p.log.Warn("pipeline: stage failed",
		zap.String("identifier", rec.Identifier), zap.String("stage", string(stage)), zap.Error(err))
	return &PipelineError{Stage: stage, Identifier: rec.Identifier, Err: err}
}

// removeFiles deletes each path; already-missing files count as removed.
func removeFiles(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
