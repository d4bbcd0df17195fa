package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zulandar/archivebot/internal/media"
	"github.com/zulandar/archivebot/internal/models"
	"github.com/zulandar/archivebot/internal/submission"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeTranscoder struct {
	calls int
	err   error
}

func (f *fakeTranscoder) Convert(_ context.Context, in, out string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	if _, err := os.Stat(in); err != nil {
		return err
	}
	return os.WriteFile(out, []byte("mp3"), 0o644)
}

type fakeUploader struct {
	calls int
	err   error
	paths []string
}

func (f *fakeUploader) Upload(_ context.Context, _ *models.Submission, path string) error {
	f.calls++
	f.paths = append(f.paths, path)
	return f.err
}

type fixture struct {
	store *submission.Store
	tc    *fakeTranscoder
	up    *fakeUploader
	p     *Pipeline
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := gormDB.AutoMigrate(&models.Submission{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := submission.NewStore(submission.StoreOpts{DB: gormDB})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	f := &fixture{store: store, tc: &fakeTranscoder{}, up: &fakeUploader{}, dir: t.TempDir()}
	f.p, err = New(Opts{Store: store, Transcoder: f.tc, Uploader: f.up, DataDir: f.dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

// seed creates a described submission with its voice file on disk.
func (f *fixture) seed(t *testing.T) *models.Submission {
	t.Helper()
	ctx := context.Background()
	rec, err := f.store.Create(ctx, submission.NewSubmission{
		ChannelID: "c", Duration: 5, MimeType: "audio/ogg",
		FileID: "fid", FileUniqueID: "uid", FileSize: 3,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec, err = f.store.UpdateFields(ctx, rec.Identifier, map[submission.Field]any{
		submission.FieldFilePath:    "voice/file_7.oga",
		submission.FieldTitle:       "T",
		submission.FieldDescription: "D",
		submission.FieldTags:        "a,b",
		submission.FieldStep:        models.StepPublishing,
	})
	if err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	src := f.p.VoicePath(rec)
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(src, []byte("ogg"), 0o644); err != nil {
		t.Fatalf("write voice: %v", err)
	}
	return rec
}

type progressLog []string

func (l *progressLog) record(stage Stage, status Status) {
	mark := map[Status]string{StatusStarted: "+", StatusDone: "=", StatusSkipped: "-"}[status]
	*l = append(*l, mark+string(stage))
}

func TestNew_RequiresDependencies(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		opts Opts
	}{
		{"no store", Opts{Transcoder: f.tc, Uploader: f.up, DataDir: "d"}},
		{"no transcoder", Opts{Store: f.store, Uploader: f.up, DataDir: "d"}},
		{"no uploader", Opts{Store: f.store, Transcoder: f.tc, DataDir: "d"}},
		{"no data dir", Opts{Store: f.store, Transcoder: f.tc, Uploader: f.up}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLocalVoicePath(t *testing.T) {
	if got, want := LocalVoicePath("/d", "abc", "voice/file_1.oga"), filepath.Join("/d", "voice", "abc.oga"); got != want {
		t.Errorf("LocalVoicePath = %q, want %q", got, want)
	}
	if got, want := LocalVoicePath("/d", "abc", "noext"), filepath.Join("/d", "voice", "abc.ogg"); got != want {
		t.Errorf("LocalVoicePath = %q, want %q", got, want)
	}
}

func TestPublish_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(t)
	src := f.p.VoicePath(rec)

	var log progressLog
	deleted, err := f.p.Publish(ctx, rec, log.record)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !deleted.Transcoded || !deleted.Uploaded || !deleted.Published || !deleted.Cleaned {
		t.Errorf("markers = %+v, want all set", deleted)
	}

	want := progressLog{"+resolve", "=resolve", "+transcode", "=transcode", "+upload", "=upload", "+cleanup", "=cleanup", "+delete", "=delete"}
	if diff := cmp.Diff(want, log); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	if f.up.paths[0] != media.OutputPath(src) {
		t.Errorf("uploaded %q, want %q", f.up.paths[0], media.OutputPath(src))
	}
	for _, p := range []string{src, media.OutputPath(src)} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s still exists", p)
		}
	}
	if _, err := f.store.Get(ctx, rec.Identifier); !errors.Is(err, submission.ErrNotFound) {
		t.Errorf("Get after publish = %v, want ErrNotFound", err)
	}
}

func TestPublish_UploadFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(t)
	f.up.err = errors.New("503 slow down")

	got, err := f.p.Publish(ctx, rec, nil)
	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("Publish err = %v, want *PipelineError", err)
	}
	if perr.Stage != StageUpload {
		t.Errorf("Stage = %s, want upload", perr.Stage)
	}
	if !got.Transcoded || got.Uploaded || got.Published {
		t.Errorf("returned markers = %+v", got)
	}

	stored, err := f.store.Get(ctx, rec.Identifier)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.Transcoded || stored.Published {
		t.Errorf("stored markers transcoded=%v published=%v", stored.Transcoded, stored.Published)
	}
	if _, err := os.Stat(media.OutputPath(f.p.VoicePath(rec))); err != nil {
		t.Errorf("mp3 should survive a failed upload: %v", err)
	}

	// Retry resumes at upload.
	f.up.err = nil
	var log progressLog
	if _, err := f.p.Publish(ctx, stored, log.record); err != nil {
		t.Fatalf("retry Publish: %v", err)
	}
	if f.tc.calls != 1 {
		t.Errorf("transcoder calls = %d, want 1", f.tc.calls)
	}
	if f.up.calls != 2 {
		t.Errorf("uploader calls = %d, want 2", f.up.calls)
	}
	if log[2] != "-transcode" {
		t.Errorf("progress = %v, want transcode skipped", log)
	}
}

func TestPublish_RetranscodesLostOutput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(t)
	rec, err := f.store.UpdateField(ctx, rec.Identifier, submission.FieldTranscoded, true)
	if err != nil {
		t.Fatalf("UpdateField: %v", err)
	}

	if _, err := f.p.Publish(ctx, rec, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if f.tc.calls != 1 {
		t.Errorf("transcoder calls = %d, want 1", f.tc.calls)
	}
}

func TestPublish_TranscodeFailure(t *testing.T) {
	f := newFixture(t)
	rec := f.seed(t)
	f.tc.err = errors.New("ffmpeg exploded")

	_, err := f.p.Publish(context.Background(), rec, nil)
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Stage != StageTranscode {
		t.Fatalf("Publish err = %v, want transcode *PipelineError", err)
	}
	if f.up.calls != 0 {
		t.Errorf("uploader calls = %d, want 0", f.up.calls)
	}
	if !errors.Is(err, f.tc.err) {
		t.Errorf("error should wrap transcoder cause")
	}
}

func TestPublish_NoFilePath(t *testing.T) {
	f := newFixture(t)
	rec := &models.Submission{Identifier: "x"}
	_, err := f.p.Publish(context.Background(), rec, nil)
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Stage != StageResolve {
		t.Fatalf("Publish err = %v, want resolve *PipelineError", err)
	}
}

func TestPublish_CleanupToleratesMissingFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(t)
	rec, err := f.store.UpdateFields(ctx, rec.Identifier, map[submission.Field]any{
		submission.FieldTranscoded: true,
		submission.FieldUploaded:   true,
		submission.FieldPublished:  true,
	})
	if err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if err := os.Remove(f.p.VoicePath(rec)); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := f.p.Publish(ctx, rec, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if f.tc.calls != 0 || f.up.calls != 0 {
		t.Errorf("calls transcode=%d upload=%d, want 0/0", f.tc.calls, f.up.calls)
	}
}

func TestDiscard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(t)
	src := f.p.VoicePath(rec)

	var log progressLog
	deleted, err := f.p.Discard(ctx, rec, log.record)
	if err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if deleted.Identifier != rec.Identifier {
		t.Errorf("deleted %q, want %q", deleted.Identifier, rec.Identifier)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("voice file still exists")
	}
	if n, _ := f.store.Count(ctx); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
	if diff := cmp.Diff(progressLog{"+cleanup", "=cleanup", "+delete", "=delete"}, log); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	if f.tc.calls != 0 || f.up.calls != 0 {
		t.Error("discard must not transcode or upload")
	}
}

func TestDiscard_MissingRow(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Discard(context.Background(), &models.Submission{Identifier: "gone", FilePath: "x.oga"}, nil)
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Stage != StageDelete {
		t.Fatalf("Discard err = %v, want delete *PipelineError", err)
	}
	if !errors.Is(err, submission.ErrNotFound) {
		t.Errorf("error should wrap ErrNotFound: %v", err)
	}
}
