// Package submission is the durable record store for voice submissions.
// Every mutating call is a single transaction affecting one row and returns
// the row as it is after the mutation.
package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/archivebot/internal/models"
	"gorm.io/gorm"
)

// Field names a mutable submission column.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldTags        Field = "tags"
	FieldFilePath    Field = "file_path"
	FieldStep        Field = "step"
	FieldPublished   Field = "published"
	FieldTranscoded  Field = "transcoded"
	FieldUploaded    Field = "uploaded"
	FieldCleaned     Field = "cleaned"
)

// stampResolution is the coarsest timestamp precision among the supported
// backends (MySQL datetime(3)).
const stampResolution = time.Millisecond

// NewSubmission carries the write-once fields captured from a voice event.
type NewSubmission struct {
	ChannelID    string
	ThreadID     string
	Duration     int
	MimeType     string
	FileID       string
	FileUniqueID string
	FileSize     int64
}

// Store persists submissions through GORM.
type Store struct {
	db    *gorm.DB
	newID func() string
	now   func() time.Time
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB    *gorm.DB
	NewID func() string    // defaults to NewIdentifier
	Now   func() time.Time // defaults to time.Now
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("submission: store: db is required")
	}
	newID := opts.NewID
	if newID == nil {
		newID = NewIdentifier
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{db: opts.DB, newID: newID, now: now}, nil
}

// NewIdentifier returns a random 32-character hex identifier.
func NewIdentifier() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Create inserts a new open submission with a fresh identifier. It returns
// ErrDuplicateIdentifier (wrapped in a StoreError) on identity collision.
func (s *Store) Create(ctx context.Context, in NewSubmission) (*models.Submission, error) {
	now := s.stamp()
	rec := &models.Submission{
		Identifier:   s.newID(),
		ChannelID:    in.ChannelID,
		ThreadID:     in.ThreadID,
		Duration:     in.Duration,
		MimeType:     in.MimeType,
		FileID:       in.FileID,
		FileUniqueID: in.FileUniqueID,
		FileSize:     in.FileSize,
		Step:         models.StepIdle,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicate(err) {
			return nil, storeErr("create", rec.Identifier, ErrDuplicateIdentifier)
		}
		return nil, storeErr("create", rec.Identifier, err)
	}
	return rec, nil
}

// UpdateField sets a single mutable field.
func (s *Store) UpdateField(ctx context.Context, identifier string, field Field, value any) (*models.Submission, error) {
	return s.UpdateFields(ctx, identifier, map[Field]any{field: value})
}

// UpdateFields sets several mutable fields in one statement and bumps
// updated_at so it strictly increases. Write-once fields are refused.
func (s *Store) UpdateFields(ctx context.Context, identifier string, fields map[Field]any) (*models.Submission, error) {
	if len(fields) == 0 {
		return nil, storeErr("update", identifier, fmt.Errorf("no fields to update"))
	}
	values := make(map[string]interface{}, len(fields)+1)
	for f, v := range fields {
		cv, err := coerce(f, v)
		if err != nil {
			return nil, storeErr("update", identifier, err)
		}
		values[string(f)] = cv
	}

	var out models.Submission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.Submission
		if err := tx.Where("identifier = ?", identifier).First(&cur).Error; err != nil {
			return notFound(err)
		}
		values["updated_at"] = s.nextStamp(cur.UpdatedAt)
		result := tx.Model(&models.Submission{}).Where("identifier = ?", identifier).Updates(values)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("identifier = ?", identifier).First(&out).Error
	})
	if err != nil {
		return nil, storeErr("update", identifier, err)
	}
	return &out, nil
}


// Delete removes a submission and returns the row as it was.
func (s *Store) Delete(ctx context.Context, identifier string) (*models.Submission, error) {
	var out models.Submission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identifier = ?", identifier).First(&out).Error; err != nil {
			return notFound(err)
		}
		result := tx.Where("identifier = ?", identifier).Delete(&models.Submission{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("delete", identifier, err)
	}
	return &out, nil
}

// Get returns the submission with the given identifier.
func (s *Store) Get(ctx context.Context, identifier string) (*models.Submission, error) {
	var out models.Submission
	if err := s.db.WithContext(ctx).Where("identifier = ?", identifier).First(&out).Error; err != nil {
		return nil, storeErr("get", identifier, notFound(err))
	}
	return &out, nil
}

// ListOpen returns every stored submission, oldest first.
func (s *Store) ListOpen(ctx context.Context) ([]models.Submission, error) {
	var out []models.Submission
	if err := s.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, storeErr("list open", "", err)
	}
	return out, nil
}

// ListUnpublished returns submissions that have not been uploaded yet.
func (s *Store) ListUnpublished(ctx context.Context) ([]models.Submission, error) {
	var out []models.Submission
	if err := s.db.WithContext(ctx).Where("published = ?", false).Order("id").Find(&out).Error; err != nil {
		return nil, storeErr("list unpublished", "", err)
	}
	return out, nil
}

// ListStale returns unpublished submissions last touched before cutoff.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time) ([]models.Submission, error) {
	var out []models.Submission
	if err := s.db.WithContext(ctx).
		Where("published = ? AND updated_at < ?", false, cutoff).
		Order("id").Find(&out).Error; err != nil {
		return nil, storeErr("list stale", "", err)
	}
	return out, nil
}

// Count returns the number of stored submissions.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Submission{}).Count(&n).Error; err != nil {
		return 0, storeErr("count", "", err)
	}
	return n, nil
}

// stamp returns the current time at storage precision.
func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(stampResolution)
}

// nextStamp returns a timestamp strictly after prev.
func (s *Store) nextStamp(prev time.Time) time.Time {
	now := s.stamp()
	if !now.After(prev) {
		now = prev.UTC().Truncate(stampResolution).Add(stampResolution)
	}
	return now
}

// coerce validates a field/value pair and converts it to its column value.
func coerce(f Field, v any) (interface{}, error) {
	switch f {
	case FieldTitle, FieldDescription, FieldFilePath:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %s: want string, got %T", f, v)
		}
		return s, nil
	case FieldTags:
		switch t := v.(type) {
		case string:
			return JoinTags(NormalizeTags(t)), nil
		case []string:
			return JoinTags(NormalizeTags(JoinTags(t))), nil
		}
		return nil, fmt.Errorf("field %s: want string or []string, got %T", f, v)
	case FieldStep:
		var step models.Step
		switch t := v.(type) {
		case models.Step:
			step = t
		case string:
			step = models.Step(t)
		default:
			return nil, fmt.Errorf("field %s: want models.Step, got %T", f, v)
		}
		if !step.Valid() {
			return nil, fmt.Errorf("field %s: unknown step %q", f, step)
		}
		return string(step), nil
	case FieldPublished, FieldTranscoded, FieldUploaded, FieldCleaned:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("field %s: want bool, got %T", f, v)
		}
		return b, nil
	}
	return nil, fmt.Errorf("field %q is not mutable", f)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// isDuplicate recognizes unique-constraint violations, translated or not.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
