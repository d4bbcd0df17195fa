package dashboard

import (
	"context"
	"time"

	"github.com/zulandar/archivebot/internal/models"
	"github.com/zulandar/archivebot/internal/submission"
	"gorm.io/gorm"
)

// SubmissionRow is the JSON view of an open submission.
type SubmissionRow struct {
	Identifier  string    `json:"identifier"`
	ChannelID   string    `json:"channel_id"`
	ThreadID    string    `json:"thread_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Step        string    `json:"step"`
	Duration    int       `json:"duration"`
	MimeType    string    `json:"mime_type"`
	FileSize    int64     `json:"file_size"`
	Published   bool      `json:"published"`
	Transcoded  bool      `json:"transcoded"`
	Uploaded    bool      `json:"uploaded"`
	Cleaned     bool      `json:"cleaned"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func rowFor(s models.Submission) SubmissionRow {
	tags := s.TagList()
	if tags == nil {
		tags = []string{}
	}
	return SubmissionRow{
		Identifier:  s.Identifier,
		ChannelID:   s.ChannelID,
		ThreadID:    s.ThreadID,
		Title:       s.Title,
		Description: s.Description,
		Tags:        tags,
		Step:        string(s.Step),
		Duration:    s.Duration,
		MimeType:    s.MimeType,
		FileSize:    s.FileSize,
		Published:   s.Published,
		Transcoded:  s.Transcoded,
		Uploaded:    s.Uploaded,
		Cleaned:     s.Cleaned,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// ListSubmissions returns open submissions, optionally restricted to one
// step and to unpublished rows.
func ListSubmissions(ctx context.Context, store *submission.Store, step string, unpublishedOnly bool) ([]SubmissionRow, error) {
	var (
		recs []models.Submission
		err  error
	)
	if unpublishedOnly {
		recs, err = store.ListUnpublished(ctx)
	} else {
		recs, err = store.ListOpen(ctx)
	}
	if err != nil {
		return nil, err
	}
	rows := make([]SubmissionRow, 0, len(recs))
	for _, r := range recs {
		if step != "" && string(r.Step) != step {
			continue
		}
		rows = append(rows, rowFor(r))
	}
	return rows, nil
}

// Stats summarizes the record store.
type Stats struct {
	Open           int64            `json:"open"`
	Unpublished    int64            `json:"unpublished"`
	Stale          int              `json:"stale"`
	ByStep         map[string]int64 `json:"by_step"`
	ActiveSessions int              `json:"active_sessions"`
	ActiveSlots    []string         `json:"active_slots"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// ComputeStats counts submissions per step. Rows unpublished and untouched
// since staleBefore count as stale.
func ComputeStats(ctx context.Context, db *gorm.DB, store *submission.Store, staleBefore time.Time) (Stats, error) {
	stats := Stats{ByStep: make(map[string]int64), GeneratedAt: time.Now().UTC()}

	type row struct {
		Step      string
		Published bool
		Count     int64
	}
	var rows []row
	if err := db.WithContext(ctx).Model(&models.Submission{}).
		Select("step, published, count(*) as count").
		Group("step, published").
		Find(&rows).Error; err != nil {
		return Stats{}, err
	}
	for _, r := range rows {
		stats.Open += r.Count
		stats.ByStep[r.Step] += r.Count
		if !r.Published {
			stats.Unpublished += r.Count
		}
	}

	stale, err := store.ListStale(ctx, staleBefore)
	if err != nil {
		return Stats{}, err
	}
	stats.Stale = len(stale)
	return stats, nil
}
