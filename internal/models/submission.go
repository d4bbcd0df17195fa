package models

import (
	"strings"
	"time"
)

// Step is a position in the fixed metadata dialogue. It is persisted on the
// submission so an interrupted conversation resumes at the right question.
type Step string

const (
	StepIdle                       Step = "idle"
	StepAwaitingTitle              Step = "awaiting_title"
	StepAwaitingTitleConfirm       Step = "awaiting_title_confirm"
	StepAwaitingDescription        Step = "awaiting_description"
	StepAwaitingDescriptionConfirm Step = "awaiting_description_confirm"
	StepAwaitingTags               Step = "awaiting_tags"
	StepAwaitingTagsConfirm        Step = "awaiting_tags_confirm"
	StepAwaitingFinalConfirm       Step = "awaiting_final_confirm"
	StepPublishing                 Step = "publishing"
	StepDiscarding                 Step = "discarding"
)

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	switch s {
	case StepIdle, StepAwaitingTitle, StepAwaitingTitleConfirm,
		StepAwaitingDescription, StepAwaitingDescriptionConfirm,
		StepAwaitingTags, StepAwaitingTagsConfirm, StepAwaitingFinalConfirm,
		StepPublishing, StepDiscarding:
		return true
	}
	return false
}

// Terminal reports whether s is one of the transient terminal steps entered
// while the publish or discard pipeline runs.
func (s Step) Terminal() bool {
	return s == StepPublishing || s == StepDiscarding
}

// Submission is a voice message being described and published. A row exists
// only while the submission is open; it is deleted after a successful
// publish or an explicit discard.
type Submission struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Identifier   string `gorm:"size:64;not null;uniqueIndex"`
	ChannelID    string `gorm:"size:128;not null;index:idx_slot"`
	ThreadID     string `gorm:"size:128;index:idx_slot"`
	Title        string `gorm:"type:text"`
	Description  string `gorm:"type:text"`
	Tags         string `gorm:"type:text"` // comma-joined, see TagList
	FilePath     string `gorm:"size:512"`
	Duration     int    `gorm:"not null"`
	MimeType     string `gorm:"size:64;not null"`
	FileID       string `gorm:"size:256;not null"`
	FileUniqueID string `gorm:"size:128;not null"`
	FileSize     int64  `gorm:"not null"`
	Published    bool   `gorm:"default:false;index"`
	Step         Step   `gorm:"size:32;default:idle;index"`

	// Publish pipeline progress markers.
	Transcoded bool `gorm:"default:false"`
	Uploaded   bool `gorm:"default:false"`
	Cleaned    bool `gorm:"default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TagList splits the stored tags back into their ordered list.
func (s *Submission) TagList() []string {
	if s.Tags == "" {
		return nil
	}
	return strings.Split(s.Tags, ",")
}
