package transport

import "strings"

// Event is one inbound update, already decoded from the platform's wire
// format. Sequence is monotonically increasing per transport.
type Event struct {
	Sequence  int64
	ChannelID string
	ThreadID  string // empty if top-level or unknown
	MessageID string
	UserName  string
	Text      string
	Voice     *Voice
	Callback  *Callback
}

// Voice carries the attachment fields captured at record creation.
type Voice struct {
	FileID       string
	FileUniqueID string
	Duration     int
	MimeType     string
	FileSize     int64
}

// Callback is a button press on a previously sent question.
type Callback struct {
	ID   string
	Data string
}

// Kind is the classified shape of an event.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindVoice
	KindText
	KindButton
)

func (k Kind) String() string {
	switch k {
	case KindVoice:
		return "voice"
	case KindText:
		return "text"
	case KindButton:
		return "button"
	}
	return "unrecognized"
}

// Classify determines the shape of e. A button press wins over message
// content; a voice attachment wins over caption text.
func Classify(e Event) Kind {
	switch {
	case e.Callback != nil:
		return KindButton
	case e.Voice != nil && e.Voice.FileID != "":
		return KindVoice
	case strings.TrimSpace(e.Text) != "":
		return KindText
	}
	return KindUnrecognized
}
