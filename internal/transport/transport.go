// Package transport defines the chat-platform boundary: a polled stream of
// inbound events and the outbound calls the dialogue makes. Platform
// implementations live in subpackages.
package transport

import (
	"context"
	"fmt"
	"time"
)

// Transport is the interface that platform-specific implementations must
// satisfy. Fetch is the only call expected to block for long.
type Transport interface {
	// Fetch returns events whose Sequence is >= offset, waiting up to
	// timeout for at least one to arrive. An empty batch is not an error.
	Fetch(ctx context.Context, offset int64, timeout time.Duration) ([]Event, error)

	// SendMessage posts plain text to dest.
	SendMessage(ctx context.Context, dest Destination, text string) error

	// SendQuestion posts text with one button per option. The pressed
	// option comes back as a Callback whose Data is the option label.
	SendQuestion(ctx context.Context, dest Destination, text string, options []string) error

	// SetReaction reacts to a previously received message.
	SetReaction(ctx context.Context, dest Destination, messageID, emoji string) error

	// SendChatAction shows a transient activity indicator such as
	// "upload_voice". Platforms without one treat it as a no-op.
	SendChatAction(ctx context.Context, dest Destination, action string) error

	// FileInfo resolves a transport file id to a downloadable reference.
	FileInfo(ctx context.Context, fileID string) (File, error)

	// Download copies the referenced file to dst on local disk.
	Download(ctx context.Context, f File, dst string) error

	// Close releases connections held by the transport.
	Close() error
}

// Chat actions understood by every transport.
const (
	ActionTyping      = "typing"
	ActionUploadVoice = "upload_voice"
)

// Destination addresses a channel and optional thread.
type Destination struct {
	ChannelID string
	ThreadID  string // empty for top-level
}

// File is a transport-side file reference returned by FileInfo.
type File struct {
	ID   string
	Path string // transport file path, or an absolute local path
	URL  string // direct download URL when the platform provides one
}

// Error wraps a failure talking to the messaging platform.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error for op with a formatted cause.
func Errorf(op, format string, args ...any) error {
	return &Error{Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap wraps err as an *Error for op. It returns nil for a nil err.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
