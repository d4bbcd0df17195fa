package transport

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Sent is one outbound call recorded by Mock.
type Sent struct {
	Kind      string // "message", "question", "reaction", "action"
	Dest      Destination
	Text      string
	Options   []string
	MessageID string
}

// Mock implements Transport for testing. Fetch serves events queued with
// Enqueue; outbound calls are recorded and can be made to fail.
type Mock struct {
	mu        sync.Mutex
	events    []Event
	sent      []Sent
	files     map[string]File
	content   map[string][]byte
	fetchErr  error
	sendErr   error
	dlErr     error
	fetches   []int64
	closed    bool
	nextSeq   int64
	downloads int
}

// NewMock creates an empty Mock.
func NewMock() *Mock {
	return &Mock{
		files:   make(map[string]File),
		content: make(map[string][]byte),
	}
}

// Enqueue adds events for Fetch. Events without a Sequence get the next
// number in order.
func (m *Mock) Enqueue(events ...Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		if e.Sequence == 0 {
			e.Sequence = m.nextSeq
		}
		if e.Sequence >= m.nextSeq {
			m.nextSeq = e.Sequence + 1
		}
		m.events = append(m.events, e)
	}
}

// AddFile registers a downloadable file under fileID.
func (m *Mock) AddFile(fileID, path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[fileID] = File{ID: fileID, Path: path}
	m.content[fileID] = data
}

// FailFetch makes subsequent Fetch calls return err (nil to clear).
func (m *Mock) FailFetch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// FailSend makes subsequent outbound calls return err (nil to clear).
func (m *Mock) FailSend(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// FailDownload makes subsequent Download calls write half of the content
// to dst and then return err (nil to clear).
func (m *Mock) FailDownload(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlErr = err
}

// Fetch returns queued events with Sequence >= offset. It never waits.
func (m *Mock) Fetch(ctx context.Context, offset int64, timeout time.Duration) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches = append(m.fetches, offset)
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	var out []Event
	for _, e := range m.events {
		if e.Sequence >= offset {
			out = append(out, e)
		}
	}
	return out, nil
}

// SendMessage records a plain message.
func (m *Mock) SendMessage(ctx context.Context, dest Destination, text string) error {
	return m.record(Sent{Kind: "message", Dest: dest, Text: text})
}

// SendQuestion records a question with its options.
func (m *Mock) SendQuestion(ctx context.Context, dest Destination, text string, options []string) error {
	opts := append([]string(nil), options...)
	return m.record(Sent{Kind: "question", Dest: dest, Text: text, Options: opts})
}

// SetReaction records a reaction.
func (m *Mock) SetReaction(ctx context.Context, dest Destination, messageID, emoji string) error {
	return m.record(Sent{Kind: "reaction", Dest: dest, Text: emoji, MessageID: messageID})
}

// SendChatAction records a chat action.
func (m *Mock) SendChatAction(ctx context.Context, dest Destination, action string) error {
	return m.record(Sent{Kind: "action", Dest: dest, Text: action})
}

// FileInfo returns the file registered with AddFile.
func (m *Mock) FileInfo(ctx context.Context, fileID string) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return File{}, Errorf("get file", "unknown file %q", fileID)
	}
	return f, nil
}

// Download writes the registered content of f to dst.
func (m *Mock) Download(ctx context.Context, f File, dst string) error {
	m.mu.Lock()
	data, ok := m.content[f.ID]
	dlErr := m.dlErr
	m.downloads++
	m.mu.Unlock()
	if !ok {
		return Errorf("download", "unknown file %q", f.ID)
	}
	if dlErr != nil {
		if err := os.WriteFile(dst, data[:len(data)/2], 0o644); err != nil {
			return Wrap("download", err)
		}
		return Wrap("download", dlErr)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return Wrap("download", err)
	}
	return nil
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Mock) record(s Sent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock transport: closed")
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, s)
	return nil
}

// --- Test helpers ---

// AllSent returns a copy of every recorded outbound call.
func (m *Mock) AllSent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}

// Texts returns the text of recorded messages and questions, in order.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.Kind == "message" || s.Kind == "question" {
			out = append(out, s.Text)
		}
	}
	return out
}

// LastSent returns the most recent outbound call.
func (m *Mock) LastSent() (Sent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Sent{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// Reset forgets recorded outbound calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// FetchOffsets returns the offset passed to each Fetch call.
func (m *Mock) FetchOffsets() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.fetches...)
}

// Downloads returns how many times Download was called.
func (m *Mock) Downloads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloads
}
