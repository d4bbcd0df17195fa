// Package slack implements transport.Transport for Slack using Socket Mode.
// Socket events are buffered and drained through Fetch.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/archivebot/internal/transport"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// questionBlockID tags the action block carrying question buttons.
	questionBlockID = "archivebot_question"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	AddReaction(name string, item slackapi.ItemRef) error
	GetFileInfo(fileID string, count, page int) (*slackapi.File, []slackapi.Comment, *slackapi.Paging, error)
	GetFile(downloadURL string, writer io.Writer) error
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Transport implements transport.Transport for Slack Socket Mode.
type Transport struct {
	client   slackClient
	socket   socketClient
	appToken string
	botToken string
	log      *zap.Logger
	queue    *transport.Queue

	mu           sync.Mutex
	botUserID    string
	connected    bool
	closed       bool
	cancelFunc   context.CancelFunc
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// Verify Transport implements transport.Transport at compile time.
var _ transport.Transport = (*Transport)(nil)

// TransportOpts holds parameters for creating a Slack Transport.
type TransportOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	Logger   *zap.Logger
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Transport.
func New(opts TransportOpts) (*Transport, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		client:       opts.Client,
		socket:       opts.Socket,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		log:          logger,
		queue:        transport.NewQueue(),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect authenticates and starts the Socket Mode event pump.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("slack: transport already closed")
	}
	if t.connected {
		return nil
	}

	if t.client == nil {
		api := slackapi.New(t.botToken, slackapi.OptionAppLevelToken(t.appToken))
		t.client = api
		t.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := t.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	t.botUserID = auth.UserID

	runCtx, cancel := context.WithCancel(ctx)
	t.cancelFunc = cancel
	go t.runWithReconnect(runCtx)
	go t.pumpEvents(runCtx)

	t.connected = true
	return nil
}

// Fetch drains buffered Socket Mode events.
func (t *Transport) Fetch(ctx context.Context, offset int64, timeout time.Duration) ([]transport.Event, error) {
	if err := t.ready("fetch"); err != nil {
		return nil, err
	}
	events, err := t.queue.Fetch(ctx, offset, timeout)
	if err != nil {
		return nil, transport.Wrap("fetch", err)
	}
	return events, nil
}

// SendMessage posts plain text, in the thread when one is given.
func (t *Transport) SendMessage(ctx context.Context, dest transport.Destination, text string) error {
	return t.post(ctx, "send message", dest, slackapi.MsgOptionText(text, false))
}

// SendQuestion posts text with a Block Kit button per option. The button
// value is the option label.
func (t *Transport) SendQuestion(ctx context.Context, dest transport.Destination, text string, options []string) error {
	return t.post(ctx, "send question", dest,
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionBlocks(buildQuestionBlocks(text, options)...),
	)
}

// SetReaction adds an emoji reaction to a message.
func (t *Transport) SetReaction(ctx context.Context, dest transport.Destination, messageID, emoji string) error {
	if err := t.ready("set reaction"); err != nil {
		return err
	}
	ref := slackapi.NewRefToMessage(dest.ChannelID, messageID)
	return transport.Wrap("set reaction", retryOnRateLimit(ctx, func() error {
		return t.client.AddReaction(emojiName(emoji), ref)
	}))
}

// SendChatAction is a no-op: bots cannot show activity indicators over
// Socket Mode.
func (t *Transport) SendChatAction(ctx context.Context, dest transport.Destination, action string) error {
	return t.ready("chat action")
}

// FileInfo looks up a shared file's private download URL.
func (t *Transport) FileInfo(ctx context.Context, fileID string) (transport.File, error) {
	if err := t.ready("file info"); err != nil {
		return transport.File{}, err
	}
	var f *slackapi.File
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		f, _, _, apiErr = t.client.GetFileInfo(fileID, 0, 0)
		return apiErr
	})
	if err != nil {
		return transport.File{}, transport.Wrap("file info", err)
	}
	url := f.URLPrivateDownload
	if url == "" {
		url = f.URLPrivate
	}
	return transport.File{ID: fileID, Path: f.Name, URL: url}, nil
}

// Download fetches a file with the bot token.
func (t *Transport) Download(ctx context.Context, f transport.File, dst string) error {
	if err := t.ready("download"); err != nil {
		return err
	}
	if f.URL == "" {
		return transport.Errorf("download", "file %s has no url", f.ID)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return transport.Wrap("download", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return transport.Wrap("download", err)
	}
	if err := t.client.GetFile(f.URL, out); err != nil {
		out.Close()
		return transport.Wrap("download", err)
	}
	return transport.Wrap("download", out.Close())
}

// Close stops the event pump and the queue.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.connected = false
	if t.cancelFunc != nil {
		t.cancelFunc()
	}
	t.queue.Close()
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (t *Transport) BotUserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botUserID
}

func (t *Transport) ready(op string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return transport.Errorf(op, "slack not connected")
	}
	return nil
}

func (t *Transport) post(ctx context.Context, op string, dest transport.Destination, options ...slackapi.MsgOption) error {
	if err := t.ready(op); err != nil {
		return err
	}
	if dest.ChannelID == "" {
		return transport.Errorf(op, "no channel specified")
	}
	if dest.ThreadID != "" {
		options = append(options, slackapi.MsgOptionTS(dest.ThreadID))
	}
	return transport.Wrap(op, retryOnRateLimit(ctx, func() error {
		_, _, postErr := t.client.PostMessage(dest.ChannelID, options...)
		return postErr
	}))
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error.
func (t *Transport) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < t.maxReconnect; attempt++ {
		err := t.socket.Run()
		if err == nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * t.baseBackoff
		if wait > t.maxBackoff {
			wait = t.maxBackoff
		}
		t.log.Warn("slack: socket mode disconnected, reconnecting",
			zap.Int("attempt", attempt+1), zap.Int("max_attempts", t.maxReconnect),
			zap.Duration("wait", wait), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	t.log.Error("slack: socket mode exhausted reconnection attempts", zap.Int("attempts", t.maxReconnect))
}

// pumpEvents reads Socket Mode events and queues the ones the bot handles.
func (t *Transport) pumpEvents(ctx context.Context) {
	events := t.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			t.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (t *Transport) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			t.socket.Ack(*evt.Request)
		}
		var payload json.RawMessage
		if evt.Request != nil {
			payload = evt.Request.Payload
		}
		t.handleEventsAPI(eventsAPIEvent, payload)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slackapi.InteractionCallback)
		if !ok {
			return
		}
		if evt.Request != nil {
			t.socket.Ack(*evt.Request)
		}
		t.handleInteraction(callback)

	case socketmode.EventTypeConnected:
		t.log.Info("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		t.log.Warn("slack: connection error", zap.Any("data", evt.Data))

	case socketmode.EventTypeDisconnect:
		t.log.Info("slack: server requested disconnect, will reconnect")
	}
}

// handleEventsAPI processes Events API callbacks.
func (t *Transport) handleEventsAPI(event slackevents.EventsAPIEvent, payload json.RawMessage) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		t.handleMessage(ev, payload)
	}
}

// sharedFiles is the subset of an event_callback envelope carrying files
// attached to a message.
type sharedFiles struct {
	Event struct {
		Files []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Mimetype string `json:"mimetype"`
			Size     int64  `json:"size"`
		} `json:"files"`
	} `json:"event"`
}

// handleMessage converts a Slack message event into a queued event.
func (t *Transport) handleMessage(ev *slackevents.MessageEvent, payload json.RawMessage) {
	t.mu.Lock()
	botID := t.botUserID
	t.mu.Unlock()
	if ev.User == botID || ev.BotID != "" {
		return
	}
	// Edits, deletes and joins carry subtypes; file uploads are kept.
	if ev.SubType != "" && ev.SubType != "file_share" {
		return
	}

	out := transport.Event{
		ChannelID: ev.Channel,
		ThreadID:  ev.ThreadTimeStamp,
		MessageID: ev.TimeStamp,
		UserName:  t.resolveUserName(ev.User),
		Text:      ev.Text,
	}
	if len(payload) > 0 {
		var env sharedFiles
		if err := json.Unmarshal(payload, &env); err != nil {
			t.log.Debug("slack: decode message files", zap.Error(err))
		}
		for _, f := range env.Event.Files {
			if strings.HasPrefix(f.Mimetype, "audio/") {
				out.Voice = &transport.Voice{
					FileID:       f.ID,
					FileUniqueID: f.ID,
					MimeType:     f.Mimetype,
					FileSize:     f.Size,
				}
				break
			}
		}
	}
	t.queue.Push(out)
}

// handleInteraction converts a block_actions button press into a queued event.
func (t *Transport) handleInteraction(cb slackapi.InteractionCallback) {
	if cb.Type != slackapi.InteractionTypeBlockActions {
		return
	}
	var action *slackapi.BlockAction
	for _, a := range cb.ActionCallback.BlockActions {
		if a != nil && a.BlockID == questionBlockID {
			action = a
			break
		}
	}
	if action == nil {
		return
	}
	t.queue.Push(transport.Event{
		ChannelID: cb.Channel.ID,
		ThreadID:  cb.Message.ThreadTimestamp,
		MessageID: cb.Message.Timestamp,
		UserName:  cb.User.Name,
		Callback:  &transport.Callback{ID: cb.TriggerID, Data: action.Value},
	})
}

// resolveUserName looks up a user's display name. Falls back to user ID.
func (t *Transport) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	user, err := t.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	return user.RealName
}

// buildQuestionBlocks renders text in a section followed by one button per
// option.
func buildQuestionBlocks(text string, options []string) []slackapi.Block {
	buttons := make([]slackapi.BlockElement, 0, len(options))
	for i, o := range options {
		label := slackapi.NewTextBlockObject(slackapi.PlainTextType, o, false, false)
		buttons = append(buttons, slackapi.NewButtonBlockElement(fmt.Sprintf("option_%d", i), o, label))
	}
	section := slackapi.NewSectionBlock(
		slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false), nil, nil)
	return []slackapi.Block{section, slackapi.NewActionBlock(questionBlockID, buttons...)}
}

// emojiNames maps the unicode emoji the dialogue uses to Slack short names.
var emojiNames = map[string]string{
	"👍": "thumbsup",
	"👎": "thumbsdown",
	"👉": "point_right",
}

func emojiName(emoji string) string {
	if name, ok := emojiNames[emoji]; ok {
		return name
	}
	return strings.Trim(emoji, ":")
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
