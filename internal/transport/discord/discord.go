// Package discord implements transport.Transport for Discord using the
// Gateway WebSocket. Gateway events are buffered and drained through Fetch.
package discord

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/archivebot/internal/transport"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// maxCustomID is Discord's limit on button custom ids.
	maxCustomID = 100
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	return r.s.State.Channel(channelID)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	return r.s.MessageReactionAdd(channelID, messageID, emojiID, options...)
}
func (r *realSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelTyping(channelID, options...)
}
func (r *realSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return r.s.InteractionRespond(interaction, resp, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// attachment is a voice file seen on an inbound message.
type attachment struct {
	url      string
	filename string
}

// Transport implements transport.Transport for Discord.
type Transport struct {
	sess     session
	botToken string
	http     *http.Client
	log      *zap.Logger
	queue    *transport.Queue

	mu        sync.Mutex
	botUserID string
	connected bool
	closed    bool
	files     map[string]attachment // key: attachment ID
	removers  []func()

	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Verify Transport implements transport.Transport at compile time.
var _ transport.Transport = (*Transport)(nil)

// TransportOpts holds parameters for creating a Discord Transport.
type TransportOpts struct {
	BotToken   string
	HTTPClient *http.Client // used for attachment downloads
	Logger     *zap.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Transport.
func New(opts TransportOpts) (*Transport, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		http:        hc,
		log:         logger,
		queue:       transport.NewQueue(),
		files:       make(map[string]attachment),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Connect opens the Gateway connection and registers event handlers.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("discord: transport already closed")
	}
	if t.connected {
		return nil
	}

	if t.sess == nil {
		dg, err := discordgo.New("Bot " + t.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		t.sess = &realSession{s: dg}
	}

	t.removers = append(t.removers,
		t.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			t.mu.Lock()
			t.botUserID = r.User.ID
			t.mu.Unlock()
			t.log.Info("discord: connected", zap.String("user", r.User.Username), zap.String("user_id", r.User.ID))
		}),
		t.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
			t.log.Warn("discord: gateway disconnected, discordgo will auto-reconnect")
		}),
		t.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			t.handleMessage(m)
		}),
		t.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			t.handleInteraction(i)
		}),
	)

	if err := t.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	t.connected = true
	return nil
}

// Fetch drains buffered Gateway events.
func (t *Transport) Fetch(ctx context.Context, offset int64, timeout time.Duration) ([]transport.Event, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	events, err := t.queue.Fetch(ctx, offset, timeout)
	if err != nil {
		return nil, transport.Wrap("fetch", err)
	}
	return events, nil
}

// SendMessage posts plain text.
func (t *Transport) SendMessage(ctx context.Context, dest transport.Destination, text string) error {
	return t.send(ctx, "send message", dest, &discordgo.MessageSend{Content: text})
}

// SendQuestion posts text with a row of buttons whose custom id is the
// option label.
func (t *Transport) SendQuestion(ctx context.Context, dest transport.Destination, text string, options []string) error {
	return t.send(ctx, "send question", dest, buildQuestion(text, options))
}

// SetReaction adds a reaction to a message.
func (t *Transport) SetReaction(ctx context.Context, dest transport.Destination, messageID, emoji string) error {
	channelID, err := t.target("set reaction", dest)
	if err != nil {
		return err
	}
	return transport.Wrap("set reaction", t.retryOnRateLimit(ctx, func() error {
		return t.sess.MessageReactionAdd(channelID, messageID, emoji)
	}))
}

// SendChatAction shows the typing indicator; Discord has no other actions.
func (t *Transport) SendChatAction(ctx context.Context, dest transport.Destination, action string) error {
	channelID, err := t.target("chat action", dest)
	if err != nil {
		return err
	}
	return transport.Wrap("chat action", t.sess.ChannelTyping(channelID))
}

// FileInfo resolves an attachment seen on an earlier message.
func (t *Transport) FileInfo(ctx context.Context, fileID string) (transport.File, error) {
	t.mu.Lock()
	att, ok := t.files[fileID]
	t.mu.Unlock()
	if !ok {
		return transport.File{}, transport.Errorf("file info", "unknown attachment %s", fileID)
	}
	return transport.File{ID: fileID, Path: att.filename, URL: att.url}, nil
}

// Download fetches an attachment from the Discord CDN.
func (t *Transport) Download(ctx context.Context, f transport.File, dst string) error {
	if f.URL == "" {
		return transport.Errorf("download", "attachment %s has no url", f.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return transport.Wrap("download", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return transport.Wrap("download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return transport.Errorf("download", "status %d for attachment %s", resp.StatusCode, f.ID)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return transport.Wrap("download", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return transport.Wrap("download", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return transport.Wrap("download", err)
	}
	return transport.Wrap("download", out.Close())
}

// Close shuts down the Gateway connection and the event queue.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.connected = false
	for _, remove := range t.removers {
		remove()
	}
	t.queue.Close()
	if t.sess != nil {
		return t.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (t *Transport) BotUserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (t *Transport) SetBotUserID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.botUserID = id
}

func (t *Transport) ready() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return transport.Errorf("fetch", "discord not connected")
	}
	return nil
}

// target picks the channel to post to. In Discord, threads are channels.
func (t *Transport) target(op string, dest transport.Destination) (string, error) {
	if err := t.ready(); err != nil {
		return "", transport.Errorf(op, "discord not connected")
	}
	channelID := dest.ThreadID
	if channelID == "" {
		channelID = dest.ChannelID
	}
	if channelID == "" {
		return "", transport.Errorf(op, "no channel specified")
	}
	return channelID, nil
}

func (t *Transport) send(ctx context.Context, op string, dest transport.Destination, data *discordgo.MessageSend) error {
	channelID, err := t.target(op, dest)
	if err != nil {
		return err
	}
	return transport.Wrap(op, t.retryOnRateLimit(ctx, func() error {
		_, sendErr := t.sess.ChannelMessageSendComplex(channelID, data)
		return sendErr
	}))
}

// resolveChannel maps a message channel to (parent channel, thread). A
// message's ChannelID is the thread ID when it was sent inside a thread.
func (t *Transport) resolveChannel(channelID string) (string, string) {
	if ch, err := t.sess.Channel(channelID); err == nil && ch.IsThread() {
		return ch.ParentID, channelID
	}
	return channelID, ""
}

// handleMessage converts a MessageCreate into a queued event.
func (t *Transport) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	t.mu.Lock()
	botID := t.botUserID
	t.mu.Unlock()
	if m.Author.ID == botID || m.Author.Bot {
		return
	}

	channelID, threadID := t.resolveChannel(m.ChannelID)
	ev := transport.Event{
		ChannelID: channelID,
		ThreadID:  threadID,
		MessageID: m.ID,
		UserName:  m.Author.Username,
		Text:      m.Content,
	}
	if att := audioAttachment(m.Attachments); att != nil {
		ev.Voice = &transport.Voice{
			FileID:       att.ID,
			FileUniqueID: att.ID,
			MimeType:     att.ContentType,
			FileSize:     int64(att.Size),
		}
		t.mu.Lock()
		t.files[att.ID] = attachment{url: att.URL, filename: att.Filename}
		t.mu.Unlock()
	}
	t.queue.Push(ev)
}

// handleInteraction converts a button press into a queued event and
// acknowledges it so Discord does not show an error to the user.
func (t *Transport) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}
	data := i.MessageComponentData()

	if err := t.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		t.log.Debug("discord: acknowledge interaction failed", zap.String("interaction_id", i.ID), zap.Error(err))
	}

	channelID, threadID := t.resolveChannel(i.ChannelID)
	ev := transport.Event{
		ChannelID: channelID,
		ThreadID:  threadID,
		Callback:  &transport.Callback{ID: i.ID, Data: data.CustomID},
	}
	if i.Message != nil {
		ev.MessageID = i.Message.ID
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		ev.UserName = i.Member.User.Username
	case i.User != nil:
		ev.UserName = i.User.Username
	}
	t.queue.Push(ev)
}

// audioAttachment returns the first audio attachment, or nil.
func audioAttachment(atts []*discordgo.MessageAttachment) *discordgo.MessageAttachment {
	for _, a := range atts {
		if a != nil && strings.HasPrefix(a.ContentType, "audio/") {
			return a
		}
	}
	return nil
}

// buildQuestion lays options out as buttons in a single action row.
func buildQuestion(text string, options []string) *discordgo.MessageSend {
	buttons := make([]discordgo.MessageComponent, 0, len(options))
	for _, o := range options {
		id := o
		if len(id) > maxCustomID {
			id = id[:maxCustomID]
		}
		buttons = append(buttons, discordgo.Button{
			Label:    o,
			Style:    discordgo.PrimaryButton,
			CustomID: id,
		})
	}
	return &discordgo.MessageSend{
		Content:    text,
		Components: []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}},
	}
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (t *Transport) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * t.baseBackoff
		if wait > t.maxBackoff {
			wait = t.maxBackoff
		}
		t.log.Warn("discord: rate limited, retrying",
			zap.Int("attempt", attempt+1), zap.Int("max_retries", maxRetries), zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
