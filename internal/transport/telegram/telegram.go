// Package telegram implements transport.Transport over the Telegram Bot API
// using long-polled getUpdates.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/archivebot/internal/transport"
	"go.uber.org/zap"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// Client talks to the Bot API. It is safe for sequential use by one worker.
type Client struct {
	token  string
	apiURL string
	http   *http.Client
	log    *zap.Logger
}

// Verify Client implements transport.Transport at compile time.
var _ transport.Transport = (*Client)(nil)

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	Token      string
	APIURL     string       // defaults to DefaultAPIURL
	HTTPClient *http.Client // defaults to a client without a global timeout
	Logger     *zap.Logger
}

// New creates a Telegram client.
func New(opts ClientOpts) (*Client, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	apiURL := strings.TrimRight(opts.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{token: opts.Token, apiURL: apiURL, http: hc, log: logger}, nil
}

// apiResponse is the envelope every Bot API method returns.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// call POSTs params as JSON to method and decodes result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return transport.Wrap(method, err)
	}
	url := c.apiURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return transport.Wrap(method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return transport.Wrap(method, redact(err, c.token))
	}
	defer resp.Body.Close()

	var r apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return transport.Errorf(method, "decode response (status %d): %v", resp.StatusCode, err)
	}
	if !r.OK {
		return transport.Errorf(method, "api error %d: %s", r.ErrorCode, r.Description)
	}
	if out != nil && len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, out); err != nil {
			return transport.Errorf(method, "decode result: %v", err)
		}
	}
	return nil
}

// Fetch long-polls getUpdates.
func (c *Client) Fetch(ctx context.Context, offset int64, timeout time.Duration) ([]transport.Event, error) {
	params := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	events := make([]transport.Event, 0, len(updates))
	for _, u := range updates {
		ev := u.event()
		if u.CallbackQuery != nil {
			c.answerCallback(ctx, u.CallbackQuery.ID)
		}
		events = append(events, ev)
	}
	return events, nil
}

// answerCallback clears the button spinner. Failures only get logged.
func (c *Client) answerCallback(ctx context.Context, id string) {
	if err := c.call(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": id}, nil); err != nil {
		c.log.Debug("telegram: answer callback failed", zap.String("callback_id", id), zap.Error(err))
	}
}

// SendMessage calls sendMessage.
func (c *Client) SendMessage(ctx context.Context, dest transport.Destination, text string) error {
	params := destParams(dest)
	params["text"] = text
	return c.call(ctx, "sendMessage", params, nil)
}

// SendQuestion calls sendMessage with a one-row inline keyboard whose
// callback data is the option label.
func (c *Client) SendQuestion(ctx context.Context, dest transport.Destination, text string, options []string) error {
	row := make([]inlineButton, 0, len(options))
	for _, o := range options {
		row = append(row, inlineButton{Text: o, CallbackData: o})
	}
	params := destParams(dest)
	params["text"] = text
	params["reply_markup"] = map[string]any{"inline_keyboard": [][]inlineButton{row}}
	return c.call(ctx, "sendMessage", params, nil)
}

// SetReaction calls setMessageReaction with a single emoji.
func (c *Client) SetReaction(ctx context.Context, dest transport.Destination, messageID, emoji string) error {
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return transport.Errorf("setMessageReaction", "invalid message id %q", messageID)
	}
	params := map[string]any{
		"chat_id":    dest.ChannelID,
		"message_id": id,
		"reaction":   []map[string]string{{"type": "emoji", "emoji": emoji}},
	}
	return c.call(ctx, "setMessageReaction", params, nil)
}

// SendChatAction calls sendChatAction.
func (c *Client) SendChatAction(ctx context.Context, dest transport.Destination, action string) error {
	params := destParams(dest)
	params["action"] = action
	return c.call(ctx, "sendChatAction", params, nil)
}

// FileInfo calls getFile.
func (c *Client) FileInfo(ctx context.Context, fileID string) (transport.File, error) {
	var f struct {
		FileID   string `json:"file_id"`
		FilePath string `json:"file_path"`
	}
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &f); err != nil {
		return transport.File{}, err
	}
	if f.FilePath == "" {
		return transport.File{}, transport.Errorf("getFile", "no file_path for %s", fileID)
	}
	out := transport.File{ID: fileID, Path: f.FilePath}
	if !filepath.IsAbs(f.FilePath) {
		out.URL = c.apiURL + "/file/bot" + c.token + "/" + f.FilePath
	}
	return out, nil
}

// Download fetches f to dst. A local Bot API server reports absolute paths
// on its own disk; those are copied instead of downloaded.
func (c *Client) Download(ctx context.Context, f transport.File, dst string) error {
	if f.URL == "" {
		if !filepath.IsAbs(f.Path) {
			return transport.Errorf("download", "file %s has no download url", f.ID)
		}
		return copyFile(f.Path, dst)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return transport.Wrap("download", redact(err, c.token))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return transport.Wrap("download", redact(err, c.token))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return transport.Errorf("download", "status %d for %s", resp.StatusCode, f.Path)
	}
	return writeFile(dst, resp.Body)
}

// Close is a no-op; the HTTP client holds no long-lived connections of ours.
func (c *Client) Close() error { return nil }

func destParams(dest transport.Destination) map[string]any {
	params := map[string]any{"chat_id": dest.ChannelID}
	if dest.ThreadID != "" {
		if id, err := strconv.ParseInt(dest.ThreadID, 10, 64); err == nil {
			params["message_thread_id"] = id
		}
	}
	return params
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return transport.Wrap("download", err)
	}
	defer in.Close()
	return writeFile(dst, in)
}

func writeFile(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return transport.Wrap("download", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return transport.Wrap("download", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return transport.Wrap("download", err)
	}
	return transport.Wrap("download", out.Close())
}

// redact strips the bot token from URL errors.
func redact(err error, token string) error {
	msg := err.Error()
	if !strings.Contains(msg, token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(msg, token, "<token>"))
}
