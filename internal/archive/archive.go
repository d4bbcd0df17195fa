// Package archive uploads audio to the Internet Archive through its
// S3-compatible API. Each submission becomes one item named by its
// identifier.
package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/zulandar/archivebot/internal/models"
	"go.uber.org/zap"
)

// Defaults for item metadata.
const (
	DefaultEndpoint   = "https://s3.us.archive.org"
	DefaultCollection = "opensource_audio"
	MediaType         = "audio"
)

// Uploader publishes a local file for a submission.
type Uploader interface {
	Upload(ctx context.Context, rec *models.Submission, path string) error
}

// Metadata is the item metadata sent with an upload.
type Metadata struct {
	Title       string
	Description string
	Subjects    []string
	Collection  string
	MediaType   string
	Date        string // YYYY-MM-DD
	Podcast     string
	Creator     string
}

// Client is an Uploader for the Internet Archive S3 API.
type Client struct {
	endpoint   string
	access     string
	secret     string
	collection string
	podcast    string
	creator    string
	http       *http.Client
	now        func() time.Time
	log        *zap.Logger
}

// Verify Client implements Uploader at compile time.
var _ Uploader = (*Client)(nil)

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	Endpoint   string // defaults to DefaultEndpoint
	Access     string
	Secret     string
	Collection string // defaults to DefaultCollection
	Podcast    string
	Creator    string
	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *zap.Logger
}

// New creates an Internet Archive client.
func New(opts ClientOpts) (*Client, error) {
	if opts.Access == "" || opts.Secret == "" {
		return nil, fmt.Errorf("archive: access and secret keys are required")
	}
	c := &Client{
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		access:     opts.Access,
		secret:     opts.Secret,
		collection: opts.Collection,
		podcast:    opts.Podcast,
		creator:    opts.Creator,
		http:       opts.HTTPClient,
		now:        opts.Now,
		log:        opts.Logger,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.collection == "" {
		c.collection = DefaultCollection
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Minute}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c, nil
}

// MetadataFor builds the item metadata for rec.
func (c *Client) MetadataFor(rec *models.Submission) Metadata {
	return Metadata{
		Title:       rec.Title,
		Description: rec.Description,
		Subjects:    rec.TagList(),
		Collection:  c.collection,
		MediaType:   MediaType,
		Date:        c.now().Format("2006-01-02"),
		Podcast:     c.podcast,
		Creator:     c.creator,
	}
}

// Upload PUTs the file at path into the item named rec.Identifier,
// creating the item if needed.
func (c *Client) Upload(ctx context.Context, rec *models.Submission, path string) error {
	if rec == nil || rec.Identifier == "" {
		return fmt.Errorf("archive: upload: identifier is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive: upload %s: %w", rec.Identifier, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("archive: upload %s: %w", rec.Identifier, err)
	}

	target := c.endpoint + "/" + url.PathEscape(rec.Identifier) + "/" + url.PathEscape(filepath.Base(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, f)
	if err != nil {
		return fmt.Errorf("archive: upload %s: %w", rec.Identifier, err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Authorization", "LOW "+c.access+":"+c.secret)
	req.Header.Set("Content-Type", "audio/mpeg")
	req.Header.Set("x-amz-auto-make-bucket", "1")
	req.Header.Set("x-archive-size-hint", strconv.FormatInt(info.Size(), 10))
	for k, vs := range c.MetadataFor(rec).Headers() {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("archive: upload %s: %w", rec.Identifier, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("archive: upload %s: status %d: %s", rec.Identifier, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	c.log.Info("archive: uploaded",
		zap.String("identifier", rec.Identifier),
		zap.String("file", filepath.Base(path)),
		zap.Int64("bytes", info.Size()),
		zap.Duration("took", time.Since(start)))
	return nil
}

// ItemURL returns the public details page for an identifier.
func ItemURL(identifier string) string {
	return "https://archive.org/details/" + identifier
}

// Headers encodes m as x-archive-meta headers. Repeated subjects use
// numbered header names.
func (m Metadata) Headers() http.Header {
	h := http.Header{}
	set := func(name, value string) {
		if value != "" {
			h.Set("x-archive-meta-"+name, encodeValue(value))
		}
	}
	set("mediatype", m.MediaType)
	set("collection", m.Collection)
	set("title", m.Title)
	set("description", m.Description)
	set("date", m.Date)
	set("podcast", m.Podcast)
	set("creator", m.Creator)
	for i, s := range m.Subjects {
		h.Set(fmt.Sprintf("x-archive-meta%02d-subject", i+1), encodeValue(s))
	}
	return h
}

// encodeValue wraps values that are not plain printable ASCII in the
// uri() form the archive decodes.
func encodeValue(v string) string {
	for _, r := range v {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return "uri(" + url.PathEscape(v) + ")"
		}
	}
	return v
}
