package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/archivebot/internal/models"
)

func fixedNow() time.Time { return time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC) }

func TestNew_RequiresKeys(t *testing.T) {
	if _, err := New(ClientOpts{Access: "a"}); err == nil {
		t.Fatal("expected error without secret")
	}
}

func TestMetadataFor(t *testing.T) {
	c, _ := New(ClientOpts{Access: "a", Secret: "s", Podcast: "Atareao", Creator: "atareao", Now: fixedNow})
	rec := &models.Submission{Title: "Hola", Description: "Desc", Tags: "linux,podcast"}
	m := c.MetadataFor(rec)

	if m.Collection != DefaultCollection || m.MediaType != "audio" {
		t.Errorf("collection/mediatype = %q/%q", m.Collection, m.MediaType)
	}
	if m.Date != "2024-03-09" {
		t.Errorf("Date = %q, want 2024-03-09", m.Date)
	}
	if len(m.Subjects) != 2 || m.Subjects[1] != "podcast" {
		t.Errorf("Subjects = %v", m.Subjects)
	}
	if m.Podcast != "Atareao" || m.Creator != "atareao" {
		t.Errorf("podcast/creator = %q/%q", m.Podcast, m.Creator)
	}
}

func TestMetadata_Headers(t *testing.T) {
	m := Metadata{
		Title:      "Episodio único",
		Subjects:   []string{"linux", "código"},
		Collection: "opensource_audio",
		MediaType:  "audio",
		Date:       "2024-03-09",
	}
	h := m.Headers()
	if got := h.Get("x-archive-meta-title"); got != "uri(Episodio%20%C3%BAnico)" {
		t.Errorf("title header = %q", got)
	}
	if got := h.Get("x-archive-meta-collection"); got != "opensource_audio" {
		t.Errorf("collection header = %q", got)
	}
	if got := h.Get("x-archive-meta01-subject"); got != "linux" {
		t.Errorf("subject 1 = %q", got)
	}
	if got := h.Get("x-archive-meta02-subject"); !strings.HasPrefix(got, "uri(") {
		t.Errorf("subject 2 = %q, want uri() encoding", got)
	}
	if _, ok := h[http.CanonicalHeaderKey("x-archive-meta-description")]; ok {
		t.Error("empty description should be omitted")
	}
}

func TestUpload(t *testing.T) {
	var gotPath, gotAuth, gotTitle, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.Header.Get("x-archive-meta-title")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		if r.Header.Get("x-amz-auto-make-bucket") != "1" {
			t.Error("missing x-amz-auto-make-bucket")
		}
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "file_1.mp3")
	os.WriteFile(path, []byte("ID3-data"), 0o644)

	c, _ := New(ClientOpts{Endpoint: srv.URL, Access: "AK", Secret: "SK", Now: fixedNow})
	rec := &models.Submission{Identifier: "abc123", Title: "Hola"}
	if err := c.Upload(context.Background(), rec, path); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if gotPath != "/abc123/file_1.mp3" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "LOW AK:SK" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotTitle != "Hola" || gotBody != "ID3-data" {
		t.Errorf("title=%q body=%q", gotTitle, gotBody)
	}
}

func TestUpload_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "<Error><Code>SlowDown</Code></Error>")
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "f.mp3")
	os.WriteFile(path, []byte("x"), 0o644)
	c, _ := New(ClientOpts{Endpoint: srv.URL, Access: "a", Secret: "s"})
	err := c.Upload(context.Background(), &models.Submission{Identifier: "id"}, path)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "SlowDown") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestUpload_MissingFile(t *testing.T) {
	c, _ := New(ClientOpts{Access: "a", Secret: "s"})
	err := c.Upload(context.Background(), &models.Submission{Identifier: "id"}, filepath.Join(t.TempDir(), "nope.mp3"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestItemURL(t *testing.T) {
	if got := ItemURL("abc"); got != "https://archive.org/details/abc" {
		t.Errorf("ItemURL = %q", got)
	}
}
