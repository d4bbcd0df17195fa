// Package media converts voice recordings to the archival audio format by
// running ffmpeg as a subprocess.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// OutputExt is the extension of transcoded files.
const OutputExt = ".mp3"

// maxStderr bounds how much ffmpeg stderr is kept for error reports.
const maxStderr = 2048

// Transcoder converts the audio file at in to out.
type Transcoder interface {
	Convert(ctx context.Context, in, out string) error
}

// FFmpeg is a Transcoder invoking the ffmpeg binary.
type FFmpeg struct {
	Binary  string // defaults to "ffmpeg"
	Bitrate string // e.g. "128k"; empty lets ffmpeg pick
}

// Verify FFmpeg implements Transcoder at compile time.
var _ Transcoder = (*FFmpeg)(nil)

// Args returns the ffmpeg command line, without the binary, for in -> out.
func (f *FFmpeg) Args(in, out string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", in, "-vn", "-codec:a", "libmp3lame"}
	if f.Bitrate != "" {
		args = append(args, "-b:a", f.Bitrate)
	}
	return append(args, out)
}

// Convert runs ffmpeg and verifies that out was produced.
func (f *FFmpeg) Convert(ctx context.Context, in, out string) error {
	if _, err := os.Stat(in); err != nil {
		return fmt.Errorf("media: convert: input: %w", err)
	}
	binary := f.Binary
	if binary == "" {
		binary = "ffmpeg"
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, f.Args(in, out)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[len(msg)-maxStderr:]
		}
		if msg != "" {
			return fmt.Errorf("media: convert %s: %w: %s", filepath.Base(in), err, msg)
		}
		return fmt.Errorf("media: convert %s: %w", filepath.Base(in), err)
	}

	info, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("media: convert %s: output: %w", filepath.Base(in), err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("media: convert %s: output %s is empty", filepath.Base(in), out)
	}
	return nil
}

// OutputPath returns the sibling output file for in, with the extension
// replaced by OutputExt.
func OutputPath(in string) string {
	return strings.TrimSuffix(in, filepath.Ext(in)) + OutputExt
}
