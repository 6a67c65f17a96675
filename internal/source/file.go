package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/uhmm/internal/model"
)

// File replays a transcript, one fragment per line. A leading "~" marks a
// partial fragment and a leading "[name]" sets the speaker. Blank lines
// and lines starting with "#" are skipped. Partials are snapshots of the
// utterance in progress: the next line replaces them.
type File struct {
	r         io.Reader
	sessionID string
	interval  time.Duration
	now       func() time.Time
}

// NewFile creates a source reading from r. interval paces the fragments.
func NewFile(r io.Reader, sessionID string, interval time.Duration) *File {
	if sessionID == "" {
		sessionID = "replay"
	}
	return &File{r: r, sessionID: sessionID, interval: interval, now: time.Now}
}

// OpenFile opens path, or stdin for "-"
func OpenFile(path string, interval time.Duration) (*File, io.Closer, error) {
	if path == "-" {
		return NewFile(os.Stdin, "stdin", interval), io.NopCloser(nil), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open transcript: %w", err)
	}
	return NewFile(f, path, interval), f, nil
}

// Run feeds every line to sink and ends the session at EOF
func (f *File) Run(ctx context.Context, sink Sink) error {
	scanner := bufio.NewScanner(f.r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	first := true
	for scanner.Scan() {
		frag, ok := f.parse(scanner.Text())
		if !ok {
			continue
		}

		if !first && f.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.interval):
			}
		}
		first = false

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink.Ingest(ctx, frag); err != nil {
			return fmt.Errorf("ingest line: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	return sink.EndSession(ctx, f.sessionID)
}

func (f *File) parse(line string) (model.TranscriptFragment, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return model.TranscriptFragment{}, false
	}

	frag := model.TranscriptFragment{
		SessionID:       f.sessionID,
		IsFinal:         true,
		Cumulative:      true,
		SourceTimestamp: f.now(),
	}
	if rest, ok := strings.CutPrefix(line, "~"); ok {
		frag.IsFinal = false
		line = strings.TrimSpace(rest)
	}
	if strings.HasPrefix(line, "[") {
		if end := strings.IndexByte(line, ']'); end > 1 {
			frag.Speaker = strings.TrimSpace(line[1:end])
			line = strings.TrimSpace(line[end+1:])
		}
	}
	frag.Text = line
	return frag, line != ""
}
