package transcribe

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Entry is one chunk's line in a transcript document.
type Entry struct {
	ChunkID  string
	Start    time.Duration
	End      time.Duration
	Text     string
	Language string
	Warning  string
}

func (e Entry) FormatMarkdown() string {
	line := fmt.Sprintf("**[%s - %s]** %s", clock(e.Start), clock(e.End), strings.TrimSpace(e.Text))
	if e.Language != "" {
		line += fmt.Sprintf(" _(%s)_", e.Language)
	}
	if e.Warning != "" {
		line += fmt.Sprintf("\n> %s", e.Warning)
	}
	return line
}

// WriteMarkdown renders entries in the given order under a heading. Entries
// with neither text nor warning are skipped.
func WriteMarkdown(w io.Writer, title string, entries []Entry) error {
	if _, err := fmt.Fprintf(w, "# %s\n\n", title); err != nil {
		return fmt.Errorf("write transcript heading: %w", err)
	}
	for _, e := range entries {
		if strings.TrimSpace(e.Text) == "" && e.Warning == "" {
			continue
		}
		if _, err := fmt.Fprintln(w, e.FormatMarkdown()); err != nil {
			return fmt.Errorf("write transcript entry %s: %w", e.ChunkID, err)
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return fmt.Errorf("write transcript entry %s: %w", e.ChunkID, err)
		}
	}
	return nil
}

func clock(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%02d:%02d:%02d", h, m, d/time.Second)
}
