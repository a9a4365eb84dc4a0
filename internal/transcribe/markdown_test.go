package transcribe

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatEntryMarkdown(t *testing.T) {
	e := Entry{
		Start: 65 * time.Second,
		End:   70*time.Second + 400*time.Millisecond,
		Text:  "  Hello world. ",
	}
	assert.Equal(t, "**[00:01:05 - 00:01:10]** Hello world.", e.FormatMarkdown())
}

func TestFormatEntryWithLanguageAndWarning(t *testing.T) {
	e := Entry{Start: time.Hour, End: time.Hour + time.Second, Text: "안녕", Language: "korean", Warning: "low confidence"}
	assert.Equal(t, "**[01:00:00 - 01:00:01]** 안녕 _(korean)_\n> low confidence", e.FormatMarkdown())
}

func TestWriteMarkdownSkipsEmptyEntries(t *testing.T) {
	var b strings.Builder
	entries := []Entry{
		{ChunkID: "a", Start: 0, End: 5 * time.Second, Text: "first"},
		{ChunkID: "b", Start: 5 * time.Second, End: 10 * time.Second},
		{ChunkID: "c", Start: 10 * time.Second, End: 12 * time.Second, Text: "third"},
	}

	require.NoError(t, WriteMarkdown(&b, "Transcript", entries))

	want := "# Transcript\n\n" +
		"**[00:00:00 - 00:00:05]** first\n\n" +
		"**[00:00:10 - 00:00:12]** third\n\n"
	assert.Equal(t, want, b.String())
}
