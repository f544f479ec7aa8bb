package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Body(t *testing.T) {
	t.Parallel()

	r := New()

	tests := []struct {
		name     string
		format   Format
		src      string
		contains []string
		absent   []string
	}{
		{
			name:     "html is sanitised",
			format:   FormatHTML,
			src:      `<p onclick="steal()">Hi <b>there</b></p><script>alert(1)</script>`,
			contains: []string{"<p>Hi <b>there</b></p>"},
			absent:   []string{"script", "onclick"},
		},
		{
			name:     "empty format means html",
			src:      `<em>ok</em>`,
			contains: []string{"<em>ok</em>"},
		},
		{
			name:     "markdown converts",
			format:   FormatMarkdown,
			src:      "# Invoice\n\nPlease pay **today**.\n\n- one\n- two",
			contains: []string{"<h1>Invoice</h1>", "<strong>today</strong>", "<li>one</li>"},
		},
		{
			name:     "markdown raw html is dropped",
			format:   FormatMarkdown,
			src:      "hello <script>alert(1)</script>",
			absent:   []string{"<script>"},
			contains: []string{"hello"},
		},
		{
			name:     "text is escaped into paragraphs",
			format:   FormatText,
			src:      "a < b\nline two\n\nsecond",
			contains: []string{"<p>a &lt; b<br>line two</p>", "<p>second</p>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := r.Body(tt.format, tt.src)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, got, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, got, s)
			}
		})
	}
}

func TestRenderer_UnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := New().Body("pdf", "x")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestRenderer_PlainText(t *testing.T) {
	t.Parallel()

	r := New()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"inline markup", "<p>Tom &amp; <b>Jerry</b> say hi</p>", "Tom & Jerry say hi"},
		{"adjacent paragraphs", "<p>Hello</p><p>World</p>", "Hello\nWorld"},
		{"line break", "one<br>two<BR/>three", "one\ntwo\nthree"},
		{"heading and list", "<h2>Agenda</h2><ul><li>a</li><li>b</li></ul>", "Agenda\na\nb"},
		{"markdown output", "<p>first</p>\n<p>second</p>\n", "first\n\nsecond"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, r.PlainText(tt.in))
		})
	}
}
