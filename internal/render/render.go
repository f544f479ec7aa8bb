// Package render turns a request body into the HTML handed to notifiers.
// It runs before a task is scheduled; stored bodies are already rendered.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

var ErrUnknownFormat = errors.New("unknown body format")

type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

func New() *Renderer {
	return &Renderer{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: bluemonday.UGCPolicy(),
		strict: bluemonday.StrictPolicy(),
	}
}

// Body renders src according to format. The empty format means HTML.
// HTML output is always sanitised.
func (r *Renderer) Body(format Format, src string) (string, error) {
	switch format {
	case "", FormatHTML:
		return r.policy.Sanitize(src), nil
	case FormatMarkdown:
		var buf bytes.Buffer
		if err := r.md.Convert([]byte(src), &buf); err != nil {
			return "", fmt.Errorf("convert markdown: %w", err)
		}
		return r.policy.Sanitize(buf.String()), nil
	case FormatText:
		paras := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n\n")
		var b strings.Builder
		for _, p := range paras {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			b.WriteString("<p>")
			b.WriteString(strings.ReplaceAll(html.EscapeString(p), "\n", "<br>"))
			b.WriteString("</p>\n")
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

var (
	blockEnd  = regexp.MustCompile(`(?i)</(p|h[1-6]|li|div|tr|blockquote|pre)>|<br\s*/?>`)
	blankRuns = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
)

// PlainText strips all markup from an HTML body, for text/plain alternatives.
// Block boundaries become line breaks.
func (r *Renderer) PlainText(body string) string {
	body = blockEnd.ReplaceAllString(body, "$0\n")
	text := html.UnescapeString(r.strict.Sanitize(body))
	return strings.TrimSpace(blankRuns.ReplaceAllString(text, "\n\n"))
}
