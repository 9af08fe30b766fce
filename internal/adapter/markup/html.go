package markup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipped elements contribute no text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Head:     true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Iframe:   true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Tr: true, atom.Table: true, atom.Section: true, atom.Article: true, atom.Header: true,
	atom.Footer: true, atom.Nav: true, atom.Pre: true, atom.Blockquote: true, atom.Hr: true,
	atom.Dt: true, atom.Dd: true, atom.Main: true, atom.Aside: true, atom.Figcaption: true,
}

// cells are separated by a space.
var cells = map[atom.Atom]bool{atom.Td: true, atom.Th: true}

// HTMLConverter renders HTML as plain text, one line per block element.
type HTMLConverter struct{}

func NewHTMLConverter() *HTMLConverter {
	return &HTMLConverter{}
}

func (c *HTMLConverter) Convert(ctx context.Context, markup []byte) (string, error) {
	z := html.NewTokenizer(bytes.NewReader(markup))

	var (
		sb    strings.Builder
		depth int
		n     int
	)
	for {
		// Large pages are checked for cancellation periodically.
		if n++; n%512 == 0 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}

		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return collapse(sb.String()), nil
			}
			return "", z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Body {
				// an unclosed <head> must not swallow the body
				depth = 0
			}
			if skipped[a] && tt == html.StartTagToken {
				depth++
			}
			if blocks[a] {
				sb.WriteByte('\n')
			} else if cells[a] {
				sb.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipped[a] && depth > 0 {
				depth--
			}
			if blocks[a] {
				sb.WriteByte('\n')
			}
		case html.TextToken:
			if depth > 0 {
				continue
			}
			sb.Write(z.Text())
		}
	}
}

// collapse squeezes whitespace inside lines and drops blank lines.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
