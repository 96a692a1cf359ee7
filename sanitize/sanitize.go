// Package sanitize cleans user-supplied override values before they are
// stored. Every function is total: bad input degrades to the empty value.
package sanitize

import (
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

var octets = regexp.MustCompile(`%[a-fA-F0-9]{2}`)

// Line returns s as a single line of plain text: markup removed,
// whitespace collapsed, trimmed. Used for titles and headings.
func Line(s string) string {
	text, ok := plain(s)
	if !ok {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

// Block returns s as plain text that may span lines. Markup is removed,
// runs of spaces and tabs collapse within a line, line breaks survive.
func Block(s string) string {
	text, ok := plain(s)
	if !ok {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n ")
}

// BoolFlag returns "1" only for the exact sentinel "1", otherwise "0".
func BoolFlag(v string) string {
	if v == "1" {
		return "1"
	}
	return "0"
}

// plain strips tags and percent-encoded octets. Script and style bodies are
// dropped along with their tags.
func plain(s string) (string, bool) {
	if !utf8.ValidString(s) {
		return "", false
	}
	if !strings.ContainsAny(s, "<&") {
		return octets.ReplaceAllString(s, ""), true
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := ""
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return "", false
			}
			return octets.ReplaceAllString(b.String(), ""), true
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skip = tag
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == skip {
				skip = ""
			}
		case html.TextToken:
			if skip == "" {
				b.Write(z.Text())
			}
		}
	}
}
