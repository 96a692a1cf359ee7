// Package substitute rewrites rendered HTML so that override values replace
// the host's computed title, meta description, canonical link and first
// top-level heading. The document is streamed through the x/net/html
// tokenizer; everything that is not edited is copied byte for byte.
package substitute

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Edits lists the values to substitute. Empty fields leave the document as is.
type Edits struct {
	Title       string
	Description string
	Heading     string
	Canonical   string
}

// Empty reports whether e would not change any document.
func (e Edits) Empty() bool {
	return e.Title == "" && e.Description == "" && e.Heading == "" && e.Canonical == ""
}

// Apply returns doc with e applied. Only the first <h1> of the document
// takes the heading, keeping its attributes. If the document cannot be tokenized the
// original bytes are returned together with the error.
func Apply(doc []byte, e Edits) ([]byte, error) {
	if e.Empty() {
		return doc, nil
	}
	return rewrite(doc, e)
}

func rewrite(doc []byte, e Edits) ([]byte, error) {
	var b bytes.Buffer
	b.Grow(len(doc) + 256)

	z := html.NewTokenizer(bytes.NewReader(doc))
	var titleSeen, descDone, canonDone, headDone, headingDone bool
	skipUntil := ""

	injectHead := func() {
		if headDone {
			return
		}
		headDone = true
		if e.Title != "" && !titleSeen {
			b.WriteString("<title>" + html.EscapeString(e.Title) + "</title>\n")
		}
		if e.Description != "" && !descDone {
			b.WriteString(`<meta name="description" content="` + html.EscapeString(e.Description) + "\">\n")
		}
		if e.Canonical != "" && !canonDone {
			b.WriteString(`<link rel="canonical" href="` + html.EscapeString(e.Canonical) + "\" />\n")
		}
	}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return doc, err
			}
			break
		}
		// TagName lowercases the underlying buffer, so keep a copy of the raw bytes.
		raw := append([]byte(nil), z.Raw()...)

		if skipUntil != "" {
			if tt == html.EndTagToken {
				if name, _ := z.TagName(); string(name) == skipUntil {
					skipUntil = ""
					b.Write(raw)
				}
			}
			continue
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "title":
				if headDone || tt == html.SelfClosingTagToken {
					b.Write(raw)
					continue
				}
				titleSeen = true
				b.Write(raw)
				if e.Title != "" {
					b.WriteString(html.EscapeString(e.Title))
					skipUntil = "title"
				}
			case "meta":
				if e.Description != "" && !descDone && strings.EqualFold(attr(tok, "name"), "description") {
					descDone = true
					b.WriteString(setAttr(tok, "content", e.Description).String())
					continue
				}
				b.Write(raw)
			case "link":
				if e.Canonical != "" && !canonDone && hasToken(attr(tok, "rel"), "canonical") {
					canonDone = true
					b.WriteString(setAttr(tok, "href", e.Canonical).String())
					continue
				}
				b.Write(raw)
			case "body":
				injectHead()
				b.Write(raw)
			case "h1":
				b.Write(raw)
				if e.Heading != "" && !headingDone && tt == html.StartTagToken {
					b.WriteString(html.EscapeString(e.Heading))
					headingDone = true
					skipUntil = "h1"
				}
			default:
				b.Write(raw)
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				injectHead()
			}
			b.Write(raw)
		default:
			b.Write(raw)
		}
	}
	return b.Bytes(), nil
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(tok html.Token, key, val string) html.Token {
	attrs := make([]html.Attribute, 0, len(tok.Attr)+1)
	found := false
	for _, a := range tok.Attr {
		if a.Key == key {
			a.Val = val
			found = true
		}
		attrs = append(attrs, a)
	}
	if !found {
		attrs = append(attrs, html.Attribute{Key: key, Val: val})
	}
	tok.Attr = attrs
	return tok
}

func hasToken(list, want string) bool {
	for _, f := range strings.Fields(list) {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}
