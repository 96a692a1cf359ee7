// Package rewrite decides how category archive URLs are shaped when the
// category base segment is removed or restored. It makes no HTTP calls;
// the caller turns a Decision into a redirect or an internal re-dispatch.
package rewrite

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-slug"
)

// DefaultBase is the category base segment used when none is configured.
const DefaultBase = "category"

var feedNames = map[string]bool{"feed": true, "rdf": true, "rss": true, "rss2": true, "atom": true}

// CategoryLookup resolves a category slug. ok is false for unknown slugs.
type CategoryLookup interface {
	CategoryIDBySlug(ctx context.Context, slug string) (id int64, ok bool, err error)
}

// Action is what the caller should do with a request.
type Action int

const (
	// Pass leaves the request to the host.
	Pass Action = iota
	// Redirect answers with a 301 to Decision.Location.
	Redirect
	// Internal serves Decision.Location in place of the requested path.
	Internal
)

func (a Action) String() string {
	switch a {
	case Redirect:
		return "redirect"
	case Internal:
		return "internal"
	}
	return "pass"
}

// Decision is the outcome for one request path.
type Decision struct {
	Action     Action
	Location   string
	CategoryID int64
}

// Rewriter maps between /<base>/<slug>/ and /<slug>/ category URLs.
type Rewriter struct {
	Base       string
	Categories CategoryLookup
}

// New returns a Rewriter for base, falling back to DefaultBase.
func New(base string, categories CategoryLookup) *Rewriter {
	base = strings.Trim(base, "/")
	if base == "" {
		base = DefaultBase
	}
	return &Rewriter{Base: base, Categories: categories}
}

func (r *Rewriter) base() string {
	if b := strings.Trim(r.Base, "/"); b != "" {
		return b
	}
	return DefaultBase
}

// CategoryPath returns the archive path for slug. paged > 1 appends /page/N/.
func (r *Rewriter) CategoryPath(slugValue string, paged int, removeBase bool) string {
	return r.build(slugValue, suffix{paged: paged}, removeBase)
}

// RedirectPrefixed handles a request that still carries the base segment
// while base removal is enabled. Known categories redirect to the bare URL
// with pagination and feed suffixes kept.
func (r *Rewriter) RedirectPrefixed(ctx context.Context, path string) (Decision, error) {
	parts := segments(path)
	if len(parts) < 2 || parts[0] != r.base() {
		return Decision{}, nil
	}
	sfx, ok := parseSuffix(parts[2:])
	if !ok {
		return Decision{}, nil
	}
	id, found, err := r.lookup(ctx, parts[1])
	if err != nil || !found {
		return Decision{}, err
	}
	return Decision{Action: Redirect, Location: r.build(parts[1], sfx, true), CategoryID: id}, nil
}

// ResolveBare handles a request the host could not resolve whose first
// segment may be a category slug. With base removal enabled the request is
// rewritten internally to the prefixed path; otherwise it is redirected there.
func (r *Rewriter) ResolveBare(ctx context.Context, path string, removeBase bool) (Decision, error) {
	parts := segments(path)
	if len(parts) == 0 || parts[0] == r.base() {
		return Decision{}, nil
	}
	sfx, ok := parseSuffix(parts[1:])
	if !ok {
		return Decision{}, nil
	}
	id, found, err := r.lookup(ctx, parts[0])
	if err != nil || !found {
		return Decision{}, err
	}
	d := Decision{Action: Redirect, Location: r.build(parts[0], sfx, false), CategoryID: id}
	if removeBase {
		d.Action = Internal
	}
	return d, nil
}

func (r *Rewriter) lookup(ctx context.Context, candidate string) (int64, bool, error) {
	if r.Categories == nil || !slug.IsValid(candidate) {
		return 0, false, nil
	}
	id, ok, err := r.Categories.CategoryIDBySlug(ctx, candidate)
	if err != nil {
		return 0, false, fmt.Errorf("category lookup %q: %w", candidate, err)
	}
	return id, ok, nil
}

// IsFeed reports whether name is a feed suffix of an archive URL.
func IsFeed(name string) bool {
	return feedNames[name]
}

type suffix struct {
	paged int
	feed  string
}

func (r *Rewriter) build(slugValue string, s suffix, removeBase bool) string {
	var b strings.Builder
	b.WriteByte('/')
	if !removeBase {
		b.WriteString(r.base())
		b.WriteByte('/')
	}
	b.WriteString(slugValue)
	b.WriteByte('/')
	switch {
	case s.feed != "":
		b.WriteString(s.feed)
		b.WriteByte('/')
	case s.paged > 1:
		b.WriteString("page/")
		b.WriteString(strconv.Itoa(s.paged))
		b.WriteByte('/')
	}
	return b.String()
}

// parseSuffix accepts the tails a category archive can have: nothing,
// page/N, a feed name, or feed/<name>.
func parseSuffix(tail []string) (suffix, bool) {
	switch len(tail) {
	case 0:
		return suffix{}, true
	case 1:
		if feedNames[tail[0]] {
			return suffix{feed: tail[0]}, true
		}
	case 2:
		if tail[0] == "page" {
			n, err := strconv.Atoi(tail[1])
			if err != nil || n < 0 {
				return suffix{}, false
			}
			return suffix{paged: n}, true
		}
		if tail[0] == "feed" && feedNames[tail[1]] {
			return suffix{feed: "feed/" + tail[1]}, true
		}
	}
	return suffix{}, false
}

func segments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
