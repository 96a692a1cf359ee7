package seocontrol

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// EntityKind names the kind of content an override belongs to.
type EntityKind string

const (
	KindHomepage EntityKind = "homepage"
	KindPost     EntityKind = "post"
	KindPage     EntityKind = "page"
	KindCategory EntityKind = "category"
	KindTag      EntityKind = "tag"
)

// EntityKinds lists every kind that can carry an override, homepage first.
var EntityKinds = []EntityKind{KindHomepage, KindPost, KindPage, KindCategory, KindTag}

// Valid reports whether k is one of the known kinds.
func (k EntityKind) Valid() bool {
	return slices.Contains(EntityKinds, k)
}

// IsTerm reports whether k is a taxonomy term (category or tag).
func (k EntityKind) IsTerm() bool {
	return k == KindCategory || k == KindTag
}

// AllowsH1 reports whether overrides of this kind may carry a heading.
func (k EntityKind) AllowsH1() bool {
	return k == KindHomepage || k.IsTerm()
}

// ParseEntityKind maps a kind name (or one of the console tab aliases) to a kind.
func ParseEntityKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "homepage", "home":
		return KindHomepage, nil
	case "post", "posts", "article", "articles":
		return KindPost, nil
	case "page", "pages":
		return KindPage, nil
	case "category", "categories":
		return KindCategory, nil
	case "tag", "tags":
		return KindTag, nil
	}
	return "", fmt.Errorf("%w: unknown entity kind %q", ErrInvalidInput, s)
}

// EntityRef identifies the entity an override belongs to. The homepage is a
// singleton and always has ID 0.
type EntityRef struct {
	Kind EntityKind
	ID   int64
}

// HomepageRef is the reference of the singleton homepage entity.
var HomepageRef = EntityRef{Kind: KindHomepage}

// Ref builds an EntityRef.
func Ref(kind EntityKind, id int64) EntityRef {
	if kind == KindHomepage {
		return HomepageRef
	}
	return EntityRef{Kind: kind, ID: id}
}

// String returns the natural key, e.g. "post:42" or "homepage".
func (r EntityRef) String() string {
	if r.Kind == KindHomepage {
		return string(KindHomepage)
	}
	return string(r.Kind) + ":" + strconv.FormatInt(r.ID, 10)
}

// OverrideRecord holds the per-entity values that replace computed metadata.
type OverrideRecord struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	H1          string    `json:"h1_text,omitempty"`
	UpdatedAt   time.Time `json:"-"`
}

// HasOverride reports whether any field allowed for kind is set.
func (r OverrideRecord) HasOverride(kind EntityKind) bool {
	if r.Title != "" || r.Description != "" {
		return true
	}
	return kind.AllowsH1() && r.H1 != ""
}

// normalize drops fields the kind does not support.
func (r OverrideRecord) normalize(kind EntityKind) OverrideRecord {
	if !kind.AllowsH1() {
		r.H1 = ""
	}
	return r
}

// Flag is the persisted form of a boolean setting: "1", "0", or unset.
type Flag string

const (
	FlagOn    Flag = "1"
	FlagOff   Flag = "0"
	FlagUnset Flag = ""
)

// FlagOf converts a bool to its persisted form.
func FlagOf(b bool) Flag {
	if b {
		return FlagOn
	}
	return FlagOff
}

// Enabled returns the flag value, or def when the flag was never stored.
func (f Flag) Enabled(def bool) bool {
	switch f {
	case FlagOn:
		return true
	case FlagOff:
		return false
	}
	return def
}

// UnmarshalJSON accepts the string sentinels as well as JSON booleans and
// numbers written by older tools.
func (f *Flag) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*f = FlagUnset
	case bool:
		*f = FlagOf(t)
	case float64:
		*f = FlagOf(t == 1)
	case string:
		switch t {
		case "":
			*f = FlagUnset
		case "1":
			*f = FlagOn
		default:
			*f = FlagOff
		}
	default:
		return fmt.Errorf("flag: unexpected JSON value %s", data)
	}
	return nil
}

// HomepageSettings is the singleton site-wide settings record.
type HomepageSettings struct {
	PageTitle          string    `json:"page_title"`
	MetaDescription    string    `json:"meta_description"`
	H1Text             string    `json:"h1_text"`
	EnableCanonical    Flag      `json:"enable_canonical"`
	RemoveCategoryBase Flag      `json:"remove_category_base"`
	UpdatedAt          time.Time `json:"-"`
}

// Override projects the homepage settings onto an OverrideRecord.
func (h HomepageSettings) Override() OverrideRecord {
	return OverrideRecord{
		Title:       h.PageTitle,
		Description: h.MetaDescription,
		H1:          h.H1Text,
		UpdatedAt:   h.UpdatedAt,
	}
}

// PageKind classifies the view a host is rendering.
type PageKind int

const (
	PageOther PageKind = iota
	PageFrontPage
	PageBlogIndex
	PageSingle
	PagePage
	PageCategory
	PageTag
	PageTaxonomy
	PageAuthor
	PagePostTypeArchive
)

// Singular reports whether the view shows a single post or page.
func (k PageKind) Singular() bool {
	return k == PageSingle || k == PagePage
}

// Archive reports whether the view is a listing eligible for a canonical link.
func (k PageKind) Archive() bool {
	switch k {
	case PageFrontPage, PageBlogIndex, PageCategory, PageTag, PageTaxonomy, PageAuthor, PagePostTypeArchive:
		return true
	}
	return false
}

// PageContext describes the page a host handler is about to render.
type PageContext struct {
	Kind PageKind
	// ID of the post, page or term being rendered. Zero for index views.
	ID int64
	// ArchiveURL is the absolute URL of page 1 of a listing.
	ArchiveURL string
	// Paged is the 1-based page number of a listing (0 and 1 both mean page 1).
	Paged int
}

// Ref returns the override entity the page resolves to, if any.
func (p PageContext) Ref() (EntityRef, bool) {
	switch p.Kind {
	case PageFrontPage, PageBlogIndex:
		return HomepageRef, true
	case PageSingle:
		return Ref(KindPost, p.ID), p.ID > 0
	case PagePage:
		return Ref(KindPage, p.ID), p.ID > 0
	case PageCategory:
		return Ref(KindCategory, p.ID), p.ID > 0
	case PageTag:
		return Ref(KindTag, p.ID), p.ID > 0
	}
	return EntityRef{}, false
}

// Entity is a host content item (post, page or term) as listed in the console.
type Entity struct {
	ID    int64
	Kind  EntityKind
	Title string
	Slug  string
	Date  time.Time
}
