// Package console renders the admin console: the tabbed dashboard, the
// entity list panes, the edit dialog and the login form. Pages are built
// from embedded html/template files and exposed as templ components; the
// embedded script drives tabs, lazy loading, counters and saving.
package console

import (
	"context"
	"embed"
	"html/template"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/a-h/templ"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/console.js
var Script []byte

var templates = template.Must(template.New("console").Funcs(template.FuncMap{
	"itoa": func(n int) string { return strconv.Itoa(n) },
}).ParseFS(templateFS, "templates/*.html"))

func component(name string, data any) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return templates.ExecuteTemplate(w, name, data)
	})
}

// Counter thresholds. A count above Warn is shown as a warning, above
// Danger as too long.
const (
	TitleWarn         = 50
	TitleDanger       = 60
	DescriptionWarn   = 150
	DescriptionDanger = 160
)

// Tier is the color band of a character counter.
type Tier string

const (
	TierNormal Tier = "normal"
	TierWarn   Tier = "warn"
	TierDanger Tier = "danger"
)

func tier(n, warn, danger int) Tier {
	switch {
	case n > danger:
		return TierDanger
	case n > warn:
		return TierWarn
	}
	return TierNormal
}

// TitleTier returns the counter tier for a title of n characters.
func TitleTier(n int) Tier { return tier(n, TitleWarn, TitleDanger) }

// DescriptionTier returns the counter tier for a description of n characters.
func DescriptionTier(n int) Tier { return tier(n, DescriptionWarn, DescriptionDanger) }

// Counter is the initial state of a character counter.
type Counter struct {
	Count  int
	Tier   Tier
	Warn   int
	Danger int
}

// TitleCounter counts s as a title.
func TitleCounter(s string) Counter {
	n := utf8.RuneCountInString(s)
	return Counter{Count: n, Tier: TitleTier(n), Warn: TitleWarn, Danger: TitleDanger}
}

// DescriptionCounter counts s as a meta description.
func DescriptionCounter(s string) Counter {
	n := utf8.RuneCountInString(s)
	return Counter{Count: n, Tier: DescriptionTier(n), Warn: DescriptionWarn, Danger: DescriptionDanger}
}

// PageLink is one control in a pagination bar.
type PageLink struct {
	Label    string
	Page     int
	Current  bool
	Ellipsis bool
}

// PaginationWindow returns the pagination controls for page current of
// total: previous, the first and last pages, current±2, an ellipsis at
// current±3, and next. A single page needs no controls.
func PaginationWindow(current, total int) []PageLink {
	if total <= 1 {
		return nil
	}
	current = min(max(current, 1), total)
	var links []PageLink
	if current > 1 {
		links = append(links, PageLink{Label: "← Previous", Page: current - 1})
	}
	for i := 1; i <= total; i++ {
		switch {
		case i == current:
			links = append(links, PageLink{Label: strconv.Itoa(i), Page: i, Current: true})
		case i == 1 || i == total || (i >= current-2 && i <= current+2):
			links = append(links, PageLink{Label: strconv.Itoa(i), Page: i})
		case i == current-3 || i == current+3:
			links = append(links, PageLink{Label: "...", Ellipsis: true})
		}
	}
	if current < total {
		links = append(links, PageLink{Label: "Next →", Page: current + 1})
	}
	return links
}

// Tab is one console tab.
type Tab struct {
	Key    string
	Label  string
	Kind   string
	Active bool
}

var tabs = []Tab{
	{Key: "homepage", Label: "Homepage", Kind: "homepage"},
	{Key: "articles", Label: "Articles", Kind: "post"},
	{Key: "categories", Label: "Categories", Kind: "category"},
	{Key: "tags", Label: "Tags", Kind: "tag"},
	{Key: "pages", Label: "Pages", Kind: "page"},
}

// DefaultTab is shown when the tab query parameter is missing or unknown.
const DefaultTab = "homepage"

// ActiveTab validates the tab query parameter.
func ActiveTab(q string) string {
	for _, t := range tabs {
		if t.Key == q {
			return q
		}
	}
	return DefaultTab
}

// Tabs returns the tab bar with active marked.
func Tabs(active string) []Tab {
	active = ActiveTab(active)
	out := make([]Tab, len(tabs))
	copy(out, tabs)
	for i := range out {
		out[i].Active = out[i].Key == active
	}
	return out
}

// TabForKind returns the tab key listing entities of kind.
func TabForKind(kind string) string {
	for _, t := range tabs {
		if t.Kind == kind {
			return t.Key
		}
	}
	return DefaultTab
}

// ShowsHeadingField reports whether the edit dialog offers an H1 field for
// entities of kind. Only taxonomy archives have an overridable heading.
func ShowsHeadingField(kind string) bool {
	return kind == "category" || kind == "tag"
}

// SaveAction returns the Admin API action that saves overrides of kind.
func SaveAction(kind string) string {
	switch kind {
	case "post":
		return "save_article_seo"
	case "page":
		return "save_page_seo"
	case "category":
		return "save_category_seo"
	case "tag":
		return "save_tag_seo"
	}
	return ""
}

// IDField returns the form field carrying the entity id for kind.
func IDField(kind string) string {
	if kind == "category" || kind == "tag" {
		return "term_id"
	}
	return "post_id"
}

// Endpoints are the URLs the script talks to.
type Endpoints struct {
	Ajax   string
	List   string
	Edit   string
	Script string
	Logout string
}

// HomepageForm is the homepage tab's form state.
type HomepageForm struct {
	PageTitle          string
	MetaDescription    string
	H1Text             string
	EnableCanonical    bool
	RemoveCategoryBase bool

	DefaultPageTitle       string
	DefaultMetaDescription string
	DefaultH1Text          string
}

// DashboardData feeds the dashboard page.
type DashboardData struct {
	SiteName  string
	SiteURL   string
	CSRF      string
	Endpoints Endpoints
	Tabs      []Tab
	Active    string
	Homepage  HomepageForm
}

type dashboardView struct {
	DashboardData
	TitleCounter       Counter
	DescriptionCounter Counter
	ListTabs           []Tab
}

// Dashboard renders the full console page.
func Dashboard(d DashboardData) templ.Component {
	if d.Active == "" {
		d.Active = DefaultTab
	}
	if d.Tabs == nil {
		d.Tabs = Tabs(d.Active)
	}
	var list []Tab
	for _, t := range d.Tabs {
		if t.Key != "homepage" {
			list = append(list, t)
		}
	}
	return component("dashboard.html", dashboardView{
		DashboardData:      d,
		TitleCounter:       TitleCounter(d.Homepage.PageTitle),
		DescriptionCounter: DescriptionCounter(d.Homepage.MetaDescription),
		ListTabs:           list,
	})
}

// Row is one entity in a list pane.
type Row struct {
	ID                int64
	Title             string
	Slug              string
	URL               string
	Status            string
	CustomTitle       string
	CustomDescription string
	CustomH1          string
	LastUpdated       string
}

// Stats is the coverage summary shown above post and page lists.
type Stats struct {
	Total  int
	Custom int
}

// ListData feeds a list pane.
type ListData struct {
	Tab         string
	Kind        string
	Rows        []Row
	CurrentPage int
	TotalPages  int
	TotalItems  int
	Search      string
	Stats       *Stats
}

type listView struct {
	ListData
	Pages       []PageLink
	ShowHeading bool
}

// List renders one page of a list pane.
func List(d ListData) templ.Component {
	return component("list.html", listView{
		ListData:    d,
		Pages:       PaginationWindow(d.CurrentPage, d.TotalPages),
		ShowHeading: ShowsHeadingField(d.Kind),
	})
}

// EditData feeds the edit dialog.
type EditData struct {
	Kind        string
	ID          int64
	Name        string
	URL         string
	Title       string
	Description string
	H1          string
	SiteName    string
}

type editView struct {
	EditData
	Tab                string
	SaveAction         string
	IDField            string
	ShowHeading        bool
	TitleCounter       Counter
	DescriptionCounter Counter
	PreviewTitle       string
}

// Edit renders the edit dialog for one entity.
func Edit(d EditData) templ.Component {
	preview := d.Title
	if preview == "" {
		preview = d.Name
		if d.SiteName != "" {
			preview += " - " + d.SiteName
		}
	}
	return component("edit.html", editView{
		EditData:           d,
		Tab:                TabForKind(d.Kind),
		SaveAction:         SaveAction(d.Kind),
		IDField:            IDField(d.Kind),
		ShowHeading:        ShowsHeadingField(d.Kind),
		TitleCounter:       TitleCounter(d.Title),
		DescriptionCounter: DescriptionCounter(d.Description),
		PreviewTitle:       preview,
	})
}

type loginView struct {
	ShowError bool
	CSRF      string
}

// Login renders the admin login form.
func Login(showError bool, csrf string) templ.Component {
	return component("login.html", loginView{ShowError: showError, CSRF: csrf})
}
