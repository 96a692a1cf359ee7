package seocontrol

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"strconv"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"github.com/eringen/seocontrol/rewrite"
)

// sitePageSize is the number of posts per listing page of the bundled site.
const sitePageSize = 10

//go:embed templates/*.html
var siteTemplates embed.FS

var siteTemplate = template.Must(template.ParseFS(siteTemplates, "templates/*.html"))

type siteLink struct {
	Title string
	URL   string
	Date  string
}

// sitePage is what the bundled site renders before overrides are applied.
type sitePage struct {
	SiteName    string
	HomeURL     string
	Title       string
	Description string
	Heading     string
	Date        string
	FeedURL     string
	Listing     bool
	Items       []siteLink
	PrevURL     string
	NextURL     string
}

func (p sitePage) component() templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return siteTemplate.ExecuteTemplate(w, "site.html", p)
	})
}

func (a *App) registerSiteRoutes() {
	e := a.Echo
	base := "/" + a.Rewriter.Base + "/:slug/"

	e.GET("/", a.handleHome)
	e.GET("/page/:n/", a.handleHome)
	e.GET("/feed/", a.handleFeed)
	e.GET("/sitemap.xml", a.handleSitemap)
	e.GET(base, a.handleCategory)
	e.GET(base+"page/:n/", a.handleCategory)
	e.GET(base+":feed/", a.handleCategoryFeed)
	e.GET(base+"feed/:feed/", a.handleCategoryFeed)
	e.GET("/tag/:slug/", a.handleTag)
	e.GET("/tag/:slug/page/:n/", a.handleTag)
	e.GET("/:slug/", a.handleSingle)
}

func (a *App) newSitePage() sitePage {
	return sitePage{
		SiteName: a.Config.SiteName,
		HomeURL:  BuildURL(a.Config.URL, "/"),
		FeedURL:  BuildURL(a.Config.URL, "feed"),
	}
}

// pageParam reads the :n route parameter. Missing means page 1.
func pageParam(c echo.Context) (int, bool) {
	raw := c.Param("n")
	if raw == "" {
		return 1, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil && n >= 1
}

func (a *App) links(ctx context.Context, posts []Entity) []siteLink {
	out := make([]siteLink, 0, len(posts))
	for _, p := range posts {
		l := siteLink{Title: p.Title, URL: a.Service.permalink(ctx, p)}
		if !p.Date.IsZero() {
			l.Date = p.Date.Format("2006-01-02")
		}
		out = append(out, l)
	}
	return out
}

// renderListing renders page n of a post listing at archiveURL, or 404 when
// n is past the last page.
func (a *App) renderListing(c echo.Context, p sitePage, ctx PageContext, posts []Entity, total int) error {
	pages := max((total+sitePageSize-1)/sitePageSize, 1)
	n := max(ctx.Paged, 1)
	if n > pages {
		return echo.ErrNotFound
	}
	p.Listing = true
	p.Items = a.links(c.Request().Context(), posts)
	if n > 1 {
		p.PrevURL = PagedURL(ctx.ArchiveURL, n-1)
	}
	if n < pages {
		p.NextURL = PagedURL(ctx.ArchiveURL, n+1)
	}
	SetPage(c, ctx)
	return Render(c, p.component())
}

func (a *App) handleHome(c echo.Context) error {
	n, ok := pageParam(c)
	if !ok {
		return echo.ErrNotFound
	}
	posts, total, err := a.Store.ListEntities(c.Request().Context(), KindPost, ContentQuery{
		Offset: (n - 1) * sitePageSize,
		Limit:  sitePageSize,
	})
	if err != nil {
		return err
	}
	p := a.newSitePage()
	p.Title = defaultPageTitle(a.Config)
	p.Description = a.Config.Tagline
	p.Heading = a.Config.SiteName
	return a.renderListing(c, p, PageContext{Kind: PageFrontPage, Paged: n, ArchiveURL: p.HomeURL}, posts, total)
}

func (a *App) handleTermArchive(c echo.Context, kind EntityKind, pk PageKind) error {
	n, ok := pageParam(c)
	if !ok {
		return echo.ErrNotFound
	}
	ctx := c.Request().Context()
	term, err := a.Store.EntityBySlug(ctx, kind, c.Param("slug"))
	if errors.Is(err, ErrNotFound) {
		return echo.ErrNotFound
	}
	if err != nil {
		return err
	}
	posts, total, err := a.Store.PostsInTerm(ctx, term.ID, ContentQuery{
		Offset: (n - 1) * sitePageSize,
		Limit:  sitePageSize,
	})
	if err != nil {
		return err
	}
	p := a.newSitePage()
	p.Title = term.Title + " - " + a.Config.SiteName
	p.Heading = term.Title
	archive := a.Service.permalink(ctx, term)
	if kind == KindCategory {
		p.FeedURL = archive + "feed/"
	}
	return a.renderListing(c, p, PageContext{Kind: pk, ID: term.ID, Paged: n, ArchiveURL: archive}, posts, total)
}

func (a *App) handleCategory(c echo.Context) error {
	return a.handleTermArchive(c, KindCategory, PageCategory)
}

func (a *App) handleTag(c echo.Context) error {
	return a.handleTermArchive(c, KindTag, PageTag)
}

// handleSingle serves a post or, failing that, a page. Unknown slugs are
// left to the category rewriter as 404s.
func (a *App) handleSingle(c echo.Context) error {
	ctx := c.Request().Context()
	slugValue := c.Param("slug")
	for _, kind := range []EntityKind{KindPost, KindPage} {
		e, err := a.Store.EntityBySlug(ctx, kind, slugValue)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		p := a.newSitePage()
		p.Title = e.Title + " - " + a.Config.SiteName
		p.Heading = e.Title
		if !e.Date.IsZero() {
			p.Date = e.Date.Format("2006-01-02")
		}
		pk := PageSingle
		if kind == KindPage {
			pk = PagePage
		}
		SetPage(c, PageContext{Kind: pk, ID: e.ID})
		return Render(c, p.component())
	}
	return echo.ErrNotFound
}

func (a *App) handleFeed(c echo.Context) error {
	posts, _, err := a.Store.ListEntities(c.Request().Context(), KindPost, ContentQuery{Limit: sitePageSize})
	if err != nil {
		return err
	}
	return a.renderRSS(c, a.Config.SiteName, BuildURL(a.Config.URL, "/"), a.Config.Tagline, posts)
}

func (a *App) handleCategoryFeed(c echo.Context) error {
	if !rewrite.IsFeed(c.Param("feed")) {
		return echo.ErrNotFound
	}
	ctx := c.Request().Context()
	term, err := a.Store.EntityBySlug(ctx, KindCategory, c.Param("slug"))
	if errors.Is(err, ErrNotFound) {
		return echo.ErrNotFound
	}
	if err != nil {
		return err
	}
	posts, _, err := a.Store.PostsInTerm(ctx, term.ID, ContentQuery{Limit: sitePageSize})
	if err != nil {
		return err
	}
	return a.renderRSS(c, term.Title+" - "+a.Config.SiteName, a.Service.permalink(ctx, term), "", posts)
}

func (a *App) handleSitemap(c echo.Context) error {
	ctx := c.Request().Context()
	var all []Entity
	for _, kind := range []EntityKind{KindPost, KindPage, KindCategory, KindTag} {
		items, _, err := a.Store.ListEntities(ctx, kind, ContentQuery{})
		if err != nil {
			return err
		}
		all = append(all, items...)
	}
	return a.renderSitemap(c, all)
}
