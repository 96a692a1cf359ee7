package seocontrol

import (
	"context"
	"encoding/xml"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type rssXML struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description,omitempty"`
	PubDate     string `xml:"pubDate,omitempty"`
	GUID        string `xml:"guid"`
}

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// overridesFor loads the stored overrides of entities, grouped by kind.
// Lookup failures are logged and yield no overrides.
func (a *App) overridesFor(ctx context.Context, entities []Entity) map[EntityRef]OverrideRecord {
	ids := make(map[EntityKind][]int64)
	for _, e := range entities {
		ids[e.Kind] = append(ids[e.Kind], e.ID)
	}
	out := make(map[EntityRef]OverrideRecord, len(entities))
	for kind, list := range ids {
		recs, err := a.Store.GetOverrides(ctx, kind, list)
		if err != nil {
			a.Log.WithError(err).WithField("kind", kind).Warn("Could not load overrides for feed")
			continue
		}
		for id, rec := range recs {
			out[Ref(kind, id)] = rec
		}
	}
	return out
}

// renderRSS writes posts as an RSS 2.0 feed. Items carry the custom meta
// description when one is stored.
func (a *App) renderRSS(c echo.Context, title, link, description string, posts []Entity) error {
	ctx := c.Request().Context()
	overrides := a.overridesFor(ctx, posts)
	items := make([]rssItem, 0, len(posts))
	for _, p := range posts {
		postURL := a.Service.permalink(ctx, p)
		item := rssItem{
			Title:       p.Title,
			Link:        postURL,
			Description: overrides[Ref(p.Kind, p.ID)].Description,
			GUID:        postURL,
		}
		if !p.Date.IsZero() {
			item.PubDate = p.Date.Format(time.RFC1123Z)
		}
		items = append(items, item)
	}
	return writeXML(c, "application/rss+xml; charset=utf-8", rssXML{
		Version: "2.0",
		Channel: rssChannel{Title: title, Link: link, Description: description, Items: items},
	})
}

// renderSitemap lists the front page and every entity. Category URLs follow
// the current base removal setting, and lastmod moves forward when an
// override was saved after publication.
func (a *App) renderSitemap(c echo.Context, entities []Entity) error {
	ctx := c.Request().Context()
	overrides := a.overridesFor(ctx, entities)
	urls := []sitemapURL{{Loc: BuildURL(a.Config.URL, "/")}}
	for _, e := range entities {
		mod := e.Date
		if rec, ok := overrides[Ref(e.Kind, e.ID)]; ok && rec.UpdatedAt.After(mod) {
			mod = rec.UpdatedAt
		}
		u := sitemapURL{Loc: a.Service.permalink(ctx, e)}
		if !mod.IsZero() {
			u.LastMod = mod.Format("2006-01-02")
		}
		urls = append(urls, u)
	}
	return writeXML(c, "application/xml; charset=utf-8", sitemapURLSet{
		XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs:  urls,
	})
}

func writeXML(c echo.Context, contentType string, v any) error {
	c.Response().Header().Set(echo.HeaderContentType, contentType)
	c.Response().WriteHeader(http.StatusOK)
	if _, err := c.Response().Write([]byte(xml.Header)); err != nil {
		return err
	}
	return xml.NewEncoder(c.Response()).Encode(v)
}
