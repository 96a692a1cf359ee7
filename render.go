package seocontrol

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"github.com/eringen/seocontrol/substitute"
)

const pageContextKey = "seocontrol.page"

// Render writes a templ component as an HTTP 200 HTML response.
func Render(c echo.Context, cmp templ.Component) error {
	return RenderStatus(c, http.StatusOK, cmp)
}

// RenderStatus writes a templ component with a specific HTTP status code.
func RenderStatus(c echo.Context, code int, cmp templ.Component) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(code)
	return cmp.Render(c.Request().Context(), c.Response().Writer)
}

// SetPage marks the current request as rendering page. Only marked
// requests are rewritten by RenderMiddleware.
func SetPage(c echo.Context, page PageContext) {
	c.Set(pageContextKey, page)
}

// PageFrom returns the page set by SetPage.
func PageFrom(c echo.Context) (PageContext, bool) {
	p, ok := c.Get(pageContextKey).(PageContext)
	return p, ok
}

// bufferedWriter holds the response body until the handler returns.
// Headers go straight to the wrapped writer's header map.
type bufferedWriter struct {
	http.ResponseWriter
	code int
	buf  bytes.Buffer
}

func (w *bufferedWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.buf.Write(b)
}

func (w *bufferedWriter) Flush() {}

// RenderMiddleware buffers HTML responses of pages marked with SetPage,
// runs the pre-render and post-render hooks on them and writes the result.
// When the page cache is enabled, finished pages are served from it.
func (a *App) RenderMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return next(c)
			}
			cacheKey := req.Host + req.URL.RequestURI()
			if a.Pages != nil && req.Method == http.MethodGet && !IsAdmin(c) {
				if p, ok := a.Pages.Get(cacheKey); ok {
					return writeCached(c, p)
				}
			}

			res := c.Response()
			orig := res.Writer
			bw := &bufferedWriter{ResponseWriter: orig}
			res.Writer = bw
			err := next(c)
			res.Writer = orig

			if !res.Committed && bw.buf.Len() == 0 {
				return err
			}
			code := bw.code
			if code == 0 {
				code = http.StatusOK
			}
			body := bw.buf.Bytes()

			page, marked := PageFrom(c)
			if marked && err == nil && code == http.StatusOK && isHTML(orig.Header()) {
				if perr := a.Hooks.PreRender(c, &page); perr != nil {
					a.Log.WithError(perr).Warn("Pre-render hook failed")
				}
				out, rerr := a.Hooks.PostRender(c, page, body)
				if rerr != nil {
					a.Log.WithError(rerr).WithField("uri", req.RequestURI).Warn("Post-render hook failed, serving host output")
				}
				body = out
				if a.Pages != nil && req.Method == http.MethodGet && !IsAdmin(c) {
					hdr := orig.Header().Clone()
					hdr.Del("Set-Cookie")
					a.Pages.Set(cacheKey, CachedPage{Status: code, Header: hdr, Body: append([]byte(nil), body...)})
				}
			}

			orig.Header().Del(echo.HeaderContentLength)
			orig.WriteHeader(code)
			if _, werr := orig.Write(body); werr != nil && err == nil {
				err = werr
			}
			return err
		}
	}
}

func writeCached(c echo.Context, p CachedPage) error {
	h := c.Response().Header()
	for k, v := range p.Header {
		h[k] = append([]string(nil), v...)
	}
	h.Set("X-Cache", "HIT")
	return c.Blob(p.Status, h.Get(echo.HeaderContentType), p.Body)
}

func isHTML(h http.Header) bool {
	return strings.HasPrefix(h.Get(echo.HeaderContentType), echo.MIMETextHTML)
}

// substitutePage is the App's post-render handler.
func (a *App) substitutePage(c echo.Context, page PageContext, doc []byte) ([]byte, error) {
	edits := a.resolveEdits(c.Request().Context(), page)
	return substitute.Apply(doc, edits)
}

// resolveEdits maps a page to the override values that replace the host's
// output. Lookup failures are logged and leave the host output untouched.
func (a *App) resolveEdits(ctx context.Context, page PageContext) substitute.Edits {
	var e substitute.Edits
	home, err := a.Overrides.Homepage(ctx)
	if err != nil {
		a.Log.WithError(err).Warn("Could not load homepage settings for render")
	}

	if ref, ok := page.Ref(); ok {
		switch {
		case ref.Kind == KindHomepage:
			e.Title, e.Description, e.Heading = home.PageTitle, home.MetaDescription, home.H1Text
		default:
			rec, found, err := a.Overrides.Override(ctx, ref)
			if err != nil {
				a.Log.WithError(err).WithField("entity", ref.String()).Warn("Could not load override for render")
			} else if found {
				e.Title, e.Description = rec.Title, rec.Description
				if ref.Kind.AllowsH1() {
					e.Heading = rec.H1
				}
			}
		}
	}

	if page.Kind.Archive() && home.EnableCanonical.Enabled(true) {
		e.Canonical = a.canonicalURL(page)
	}
	return e
}

// canonicalURL returns the canonical link for a listing page. Paginated
// views point at their own page URL.
func (a *App) canonicalURL(page PageContext) string {
	base := page.ArchiveURL
	if base == "" && (page.Kind == PageFrontPage || page.Kind == PageBlogIndex) {
		base = BuildURL(a.Config.URL, "/")
	}
	if base == "" {
		return ""
	}
	return PagedURL(base, page.Paged)
}

// fillArchiveURL is the App's pre-render handler. It derives the archive
// URL of category and tag pages the host did not provide one for.
func (a *App) fillArchiveURL(c echo.Context, page *PageContext) error {
	if page.ArchiveURL != "" || (page.Kind != PageCategory && page.Kind != PageTag) {
		return nil
	}
	ref, ok := page.Ref()
	if !ok {
		return nil
	}
	ctx := c.Request().Context()
	e, err := a.content.EntityByID(ctx, ref)
	if err != nil {
		return err
	}
	page.ArchiveURL = a.Service.permalink(ctx, e)
	return nil
}
