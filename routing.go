package seocontrol

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/eringen/seocontrol/rewrite"
)

type rewrittenKey struct{}

// IsRewritten reports whether the request is being served under an
// internally rewritten category path.
func IsRewritten(c echo.Context) bool {
	return RewrittenFrom(c) != ""
}

// RewrittenFrom returns the path the client asked for before an internal
// rewrite, or "".
func RewrittenFrom(c echo.Context) string {
	v, _ := c.Request().Context().Value(rewrittenKey{}).(string)
	return v
}

// resolveRoute is the App's route-resolve handler.
func (a *App) resolveRoute(ctx context.Context, r RouteRequest) (rewrite.Decision, error) {
	switch r.Phase {
	case BeforeHost:
		if !r.RemoveBase {
			return rewrite.Decision{}, nil
		}
		return a.Rewriter.RedirectPrefixed(ctx, r.Path)
	case AfterNotFound:
		return a.Rewriter.ResolveBare(ctx, r.Path, r.RemoveBase)
	}
	return rewrite.Decision{}, nil
}

// RouteMiddleware applies the category URL structure. With base removal on,
// prefixed category URLs are redirected to the bare form and bare URLs the
// host answers with 404 are served from the prefixed route. With it off,
// bare URLs that name a category are redirected to the prefixed form.
// An internally rewritten request is dispatched once and never rewritten
// again.
func (a *App) RouteMiddleware() echo.MiddlewareFunc {
	render := a.RenderMiddleware()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if IsRewritten(c) || (req.Method != http.MethodGet && req.Method != http.MethodHead) {
				return next(c)
			}
			ctx := req.Context()
			removeBase := false
			if h, err := a.Overrides.Homepage(ctx); err == nil {
				removeBase = h.RemoveCategoryBase.Enabled(false)
			} else {
				a.Log.WithError(err).Warn("Could not load homepage settings for routing")
			}
			path := req.URL.Path

			d, err := a.Hooks.ResolveRoute(ctx, RouteRequest{Path: path, Phase: BeforeHost, RemoveBase: removeBase})
			if err != nil {
				a.Log.WithError(err).WithField("path", path).Warn("Route resolve failed")
			} else if d.Action == rewrite.Redirect {
				return c.Redirect(http.StatusMovedPermanently, withQuery(d.Location, req.URL.RawQuery))
			}

			err = next(c)
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != http.StatusNotFound || c.Response().Committed {
				return err
			}

			d, rerr := a.Hooks.ResolveRoute(ctx, RouteRequest{Path: path, Phase: AfterNotFound, RemoveBase: removeBase})
			if rerr != nil {
				a.Log.WithError(rerr).WithField("path", path).Warn("Route resolve failed")
				return err
			}
			switch d.Action {
			case rewrite.Redirect:
				return c.Redirect(http.StatusMovedPermanently, withQuery(d.Location, req.URL.RawQuery))
			case rewrite.Internal:
				return a.dispatchInternal(c, d.Location, render)
			}
			return err
		}
	}
}

// dispatchInternal serves location in place of the current request path.
// The request context is marked so the rewrite happens at most once.
func (a *App) dispatchInternal(c echo.Context, location string, render echo.MiddlewareFunc) error {
	orig := c.Request()
	req := orig.Clone(context.WithValue(orig.Context(), rewrittenKey{}, orig.URL.Path))
	req.URL.Path = location
	req.URL.RawPath = ""
	c.SetRequest(req)
	a.Echo.Router().Find(req.Method, echo.GetPath(req), c)
	a.Log.WithFields(logrus.Fields{"from": orig.URL.Path, "to": location}).Debug("Category URL rewritten")
	return render(c.Handler())(c)
}

func withQuery(location, rawQuery string) string {
	if rawQuery == "" {
		return location
	}
	return location + "?" + rawQuery
}
