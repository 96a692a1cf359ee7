// Package seocontrol overrides the search-engine facing metadata of a site:
// page titles, meta descriptions, H1 headings, canonical links and the
// category URL structure, for the homepage, posts, pages, categories and
// tags.
//
// An App mounts an admin console and JSON API on an Echo instance, stores
// overrides in SQLite and rewrites rendered pages on the way out. Host
// handlers mark the pages they render with SetPage; everything else passes
// through untouched.
package seocontrol

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/eringen/seocontrol/rewrite"
)

// App is the central seocontrol application. It wires together the store,
// caches, admin service, hooks, middleware and routes.
type App struct {
	Config    Config
	Echo      *echo.Echo
	Store     *Store
	Overrides *OverrideCache
	Pages     *PageCache
	Service   *Service
	Rewriter  *rewrite.Rewriter
	Hooks     *Hooks
	Log       *logrus.Logger

	authorizer        Authorizer
	content           ContentSource
	extraInvalidators []Invalidator
	now               func() time.Time
	loginLimiter      *LoginLimiter
	customRoutes      []func(*App)
	setupOnce         sync.Once
}

// New creates an App, opening and migrating the database at
// cfg.DatabasePath.
func New(cfg Config, opts ...Option) (*App, error) {
	cfg.setDefaults()

	a := &App{
		Config:     cfg,
		Echo:       echo.New(),
		Hooks:      &Hooks{},
		authorizer: SessionAuthorizer,
		now:        time.Now,
	}
	a.Echo.HideBanner = true

	for _, opt := range opts {
		opt(a)
	}
	if a.Log == nil {
		a.Log = NewLogger(cfg.LogLevel)
	}
	goose.SetLogger(a.Log)

	store, err := NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("seocontrol: init store: %w", err)
	}
	store.log = a.Log
	a.Store = store
	if a.content == nil {
		a.content = store
	}

	a.Overrides = NewOverrideCache(store, cfg.OverrideCacheTTL)
	if cfg.PageCacheTTL > 0 {
		a.Pages = NewPageCache(cfg.PageCacheTTL)
	}
	a.Rewriter = rewrite.New(cfg.CategoryBase, a.content)
	a.loginLimiter = NewLoginLimiter(5, time.Minute)

	var invs []Invalidator
	if a.Pages != nil {
		invs = append(invs, a.Pages)
	}
	if urls := FilterEmpty(cfg.PurgeURLs); len(urls) > 0 {
		invs = append(invs, NewPurgeInvalidator(urls))
	}
	invs = append(invs, a.extraInvalidators...)

	a.Service = &Service{
		store:        store,
		content:      a.content,
		cache:        a.Overrides,
		rewriter:     a.Rewriter,
		invalidators: invs,
		cfg:          cfg,
		now:          a.now,
		log:          a.Log,
	}

	a.Hooks.OnInstall(a.install)
	a.Hooks.OnUninstall(a.uninstall)
	a.Hooks.OnPreRender(a.fillArchiveURL)
	a.Hooks.OnPostRender(a.substitutePage)
	a.Hooks.OnRouteResolve(a.resolveRoute)

	return a, nil
}

// Setup mounts the middleware and routes. It runs once; Start calls it, and
// hosts that serve a.Echo themselves call it before doing so.
func (a *App) Setup() {
	a.setupOnce.Do(func() {
		a.setupMiddleware()
		a.setupRoutes()
		for _, fn := range a.customRoutes {
			fn(a)
		}
	})
}

// Start validates the login configuration, mounts everything and serves on
// Config.Addr.
func (a *App) Start() error {
	if a.Config.AdminPassword == "" {
		return fmt.Errorf("seocontrol: AdminPassword is required")
	}
	if a.Config.SessionSecret == "" {
		return fmt.Errorf("seocontrol: SessionSecret is required")
	}
	a.Setup()
	a.Log.WithField("addr", a.Config.Addr).Info("Starting server")
	if err := a.Echo.Start(a.Config.Addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) setupRoutes() {
	e := a.Echo

	e.GET("/admin/", a.handleAdmin)
	e.POST("/admin/login/", a.handleAdminLogin)
	e.POST("/admin/logout/", handleAdminLogout)
	e.POST(adminAjaxPath, a.handleAdminAjax)
	a.registerConsoleRoutes()
	if a.Config.ServeSite {
		a.registerSiteRoutes()
	}
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}
