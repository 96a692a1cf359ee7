package seocontrol

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/eringen/seocontrol/rewrite"
)

// RoutePhase tells a route handler at which point of request handling it
// is consulted.
type RoutePhase int

const (
	// BeforeHost runs before the host router handles the request.
	BeforeHost RoutePhase = iota
	// AfterNotFound runs after the host answered with 404.
	AfterNotFound
)

// RouteRequest is the input of a route-resolve handler.
type RouteRequest struct {
	Path       string
	Phase      RoutePhase
	RemoveBase bool
}

// Hook handler signatures, one per lifecycle event.
type (
	InstallHandler      func(ctx context.Context) error
	UninstallHandler    func(ctx context.Context) error
	PreRenderHandler    func(c echo.Context, page *PageContext) error
	PostRenderHandler   func(c echo.Context, page PageContext, doc []byte) ([]byte, error)
	RouteResolveHandler func(ctx context.Context, r RouteRequest) (rewrite.Decision, error)
)

// Hooks is the registry of lifecycle handlers. Handlers run in registration
// order; the App registers its own at construction and hosts may add more.
type Hooks struct {
	mu           sync.RWMutex
	install      []InstallHandler
	uninstall    []UninstallHandler
	preRender    []PreRenderHandler
	postRender   []PostRenderHandler
	routeResolve []RouteResolveHandler
}

// OnInstall registers fn to run on Install.
func (h *Hooks) OnInstall(fn InstallHandler) {
	h.mu.Lock()
	h.install = append(h.install, fn)
	h.mu.Unlock()
}

// OnUninstall registers fn to run on Uninstall.
func (h *Hooks) OnUninstall(fn UninstallHandler) {
	h.mu.Lock()
	h.uninstall = append(h.uninstall, fn)
	h.mu.Unlock()
}

// OnPreRender registers fn to adjust marked pages before substitution.
func (h *Hooks) OnPreRender(fn PreRenderHandler) {
	h.mu.Lock()
	h.preRender = append(h.preRender, fn)
	h.mu.Unlock()
}

// OnPostRender registers fn to rewrite the rendered document.
func (h *Hooks) OnPostRender(fn PostRenderHandler) {
	h.mu.Lock()
	h.postRender = append(h.postRender, fn)
	h.mu.Unlock()
}

// OnRouteResolve registers fn to decide category redirects and rewrites.
func (h *Hooks) OnRouteResolve(fn RouteResolveHandler) {
	h.mu.Lock()
	h.routeResolve = append(h.routeResolve, fn)
	h.mu.Unlock()
}

// Install runs the install handlers and stops at the first error.
func (h *Hooks) Install(ctx context.Context) error {
	h.mu.RLock()
	fns := append([]InstallHandler(nil), h.install...)
	h.mu.RUnlock()
	for i, fn := range fns {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("install handler %d: %w", i, err)
		}
	}
	return nil
}

// Uninstall runs every uninstall handler and joins their errors.
func (h *Hooks) Uninstall(ctx context.Context) error {
	h.mu.RLock()
	fns := append([]UninstallHandler(nil), h.uninstall...)
	h.mu.RUnlock()
	var errs []error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PreRender lets handlers adjust the page before substitution. Errors are
// joined; a failing handler does not stop the others.
func (h *Hooks) PreRender(c echo.Context, page *PageContext) error {
	h.mu.RLock()
	fns := append([]PreRenderHandler(nil), h.preRender...)
	h.mu.RUnlock()
	var errs []error
	for _, fn := range fns {
		if err := fn(c, page); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PostRender passes the document through every handler in turn. A handler
// that fails leaves the document as it received it.
func (h *Hooks) PostRender(c echo.Context, page PageContext, doc []byte) ([]byte, error) {
	h.mu.RLock()
	fns := append([]PostRenderHandler(nil), h.postRender...)
	h.mu.RUnlock()
	var errs []error
	for _, fn := range fns {
		out, err := fn(c, page, doc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		doc = out
	}
	return doc, errors.Join(errs...)
}

// ResolveRoute returns the first decision that is not rewrite.Pass.
func (h *Hooks) ResolveRoute(ctx context.Context, r RouteRequest) (rewrite.Decision, error) {
	h.mu.RLock()
	fns := append([]RouteResolveHandler(nil), h.routeResolve...)
	h.mu.RUnlock()
	for _, fn := range fns {
		d, err := fn(ctx, r)
		if err != nil {
			return rewrite.Decision{}, err
		}
		if d.Action != rewrite.Pass {
			return d, nil
		}
	}
	return rewrite.Decision{}, nil
}
