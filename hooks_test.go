package seocontrol

import (
	"context"
	"errors"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/eringen/seocontrol/rewrite"
)

func TestHooksInstallStopsAtFirstError(t *testing.T) {
	h := &Hooks{}
	boom := errors.New("boom")
	var calls []int
	h.OnInstall(func(context.Context) error { calls = append(calls, 1); return nil })
	h.OnInstall(func(context.Context) error { calls = append(calls, 2); return boom })
	h.OnInstall(func(context.Context) error { calls = append(calls, 3); return nil })

	if err := h.Install(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Install err = %v, want boom", err)
	}
	if len(calls) != 2 {
		t.Errorf("calls = %v, want [1 2]", calls)
	}
}

func TestHooksUninstallRunsAll(t *testing.T) {
	h := &Hooks{}
	e1, e2 := errors.New("one"), errors.New("two")
	h.OnUninstall(func(context.Context) error { return e1 })
	h.OnUninstall(func(context.Context) error { return e2 })

	err := h.Uninstall(context.Background())
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("Uninstall err = %v, want both errors", err)
	}
}

func TestHooksPostRenderChains(t *testing.T) {
	h := &Hooks{}
	boom := errors.New("boom")
	h.OnPostRender(func(_ echo.Context, _ PageContext, doc []byte) ([]byte, error) {
		return append(doc, 'a'), nil
	})
	h.OnPostRender(func(_ echo.Context, _ PageContext, doc []byte) ([]byte, error) {
		return []byte("garbage"), boom
	})
	h.OnPostRender(func(_ echo.Context, _ PageContext, doc []byte) ([]byte, error) {
		return append(doc, 'b'), nil
	})

	out, err := h.PostRender(nil, PageContext{}, []byte("x"))
	if !errors.Is(err, boom) {
		t.Errorf("PostRender err = %v, want boom", err)
	}
	if string(out) != "xab" {
		t.Errorf("PostRender = %q, want %q", out, "xab")
	}
}

func TestHooksPreRenderMutatesPage(t *testing.T) {
	h := &Hooks{}
	h.OnPreRender(func(_ echo.Context, p *PageContext) error {
		p.ArchiveURL = "https://example.com/tag/go/"
		return nil
	})
	page := PageContext{Kind: PageTag, ID: 1}
	if err := h.PreRender(nil, &page); err != nil {
		t.Fatalf("PreRender: %v", err)
	}
	if page.ArchiveURL != "https://example.com/tag/go/" {
		t.Errorf("ArchiveURL = %q", page.ArchiveURL)
	}
}

func TestHooksResolveRouteFirstDecisionWins(t *testing.T) {
	h := &Hooks{}
	h.OnRouteResolve(func(context.Context, RouteRequest) (rewrite.Decision, error) {
		return rewrite.Decision{}, nil
	})
	h.OnRouteResolve(func(context.Context, RouteRequest) (rewrite.Decision, error) {
		return rewrite.Decision{Action: rewrite.Redirect, Location: "/first/"}, nil
	})
	h.OnRouteResolve(func(context.Context, RouteRequest) (rewrite.Decision, error) {
		return rewrite.Decision{Action: rewrite.Redirect, Location: "/second/"}, nil
	})

	d, err := h.ResolveRoute(context.Background(), RouteRequest{Path: "/x/"})
	if err != nil {
		t.Fatalf("ResolveRoute: %v", err)
	}
	if d.Location != "/first/" {
		t.Errorf("Location = %q, want /first/", d.Location)
	}

	empty := &Hooks{}
	if d, _ := empty.ResolveRoute(context.Background(), RouteRequest{}); d.Action != rewrite.Pass {
		t.Errorf("empty hooks decided %v", d.Action)
	}
}
