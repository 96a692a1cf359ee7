package seocontrol

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/eringen/seocontrol/console"
)

const (
	consolePath       = "/admin/seo/"
	consoleListPath   = "/admin/seo/list/"
	consoleEditPath   = "/admin/seo/edit/"
	consoleScriptPath = "/admin/seo/console.js"
)

func (a *App) registerConsoleRoutes() {
	a.Echo.GET(consolePath, a.handleConsole)
	a.Echo.GET(consoleListPath+":tab/", a.handleConsoleList)
	a.Echo.GET(consoleEditPath+":kind/:id/", a.handleConsoleEdit)
	a.Echo.GET(consoleScriptPath, handleConsoleScript)
}

func handleConsoleScript(c echo.Context) error {
	return c.Blob(http.StatusOK, "application/javascript; charset=utf-8", console.Script)
}

func (a *App) handleConsole(c echo.Context) error {
	if !a.can(c, CapManageOptions, HomepageRef) {
		if !IsAdmin(c) {
			return c.Redirect(http.StatusSeeOther, "/admin/")
		}
		return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions.")
	}
	view, err := a.Service.HomepageSettings(c.Request().Context())
	if err != nil {
		return err
	}
	s, d := view.Settings, view.Defaults
	active := console.ActiveTab(c.QueryParam("tab"))
	return Render(c, console.Dashboard(console.DashboardData{
		SiteName: a.Config.SiteName,
		SiteURL:  BuildURL(a.Config.URL, "/"),
		CSRF:     CsrfToken(c),
		Endpoints: console.Endpoints{
			Ajax:   adminAjaxPath,
			List:   consoleListPath,
			Edit:   consoleEditPath,
			Script: consoleScriptPath,
			Logout: "/admin/logout/",
		},
		Tabs:   console.Tabs(active),
		Active: active,
		Homepage: console.HomepageForm{
			PageTitle:              s.PageTitle,
			MetaDescription:        s.MetaDescription,
			H1Text:                 s.H1Text,
			EnableCanonical:        s.EnableCanonical.Enabled(true),
			RemoveCategoryBase:     s.RemoveCategoryBase.Enabled(false),
			DefaultPageTitle:       d.PageTitle,
			DefaultMetaDescription: d.MetaDescription,
			DefaultH1Text:          d.H1Text,
		},
	}))
}

// handleConsoleList renders one page of a list pane as an HTML fragment.
func (a *App) handleConsoleList(c echo.Context) error {
	tab := c.Param("tab")
	kind, err := ParseEntityKind(tab)
	if err != nil || kind == KindHomepage {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	if !a.can(c, CapManageOptions, HomepageRef) {
		return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions.")
	}
	page, _ := strconv.Atoi(c.QueryParam("paged"))
	list, err := a.Service.ListEntities(c.Request().Context(), ListQuery{
		Kind:   kind,
		Page:   page,
		Search: c.QueryParam("search"),
	})
	if err != nil {
		return err
	}

	d := console.ListData{
		Tab:         console.TabForKind(string(kind)),
		Kind:        string(kind),
		CurrentPage: list.Pagination.CurrentPage,
		TotalPages:  list.Pagination.TotalPages,
		TotalItems:  list.Pagination.TotalItems,
		Search:      c.QueryParam("search"),
	}
	if list.Stats != nil {
		d.Stats = &console.Stats{Total: list.Stats.Total, Custom: list.Stats.Custom}
	}
	for _, it := range list.Items {
		d.Rows = append(d.Rows, console.Row{
			ID:                it.ID,
			Title:             it.Title,
			Slug:              it.Slug,
			URL:               it.URL,
			Status:            it.Status,
			CustomTitle:       it.CustomTitle,
			CustomDescription: it.CustomDescription,
			CustomH1:          it.CustomH1,
			LastUpdated:       it.LastUpdated,
		})
	}
	return Render(c, console.List(d))
}

// handleConsoleEdit renders the edit dialog for one entity.
func (a *App) handleConsoleEdit(c echo.Context) error {
	kind, err := ParseEntityKind(c.Param("kind"))
	if err != nil || kind == KindHomepage {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	ref := Ref(kind, id)
	if !a.can(c, CapabilityFor(kind), ref) {
		return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions.")
	}
	it, err := a.Service.EntitySEO(c.Request().Context(), ref)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return err
	}
	return Render(c, console.Edit(console.EditData{
		Kind:        string(kind),
		ID:          it.ID,
		Name:        it.Title,
		URL:         it.URL,
		Title:       it.CustomTitle,
		Description: it.CustomDescription,
		H1:          it.CustomH1,
		SiteName:    a.Config.SiteName,
	}))
}
