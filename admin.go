package seocontrol

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/seocontrol/console"
)

const adminAjaxPath = "/admin/ajax/"

// envelope is the response shape of every Admin API action.
type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func success(data any) envelope { return envelope{Success: true, Data: data} }

func failure(msg string) envelope { return envelope{Success: false, Data: msg} }

type adminAction func(a *App, c echo.Context) error

var adminActions = map[string]adminAction{
	"get_homepage_settings":  (*App).ajaxGetHomepage,
	"save_homepage_settings": (*App).ajaxSaveHomepage,
	"get_articles_data":      listAction(KindPost),
	"get_pages_data":         listAction(KindPage),
	"get_categories_data":    listAction(KindCategory),
	"get_tags_data":          listAction(KindTag),
	"get_entity_seo":         (*App).ajaxGetEntity,
	"save_article_seo":       saveAction(KindPost),
	"save_page_seo":          saveAction(KindPage),
	"save_category_seo":      saveAction(KindCategory),
	"save_tag_seo":           saveAction(KindTag),
}

// handleAdminAjax dispatches an Admin API request on its action field.
// Action names may carry the legacy "csc_" prefix.
func (a *App) handleAdminAjax(c echo.Context) error {
	name := strings.TrimPrefix(c.FormValue("action"), "csc_")
	action, ok := adminActions[name]
	if !ok {
		return c.JSON(http.StatusBadRequest, failure("Unknown action."))
	}
	return action(a, c)
}

// fail maps a service error to the failure envelope.
func (a *App) fail(c echo.Context, err error, msg string) error {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return c.JSON(http.StatusForbidden, failure("Insufficient permissions."))
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, failure("The requested item does not exist."))
	case errors.Is(err, ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, failure(err.Error()))
	}
	a.Log.WithError(err).WithField("action", c.FormValue("action")).Error("Admin action failed")
	return c.JSON(http.StatusInternalServerError, failure(msg))
}

func (a *App) can(c echo.Context, cap Capability, ref EntityRef) bool {
	return a.authorizer.Can(c, cap, ref)
}

func (a *App) ajaxGetHomepage(c echo.Context) error {
	if !a.can(c, CapManageOptions, HomepageRef) {
		return a.fail(c, ErrUnauthorized, "")
	}
	view, err := a.Service.HomepageSettings(c.Request().Context())
	if err != nil {
		return a.fail(c, err, "Could not load settings.")
	}
	return c.JSON(http.StatusOK, success(view))
}

func (a *App) ajaxSaveHomepage(c echo.Context) error {
	if !a.can(c, CapManageOptions, HomepageRef) {
		return a.fail(c, ErrUnauthorized, "")
	}
	saved, err := a.Service.SaveHomepageSettings(c.Request().Context(), HomepageInput{
		PageTitle:          c.FormValue("page_title"),
		MetaDescription:    c.FormValue("meta_description"),
		H1Text:             c.FormValue("h1_text"),
		EnableCanonical:    c.FormValue("enable_canonical"),
		RemoveCategoryBase: c.FormValue("remove_category_base"),
	})
	if err != nil {
		return a.fail(c, err, "Could not save settings.")
	}
	return c.JSON(http.StatusOK, success(map[string]any{
		"message":  "Settings saved successfully.",
		"settings": saved,
	}))
}

func listAction(kind EntityKind) adminAction {
	return func(a *App, c echo.Context) error {
		if !a.can(c, CapManageOptions, HomepageRef) {
			return a.fail(c, ErrUnauthorized, "")
		}
		list, err := a.Service.ListEntities(c.Request().Context(), ListQuery{
			Kind:   kind,
			Page:   formPage(c),
			Search: c.FormValue("search"),
		})
		if err != nil {
			return a.fail(c, err, "Could not load items.")
		}
		return c.JSON(http.StatusOK, success(list))
	}
}

func formPage(c echo.Context) int {
	for _, key := range []string{"paged", "page"} {
		if n, err := strconv.Atoi(c.FormValue(key)); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// formRef reads the entity id from post_id or term_id, depending on kind.
func formRef(c echo.Context, kind EntityKind) EntityRef {
	key := "post_id"
	if kind.IsTerm() {
		key = "term_id"
	}
	id, _ := strconv.ParseInt(c.FormValue(key), 10, 64)
	return Ref(kind, id)
}

func (a *App) ajaxGetEntity(c echo.Context) error {
	kind, err := ParseEntityKind(c.FormValue("type"))
	if err != nil || kind == KindHomepage {
		return c.JSON(http.StatusBadRequest, failure("Invalid entity type."))
	}
	ref := formRef(c, kind)
	if !a.can(c, CapabilityFor(kind), ref) {
		return a.fail(c, ErrUnauthorized, "")
	}
	item, err := a.Service.EntitySEO(c.Request().Context(), ref)
	if err != nil {
		return a.fail(c, err, "Could not load item.")
	}
	return c.JSON(http.StatusOK, success(item))
}

func saveAction(kind EntityKind) adminAction {
	return func(a *App, c echo.Context) error {
		ref := formRef(c, kind)
		if ref.ID <= 0 || !a.can(c, CapabilityFor(kind), ref) {
			return a.fail(c, ErrUnauthorized, "")
		}
		res, err := a.Service.SaveEntitySEO(c.Request().Context(), ref, EntityInput{
			Title:       c.FormValue("custom_title"),
			Description: c.FormValue("custom_description"),
			H1:          c.FormValue("custom_h1"),
		})
		if err != nil {
			return a.fail(c, err, "Could not save SEO settings.")
		}
		return c.JSON(http.StatusOK, success(map[string]any{
			"message":      "SEO settings saved successfully.",
			"status":       res.Status,
			"last_updated": res.LastUpdated,
		}))
	}
}

func (a *App) handleAdmin(c echo.Context) error {
	if !IsAdmin(c) {
		return Render(c, console.Login(false, CsrfToken(c)))
	}
	return c.Redirect(http.StatusSeeOther, consolePath)
}

func (a *App) handleAdminLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		return c.String(http.StatusTooManyRequests, "Too many login attempts. Try again later.")
	}
	pass := c.FormValue("password")
	if a.Config.AdminPassword != "" && subtle.ConstantTimeCompare([]byte(pass), []byte(a.Config.AdminPassword)) == 1 {
		if err := setAdminSession(c); err != nil {
			return err
		}
		a.loginLimiter.Reset(ip)
		return c.Redirect(http.StatusSeeOther, consolePath)
	}
	a.loginLimiter.Record(ip)
	a.Log.WithField("ip", ip).Warn("Failed admin login")
	return RenderStatus(c, http.StatusUnauthorized, console.Login(true, CsrfToken(c)))
}

func handleAdminLogout(c echo.Context) error {
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/admin/")
}
