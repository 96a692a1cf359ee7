package seocontrol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

var allowAll = WithAuthorizer(AuthorizerFunc(func(echo.Context, Capability, EntityRef) bool { return true }))

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func serve(a *App, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	return rec
}

func get(a *App, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return serve(a, req)
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// csrfCookie fetches the login page to obtain a CSRF cookie.
func csrfCookie(t *testing.T, a *App) *http.Cookie {
	t.Helper()
	rec := get(a, "/admin/")
	c := findCookie(rec, "_csrf")
	if c == nil {
		t.Fatal("GET /admin/ set no _csrf cookie")
	}
	return c
}

// postForm sends form to target with a valid CSRF token and any extra
// cookies.
func postForm(t *testing.T, a *App, target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	csrf := csrfCookie(t, a)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.Header.Set("X-CSRF-Token", csrf.Value)
	req.AddCookie(csrf)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return serve(a, req)
}

func decodeAPI(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var res apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, rec.Body.String())
	}
	return res
}

// decodeData decodes the data member of a successful response into v.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	res := decodeAPI(t, rec)
	if !res.Success {
		t.Fatalf("success = false, body: %s", rec.Body.String())
	}
	if err := json.Unmarshal(res.Data, v); err != nil {
		t.Fatalf("decode data: %v\ndata: %s", err, res.Data)
	}
}

func apiMessage(t *testing.T, res apiResponse) string {
	t.Helper()
	var msg string
	if err := json.Unmarshal(res.Data, &msg); err != nil {
		t.Fatalf("data is not a message: %s", res.Data)
	}
	return msg
}

// expectFailure checks a failed API call's status and message.
func expectFailure(t *testing.T, rec *httptest.ResponseRecorder, code int, msg string) {
	t.Helper()
	if rec.Code != code {
		t.Errorf("status = %d, want %d; body: %s", rec.Code, code, rec.Body.String())
	}
	res := decodeAPI(t, rec)
	if res.Success {
		t.Errorf("success = true, want false")
	}
	if got := apiMessage(t, res); got != msg {
		t.Errorf("message = %q, want %q", got, msg)
	}
}

func TestAjaxRejectsMissingCSRF(t *testing.T) {
	a := newTestApp(t, Config{}, allowAll)
	a.Setup()

	req := httptest.NewRequest(http.MethodPost, adminAjaxPath, strings.NewReader("action=get_homepage_settings"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	expectFailure(t, serve(a, req), http.StatusForbidden, "Security check failed.")
}

func TestAjaxRejectsWrongCSRF(t *testing.T) {
	a := newTestApp(t, Config{}, allowAll)
	a.Setup()

	csrf := csrfCookie(t, a)
	req := httptest.NewRequest(http.MethodPost, adminAjaxPath, strings.NewReader("action=get_homepage_settings"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.Header.Set("X-CSRF-Token", csrf.Value+"x")
	req.AddCookie(csrf)
	if rec := serve(a, req); rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestAjaxAcceptsNonceField(t *testing.T) {
	a := newTestApp(t, Config{}, allowAll)
	a.Setup()

	csrf := csrfCookie(t, a)
	form := url.Values{"action": {"get_homepage_settings"}, "nonce": {csrf.Value}}
	req := httptest.NewRequest(http.MethodPost, adminAjaxPath, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.AddCookie(csrf)
	if rec := serve(a, req); rec.Code != http.StatusOK {
		t.Errorf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
}

func TestAjaxRequiresAuthorization(t *testing.T) {
	a := newTestApp(t, Config{})
	a.Setup()

	for _, action := range []string{"get_homepage_settings", "save_homepage_settings", "get_articles_data", "save_tag_seo"} {
		t.Run(action, func(t *testing.T) {
			rec := postForm(t, a, adminAjaxPath, url.Values{"action": {action}, "term_id": {"1"}})
			expectFailure(t, rec, http.StatusForbidden, "Insufficient permissions.")
		})
	}
}

func TestAjaxUnknownAction(t *testing.T) {
	a := newTestApp(t, Config{}, allowAll)
	a.Setup()

	rec := postForm(t, a, adminAjaxPath, url.Values{"action": {"drop_tables"}})
	expectFailure(t, rec, http.StatusBadRequest, "Unknown action.")
}

func TestAjaxHomepageSettings(t *testing.T) {
	a := newTestApp(t, Config{SiteName: "Acme", Tagline: "Widgets"}, allowAll)
	a.Setup()

	rec := postForm(t, a, adminAjaxPath, url.Values{
		"action":               {"save_homepage_settings"},
		"page_title":           {"Acme <b>Widgets</b>"},
		"meta_description":     {"Best widgets"},
		"enable_canonical":     {"1"},
		"remove_category_base": {"0"},
	})
	var saved struct {
		Message  string           `json:"message"`
		Settings HomepageSettings `json:"settings"`
	}
	decodeData(t, rec, &saved)
	if saved.Message != "Settings saved successfully." {
		t.Errorf("message = %q", saved.Message)
	}
	if saved.Settings.PageTitle != "Acme Widgets" {
		t.Errorf("saved PageTitle = %q, want tags stripped", saved.Settings.PageTitle)
	}

	rec = postForm(t, a, adminAjaxPath, url.Values{"action": {"csc_get_homepage_settings"}})
	var view HomepageView
	decodeData(t, rec, &view)
	if view.Settings.PageTitle != "Acme Widgets" || view.Settings.MetaDescription != "Best widgets" {
		t.Errorf("settings = %+v", view.Settings)
	}
	if view.Settings.EnableCanonical != FlagOn || view.Settings.RemoveCategoryBase != FlagOff {
		t.Errorf("flags = %q, %q; want 1, 0", view.Settings.EnableCanonical, view.Settings.RemoveCategoryBase)
	}
	if view.Defaults.PageTitle != "Acme - Widgets" {
		t.Errorf("default PageTitle = %q", view.Defaults.PageTitle)
	}
}

func TestAjaxSaveArticle(t *testing.T) {
	a := newTestApp(t, Config{}, allowAll)
	a.Setup()
	ctx := context.Background()
	id, err := a.Store.SavePost(ctx, Post{Type: KindPost, Title: "Hello"})
	if err != nil {
		t.Fatalf("SavePost: %v", err)
	}
	postID := strconv.FormatInt(id, 10)

	rec := postForm(t, a, adminAjaxPath, url.Values{
		"action":             {"csc_save_article_seo"},
		"post_id":            {postID},
		"custom_title":       {"Custom hello"},
		"custom_description": {"About hello"},
		"custom_h1":          {"Ignored for posts"},
	})
	var out struct {
		Message     string `json:"message"`
		Status      string `json:"status"`
		LastUpdated string `json:"last_updated"`
	}
	decodeData(t, rec, &out)
	if out.Message != "SEO settings saved successfully." || out.Status != StatusCustom || out.LastUpdated != "2026-10-18 09:30" {
		t.Errorf("save result = %+v", out)
	}

	got, err := a.Store.GetOverride(ctx, Ref(KindPost, id))
	if err != nil {
		t.Fatalf("GetOverride: %v", err)
	}
	if got.Title != "Custom hello" || got.Description != "About hello" || got.H1 != "" {
		t.Errorf("stored override = %+v", got)
	}

	rec = postForm(t, a, adminAjaxPath, url.Values{
		"action":  {"get_entity_seo"},
		"type":    {"post"},
		"post_id": {postID},
	})
	var item EntityItem
	decodeData(t, rec, &item)
	if item.CustomTitle != "Custom hello" || item.Status != StatusCustom {
		t.Errorf("entity = %+v", item)
	}
}

func TestAjaxSaveMissingEntity(t *testing.T) {
	a := newTestApp(t, Config{}, allowAll)
	a.Setup()

	rec := postForm(t, a, adminAjaxPath, url.Values{
		"action":       {"save_article_seo"},
		"post_id":      {"999"},
		"custom_title": {"Nope"},
	})
	expectFailure(t, rec, http.StatusNotFound, "The requested item does not exist.")
}

func TestAjaxSaveWithoutID(t *testing.T) {
	a := newTestApp(t, Config{}, allowAll)
	a.Setup()

	rec := postForm(t, a, adminAjaxPath, url.Values{"action": {"save_page_seo"}, "custom_title": {"x"}})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestAjaxGetEntityRejectsBadType(t *testing.T) {
	a := newTestApp(t, Config{}, allowAll)
	a.Setup()

	rec := postForm(t, a, adminAjaxPath, url.Values{"action": {"get_entity_seo"}, "type": {"homepage"}})
	expectFailure(t, rec, http.StatusBadRequest, "Invalid entity type.")
}

func TestAjaxListArticles(t *testing.T) {
	a := newTestApp(t, Config{}, allowAll)
	a.Setup()
	seedPosts(t, a.Store, 25)

	rec := postForm(t, a, adminAjaxPath, url.Values{"action": {"get_articles_data"}, "paged": {"2"}})
	var list EntityList
	decodeData(t, rec, &list)
	if len(list.Items) != 5 {
		t.Errorf("items = %d, want 5", len(list.Items))
	}
	if want := (Pagination{CurrentPage: 2, TotalPages: 2, TotalItems: 25}); list.Pagination != want {
		t.Errorf("pagination = %+v, want %+v", list.Pagination, want)
	}
	if list.Stats == nil || list.Stats.Total != 25 {
		t.Errorf("stats = %+v, want total 25", list.Stats)
	}
}

func TestAjaxListTermsHasNoStats(t *testing.T) {
	a := newTestApp(t, Config{}, allowAll)
	a.Setup()
	if _, err := a.Store.SaveTerm(context.Background(), KindTag, "Go", ""); err != nil {
		t.Fatalf("SaveTerm: %v", err)
	}

	rec := postForm(t, a, adminAjaxPath, url.Values{"action": {"get_tags_data"}})
	var list EntityList
	decodeData(t, rec, &list)
	if len(list.Items) != 1 || list.Items[0].Slug != "go" {
		t.Fatalf("items = %+v", list.Items)
	}
	if list.Stats != nil {
		t.Errorf("tag list has stats %+v", list.Stats)
	}
}

func TestAdminLogin(t *testing.T) {
	a := newTestApp(t, Config{AdminPassword: "hunter2"})
	a.Setup()

	rec := postForm(t, a, "/admin/login/", url.Values{"password": {"wrong"}})
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Invalid password.") {
		t.Errorf("wrong password: status %d, body: %s", rec.Code, rec.Body.String())
	}

	rec = postForm(t, a, "/admin/login/", url.Values{"password": {"hunter2"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("login status = %d, want 303", rec.Code)
	}
	if loc := rec.Header().Get(echo.HeaderLocation); loc != consolePath {
		t.Errorf("login redirect = %q, want %q", loc, consolePath)
	}
	sess := findCookie(rec, sessionName)
	if sess == nil {
		t.Fatal("login set no session cookie")
	}

	rec = get(a, consolePath, sess)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `id="csc-console"`) {
		t.Errorf("console: status %d, body: %s", rec.Code, rec.Body.String())
	}

	if rec = get(a, "/admin/", sess); rec.Code != http.StatusSeeOther {
		t.Errorf("login page for a logged-in admin = %d, want 303", rec.Code)
	}
}

func TestAdminLoginRateLimited(t *testing.T) {
	a := newTestApp(t, Config{AdminPassword: "hunter2"})
	a.Setup()

	for i := 0; i < 5; i++ {
		postForm(t, a, "/admin/login/", url.Values{"password": {"wrong"}})
	}
	rec := postForm(t, a, "/admin/login/", url.Values{"password": {"hunter2"}})
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestConsoleRedirectsAnonymous(t *testing.T) {
	a := newTestApp(t, Config{})
	a.Setup()

	rec := get(a, consolePath)
	if rec.Code != http.StatusSeeOther || rec.Header().Get(echo.HeaderLocation) != "/admin/" {
		t.Errorf("anonymous console = %d to %q", rec.Code, rec.Header().Get(echo.HeaderLocation))
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
}

func TestConsoleFragments(t *testing.T) {
	a := newTestApp(t, Config{SiteName: "Acme"}, allowAll)
	a.Setup()
	ctx := context.Background()
	id, err := a.Store.SaveTerm(ctx, KindCategory, "News", "")
	if err != nil {
		t.Fatalf("SaveTerm: %v", err)
	}
	if _, err := a.Service.SaveEntitySEO(ctx, Ref(KindCategory, id), EntityInput{H1: "Latest news"}); err != nil {
		t.Fatalf("SaveEntitySEO: %v", err)
	}
	termID := strconv.FormatInt(id, 10)

	rec := get(a, consolePath+"?tab=categories")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `data-active="categories"`) {
		t.Errorf("dashboard: status %d, body: %s", rec.Code, rec.Body.String())
	}

	rec = get(a, consoleListPath+"categories/")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	for _, want := range []string{"csc-row-category-" + termID, "Latest news"} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("list missing %q:\n%s", want, rec.Body.String())
		}
	}

	rec = get(a, consoleEditPath+"category/"+termID+"/")
	if rec.Code != http.StatusOK {
		t.Fatalf("edit status = %d", rec.Code)
	}
	for _, want := range []string{`name="custom_h1"`, `name="term_id"`} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("edit dialog missing %q", want)
		}
	}

	for _, target := range []string{consoleListPath + "homepage/", consoleEditPath + "post/999/", consoleEditPath + "widget/1/"} {
		if code := get(a, target).Code; code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", target, code)
		}
	}
}

func TestConsoleScript(t *testing.T) {
	a := newTestApp(t, Config{})
	a.Setup()

	rec := get(a, consoleScriptPath)
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Fatalf("script: status %d, %d bytes", rec.Code, rec.Body.Len())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "application/javascript") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=86400" {
		t.Errorf("Cache-Control = %q", cc)
	}
}
