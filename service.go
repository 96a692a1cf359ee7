package seocontrol

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"github.com/eringen/seocontrol/rewrite"
	"github.com/eringen/seocontrol/sanitize"
)

// PageSize is the number of entities per list page.
const PageSize = 20

// TimestampLayout formats updatedAt values in list and save responses.
const TimestampLayout = "2006-01-02 15:04"

// Override status values reported to the console.
const (
	StatusCustom  = "custom"
	StatusDefault = "default"
)

// HomepageView is the homepage settings as shown in the console: stored
// values merged over the defaults, plus the defaults themselves.
type HomepageView struct {
	Settings HomepageSettings `json:"settings"`
	Defaults HomepageSettings `json:"defaults"`
}

// HomepageInput carries the raw homepage form fields.
type HomepageInput struct {
	PageTitle          string
	MetaDescription    string
	H1Text             string
	EnableCanonical    string
	RemoveCategoryBase string
}

// ListQuery selects a page of entities of one kind.
type ListQuery struct {
	Kind   EntityKind
	Page   int
	Search string
}

// Validate implements validation.Validatable.
func (q ListQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Kind, validation.Required, validation.In(KindPost, KindPage, KindCategory, KindTag)),
	)
}

// Pagination describes the position of a list page.
type Pagination struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
	TotalItems  int `json:"total_items"`
}

// Stats summarizes override coverage for posts and pages.
type Stats struct {
	Total  int `json:"total"`
	Custom int `json:"custom"`
}

// EntityItem is one row of an entity list.
type EntityItem struct {
	ID                int64      `json:"id"`
	Kind              EntityKind `json:"type"`
	Title             string     `json:"title"`
	Slug              string     `json:"slug"`
	URL               string     `json:"view_url"`
	Status            string     `json:"status"`
	CustomTitle       string     `json:"custom_title"`
	CustomDescription string     `json:"custom_description"`
	CustomH1          string     `json:"custom_h1,omitempty"`
	LastUpdated       string     `json:"last_updated"`
}

// EntityList is one page of entities with their override status.
type EntityList struct {
	Items      []EntityItem `json:"items"`
	Pagination Pagination   `json:"pagination"`
	Stats      *Stats       `json:"stats,omitempty"`
}

// EntityInput carries the raw override form fields.
type EntityInput struct {
	Title       string
	Description string
	H1          string
}

// SaveResult reports the outcome of an entity save.
type SaveResult struct {
	Status      string         `json:"status"`
	LastUpdated string         `json:"last_updated"`
	Override    OverrideRecord `json:"override"`
}

// Service implements the admin operations. Authorization is enforced by
// the transport before a method is called.
type Service struct {
	store        *Store
	content      ContentSource
	cache        *OverrideCache
	rewriter     *rewrite.Rewriter
	invalidators []Invalidator
	cfg          Config
	now          func() time.Time
	log          *logrus.Logger
}

func validateRef(ref EntityRef) error {
	return validation.ValidateStruct(&ref,
		validation.Field(&ref.Kind, validation.Required, validation.In(KindPost, KindPage, KindCategory, KindTag)),
		validation.Field(&ref.ID, validation.Required, validation.Min(int64(1))),
	)
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

func formatUpdated(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(TimestampLayout)
}

// HomepageDefaults returns the values the console offers when a homepage
// field was never saved.
func (s *Service) HomepageDefaults() HomepageSettings {
	return HomepageSettings{
		PageTitle:          defaultPageTitle(s.cfg),
		MetaDescription:    s.cfg.Tagline,
		H1Text:             s.cfg.SiteName,
		EnableCanonical:    FlagOff,
		RemoveCategoryBase: FlagOff,
	}
}

func defaultPageTitle(cfg Config) string {
	if cfg.Tagline == "" {
		return cfg.SiteName
	}
	return cfg.SiteName + " - " + cfg.Tagline
}

// HomepageSettings returns the stored settings merged over the defaults.
func (s *Service) HomepageSettings(ctx context.Context) (HomepageView, error) {
	stored, err := s.store.LoadHomepage(ctx)
	if err != nil {
		return HomepageView{}, err
	}
	defaults := s.HomepageDefaults()
	return HomepageView{Settings: stored.Merge(defaults), Defaults: defaults}, nil
}

// SaveHomepageSettings sanitizes and stores the homepage settings.
func (s *Service) SaveHomepageSettings(ctx context.Context, in HomepageInput) (HomepageSettings, error) {
	h := HomepageSettings{
		PageTitle:          sanitize.Line(in.PageTitle),
		MetaDescription:    sanitize.Block(in.MetaDescription),
		H1Text:             sanitize.Line(in.H1Text),
		EnableCanonical:    Flag(sanitize.BoolFlag(in.EnableCanonical)),
		RemoveCategoryBase: Flag(sanitize.BoolFlag(in.RemoveCategoryBase)),
		UpdatedAt:          s.now().UTC().Truncate(time.Second),
	}
	if err := s.store.SaveHomepage(ctx, h); err != nil {
		return HomepageSettings{}, err
	}
	s.afterSave(ctx, HomepageRef)
	return h, nil
}

// ListEntities returns one page of entities of q.Kind with their override
// status. A numeric search is an exact id lookup.
func (s *Service) ListEntities(ctx context.Context, q ListQuery) (EntityList, error) {
	if err := q.Validate(); err != nil {
		return EntityList{}, invalid(err)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	q.Search = strings.TrimSpace(q.Search)

	var entities []Entity
	var total int
	if isNumeric(q.Search) {
		// Ids past the int64 range match nothing.
		if id, err := strconv.ParseInt(q.Search, 10, 64); err == nil {
			e, err := s.content.EntityByID(ctx, Ref(q.Kind, id))
			switch {
			case errors.Is(err, ErrNotFound):
			case err != nil:
				return EntityList{}, err
			default:
				entities, total = []Entity{e}, 1
			}
		}
		q.Page = 1
	} else {
		var err error
		entities, total, err = s.content.ListEntities(ctx, q.Kind, ContentQuery{
			Search: q.Search,
			Offset: (q.Page - 1) * PageSize,
			Limit:  PageSize,
		})
		if err != nil {
			return EntityList{}, err
		}
	}

	ids := make([]int64, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	overrides, err := s.store.GetOverrides(ctx, q.Kind, ids)
	if err != nil {
		return EntityList{}, err
	}

	list := EntityList{
		Items: make([]EntityItem, 0, len(entities)),
		Pagination: Pagination{
			CurrentPage: q.Page,
			TotalPages:  (total + PageSize - 1) / PageSize,
			TotalItems:  total,
		},
	}
	for _, e := range entities {
		rec, ok := overrides[e.ID]
		list.Items = append(list.Items, s.item(ctx, e, rec, ok))
	}

	if q.Kind == KindPost || q.Kind == KindPage {
		all, err := s.content.CountEntities(ctx, q.Kind)
		if err != nil {
			return EntityList{}, err
		}
		custom, err := s.store.CountOverrides(ctx, q.Kind)
		if err != nil {
			return EntityList{}, err
		}
		list.Stats = &Stats{Total: all, Custom: custom}
	}
	return list, nil
}

// isNumeric reports whether search is made only of ASCII digits. Such a
// search is always an id lookup.
func isNumeric(search string) bool {
	if search == "" {
		return false
	}
	for _, r := range search {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (s *Service) item(ctx context.Context, e Entity, rec OverrideRecord, ok bool) EntityItem {
	it := EntityItem{
		ID:     e.ID,
		Kind:   e.Kind,
		Title:  e.Title,
		Slug:   e.Slug,
		URL:    s.permalink(ctx, e),
		Status: StatusDefault,
	}
	it.LastUpdated = "-"
	if ok && rec.HasOverride(e.Kind) {
		it.Status = StatusCustom
		it.CustomTitle = rec.Title
		it.CustomDescription = rec.Description
		it.CustomH1 = rec.H1
		it.LastUpdated = formatUpdated(rec.UpdatedAt)
	}
	return it
}

// permalink returns the public URL of e. Category links follow the stored
// base removal setting.
func (s *Service) permalink(ctx context.Context, e Entity) string {
	switch e.Kind {
	case KindCategory:
		removeBase := false
		if h, err := s.cache.Homepage(ctx); err == nil {
			removeBase = h.RemoveCategoryBase.Enabled(false)
		}
		return BuildURL(s.cfg.URL, s.rewriter.CategoryPath(e.Slug, 0, removeBase))
	case KindTag:
		return BuildURL(s.cfg.URL, "tag", e.Slug)
	}
	return BuildURL(s.cfg.URL, e.Slug)
}

// EntitySEO returns a single entity with its override.
func (s *Service) EntitySEO(ctx context.Context, ref EntityRef) (EntityItem, error) {
	if err := validateRef(ref); err != nil {
		return EntityItem{}, invalid(err)
	}
	e, err := s.content.EntityByID(ctx, ref)
	if err != nil {
		return EntityItem{}, err
	}
	rec, err := s.store.GetOverride(ctx, ref)
	switch {
	case errors.Is(err, ErrNoOverride):
		return s.item(ctx, e, OverrideRecord{}, false), nil
	case err != nil:
		return EntityItem{}, err
	}
	return s.item(ctx, e, rec, true), nil
}

// SaveEntitySEO sanitizes and stores the override for ref. When every field
// is empty after sanitizing, the stored override is deleted instead.
func (s *Service) SaveEntitySEO(ctx context.Context, ref EntityRef, in EntityInput) (SaveResult, error) {
	if err := validateRef(ref); err != nil {
		return SaveResult{}, invalid(err)
	}
	if _, err := s.content.EntityByID(ctx, ref); err != nil {
		return SaveResult{}, err
	}
	rec := OverrideRecord{
		Title:       sanitize.Line(in.Title),
		Description: sanitize.Block(in.Description),
		H1:          sanitize.Line(in.H1),
	}.normalize(ref.Kind)

	res := SaveResult{Status: StatusDefault, LastUpdated: "-"}
	if !rec.HasOverride(ref.Kind) {
		if err := s.store.DeleteOverride(ctx, ref); err != nil {
			return SaveResult{}, err
		}
	} else {
		rec.UpdatedAt = s.now().UTC().Truncate(time.Second)
		if err := s.store.PutOverride(ctx, ref, rec); err != nil {
			return SaveResult{}, err
		}
		res = SaveResult{Status: StatusCustom, LastUpdated: formatUpdated(rec.UpdatedAt), Override: rec}
	}
	s.afterSave(ctx, ref)
	return res, nil
}

// afterSave drops the cached override and runs the invalidators. Failures
// are logged only.
func (s *Service) afterSave(ctx context.Context, ref EntityRef) {
	s.cache.Forget(ref)
	if err := invalidateAll(ctx, s.log, s.cfg.InvalidationWorkers, s.cfg.InvalidationTimeout, s.invalidators); err != nil {
		s.log.WithError(err).WithField("entity", ref.String()).Debug("Some cache invalidations failed")
	}
}
