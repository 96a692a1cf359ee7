package seocontrol

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/goliatone/go-slug"
)

// ContentQuery selects a page of host entities of one kind.
type ContentQuery struct {
	Search string
	Offset int
	Limit  int
}

// ContentSource is the host content store the admin service lists and the
// rewriter resolves categories against. Store implements it over the
// bundled posts and terms tables; hosts with their own content plug in here.
type ContentSource interface {
	// ListEntities returns one page of published posts/pages, or terms
	// regardless of usage, plus the total number of matches.
	ListEntities(ctx context.Context, kind EntityKind, q ContentQuery) ([]Entity, int, error)
	// EntityByID returns ErrNotFound when no such entity exists.
	EntityByID(ctx context.Context, ref EntityRef) (Entity, error)
	CountEntities(ctx context.Context, kind EntityKind) (int, error)
	CategoryIDBySlug(ctx context.Context, slug string) (int64, bool, error)
}

const (
	postStatusPublish = "publish"
	taxonomyTag       = "post_tag"
)

func taxonomy(kind EntityKind) string {
	if kind == KindTag {
		return taxonomyTag
	}
	return string(kind)
}

func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(search) + "%"
}

func (s *Store) contentSelect(kind EntityKind, columns ...string) (sq.SelectBuilder, error) {
	switch kind {
	case KindPost, KindPage:
		return s.builder.Select(columns...).From("posts").
			Where(sq.Eq{"post_type": string(kind), "status": postStatusPublish}), nil
	case KindCategory, KindTag:
		return s.builder.Select(columns...).From("terms").
			Where(sq.Eq{"taxonomy": taxonomy(kind)}), nil
	}
	return sq.SelectBuilder{}, fmt.Errorf("%w: kind %q has no content", ErrInvalidInput, kind)
}

func contentColumns(kind EntityKind) []string {
	if kind.IsTerm() {
		return []string{"id", "name", "slug", "0"}
	}
	return []string{"id", "title", "slug", "published_at"}
}

func titleColumn(kind EntityKind) string {
	if kind.IsTerm() {
		return "name"
	}
	return "title"
}

// ListEntities implements ContentSource.
func (s *Store) ListEntities(ctx context.Context, kind EntityKind, q ContentQuery) ([]Entity, int, error) {
	base, err := s.contentSelect(kind, "COUNT(*)")
	if err != nil {
		return nil, 0, err
	}
	if q.Search != "" {
		base = base.Where(sq.Expr(titleColumn(kind)+` LIKE ? ESCAPE '\'`, likePattern(q.Search)))
	}
	query, args, err := base.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return nil, 0, storageErr("count "+string(kind), err)
	}

	sel := base.RemoveColumns().Columns(contentColumns(kind)...)
	switch kind {
	case KindPost:
		sel = sel.OrderBy("published_at DESC", "id DESC")
	case KindPage:
		sel = sel.OrderBy("title COLLATE NOCASE ASC", "id ASC")
	default:
		sel = sel.OrderBy("name COLLATE NOCASE ASC", "id ASC")
	}
	if q.Limit > 0 {
		sel = sel.Limit(uint64(q.Limit)).Offset(uint64(max(q.Offset, 0)))
	}
	query, args, err = sel.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, storageErr("list "+string(kind), err)
	}
	defer rows.Close()

	var items []Entity
	for rows.Next() {
		e, err := scanEntity(rows, kind)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storageErr("iterate "+string(kind), err)
	}
	return items, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner, kind EntityKind) (Entity, error) {
	var e Entity
	var published int64
	if err := row.Scan(&e.ID, &e.Title, &e.Slug, &published); err != nil {
		return Entity{}, err
	}
	e.Kind = kind
	if published > 0 {
		e.Date = time.Unix(published, 0).UTC()
	}
	return e, nil
}

// EntityByID implements ContentSource.
func (s *Store) EntityByID(ctx context.Context, ref EntityRef) (Entity, error) {
	sel, err := s.contentSelect(ref.Kind, contentColumns(ref.Kind)...)
	if err != nil {
		return Entity{}, err
	}
	query, args, err := sel.Where(sq.Eq{"id": ref.ID}).ToSql()
	if err != nil {
		return Entity{}, fmt.Errorf("build entity query: %w", err)
	}
	e, err := scanEntity(s.db.QueryRowContext(ctx, query, args...), ref.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return Entity{}, storageErr("get "+ref.String(), err)
	}
	return e, nil
}

// CountEntities implements ContentSource.
func (s *Store) CountEntities(ctx context.Context, kind EntityKind) (int, error) {
	_, total, err := s.ListEntities(ctx, kind, ContentQuery{Limit: 1})
	return total, err
}

// CategoryIDBySlug implements ContentSource.
func (s *Store) CategoryIDBySlug(ctx context.Context, slugValue string) (int64, bool, error) {
	query, args, err := s.builder.Select("id").From("terms").
		Where(sq.Eq{"taxonomy": taxonomy(KindCategory), "slug": slugValue}).
		ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("build category query: %w", err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storageErr("category "+slugValue, err)
	}
	return id, true, nil
}

// Post is a post or page row in the bundled content tables.
type Post struct {
	ID        int64
	Type      EntityKind
	Title     string
	Slug      string
	Draft     bool
	Published time.Time
}

// SavePost inserts p, deriving the slug from the title when empty.
// It returns the new id.
func (s *Store) SavePost(ctx context.Context, p Post) (int64, error) {
	if p.Type != KindPost && p.Type != KindPage {
		return 0, fmt.Errorf("%w: post type %q", ErrInvalidInput, p.Type)
	}
	slugValue, err := normalizeSlug(p.Slug, p.Title)
	if err != nil {
		return 0, err
	}
	status := postStatusPublish
	if p.Draft {
		status = "draft"
	}
	var published int64
	if !p.Published.IsZero() {
		published = p.Published.Unix()
	}
	query, args, err := s.builder.Insert("posts").
		Columns("post_type", "title", "slug", "status", "published_at").
		Values(string(p.Type), p.Title, slugValue, status, published).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build post insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageErr("insert post", err)
	}
	return res.LastInsertId()
}

// SaveTerm inserts a category or tag and returns its id.
func (s *Store) SaveTerm(ctx context.Context, kind EntityKind, name, slugValue string) (int64, error) {
	if !kind.IsTerm() {
		return 0, fmt.Errorf("%w: term kind %q", ErrInvalidInput, kind)
	}
	slugValue, err := normalizeSlug(slugValue, name)
	if err != nil {
		return 0, err
	}
	query, args, err := s.builder.Insert("terms").
		Columns("taxonomy", "name", "slug").
		Values(taxonomy(kind), name, slugValue).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build term insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageErr("insert term", err)
	}
	return res.LastInsertId()
}

func normalizeSlug(value, fallback string) (string, error) {
	if value == "" {
		value = fallback
	}
	normalized, err := slug.Normalize(value)
	if err != nil {
		return "", fmt.Errorf("%w: slug %q: %v", ErrInvalidInput, value, err)
	}
	if normalized == "" {
		return "", fmt.Errorf("%w: empty slug for %q", ErrInvalidInput, fallback)
	}
	return normalized, nil
}

// AssignTerms attaches the terms to a post. Existing assignments are kept.
func (s *Store) AssignTerms(ctx context.Context, postID int64, termIDs ...int64) error {
	if len(termIDs) == 0 {
		return nil
	}
	ins := s.builder.Insert("term_relationships").Columns("post_id", "term_id")
	for _, id := range termIDs {
		ins = ins.Values(postID, id)
	}
	query, args, err := ins.Suffix("ON CONFLICT(post_id, term_id) DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("build term assignment: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storageErr("assign terms", err)
	}
	return nil
}

// EntityBySlug returns the published post, page or term of kind with the
// given slug, or ErrNotFound.
func (s *Store) EntityBySlug(ctx context.Context, kind EntityKind, slugValue string) (Entity, error) {
	sel, err := s.contentSelect(kind, contentColumns(kind)...)
	if err != nil {
		return Entity{}, err
	}
	query, args, err := sel.Where(sq.Eq{"slug": slugValue}).ToSql()
	if err != nil {
		return Entity{}, fmt.Errorf("build slug query: %w", err)
	}
	e, err := scanEntity(s.db.QueryRowContext(ctx, query, args...), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, fmt.Errorf("%s %q: %w", kind, slugValue, ErrNotFound)
	}
	if err != nil {
		return Entity{}, storageErr("get "+string(kind)+" "+slugValue, err)
	}
	return e, nil
}

// PostsInTerm returns one page of published posts attached to termID,
// newest first, plus the total.
func (s *Store) PostsInTerm(ctx context.Context, termID int64, q ContentQuery) ([]Entity, int, error) {
	base, err := s.contentSelect(KindPost, "COUNT(*)")
	if err != nil {
		return nil, 0, err
	}
	base = base.Where("id IN (SELECT post_id FROM term_relationships WHERE term_id = ?)", termID)
	query, args, err := base.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build term count: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return nil, 0, storageErr("count term posts", err)
	}

	sel := base.RemoveColumns().Columns(contentColumns(KindPost)...).OrderBy("published_at DESC", "id DESC")
	if q.Limit > 0 {
		sel = sel.Limit(uint64(q.Limit)).Offset(uint64(max(q.Offset, 0)))
	}
	query, args, err = sel.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build term posts query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, storageErr("list term posts", err)
	}
	defer rows.Close()
	var items []Entity
	for rows.Next() {
		e, err := scanEntity(rows, KindPost)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storageErr("iterate term posts", err)
	}
	return items, total, nil
}
