package seocontrol

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/eringen/seocontrol/migrations"
)

// Option and meta keys. The names match the layout existing installs use.
const (
	OptionHomepage  = "complete_seo_control_homepage"
	OptionVersion   = "complete_seo_control_version"
	OptionActivated = "complete_seo_control_activated"

	updatedSuffix = "_updated"
)

var optionKeys = []string{OptionHomepage, OptionVersion, OptionActivated}

// MetaKey returns the meta key an override of kind is stored under.
// The homepage has no meta key.
func MetaKey(kind EntityKind) string {
	switch kind {
	case KindPost, KindPage, KindCategory, KindTag:
		return "_csc_" + string(kind) + "_seo"
	}
	return ""
}

func metaTable(kind EntityKind) (table, idColumn string) {
	if kind.IsTerm() {
		return "termmeta", "term_id"
	}
	return "postmeta", "post_id"
}

// Store wraps a SQLite database holding the override records, the homepage
// settings and the bundled content tables.
type Store struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	log     *logrus.Logger
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and runs schema migrations.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL with a busy timeout lets the render path read while an admin saves.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
		PRAGMA cache_size=-8000;
	`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db, builder: sq.StatementBuilder.PlaceholderFormat(sq.Question), log: logrus.StandardLogger()}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for maintenance commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func prepareGoose() error {
	goose.SetBaseFS(migrations.FS)
	return goose.SetDialect("sqlite3")
}

// Migrate applies all pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if err := prepareGoose(); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown(ctx context.Context) error {
	if err := prepareGoose(); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.DownContext(ctx, s.db, ".")
}

// MigrationStatus logs the state of every migration through goose's logger.
func (s *Store) MigrationStatus(ctx context.Context) error {
	if err := prepareGoose(); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.StatusContext(ctx, s.db, ".")
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// GetOption returns the value stored under name and whether it exists.
func (s *Store) GetOption(ctx context.Context, name string) (string, bool, error) {
	query, args, err := s.builder.Select("value").From("options").Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build option query: %w", err)
	}
	var value string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("get option "+name, err)
	}
	return value, true, nil
}

// SetOption upserts an option value.
func (s *Store) SetOption(ctx context.Context, name, value string) error {
	query, args, err := s.builder.Insert("options").
		Columns("name", "value").
		Values(name, value).
		Suffix("ON CONFLICT(name) DO UPDATE SET value = excluded.value").
		ToSql()
	if err != nil {
		return fmt.Errorf("build option upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storageErr("set option "+name, err)
	}
	return nil
}

// StoredHomepage is the homepage settings record as persisted. A nil field
// was never written and falls back to its default on merge; a stored empty
// string is kept.
type StoredHomepage struct {
	PageTitle          *string `json:"page_title,omitempty"`
	MetaDescription    *string `json:"meta_description,omitempty"`
	H1Text             *string `json:"h1_text,omitempty"`
	EnableCanonical    *Flag   `json:"enable_canonical,omitempty"`
	RemoveCategoryBase *Flag   `json:"remove_category_base,omitempty"`
	UpdatedAt          *int64  `json:"updated_at,omitempty"`
}

// Merge returns def with every field present in p taking precedence.
func (p StoredHomepage) Merge(def HomepageSettings) HomepageSettings {
	out := def
	if p.PageTitle != nil {
		out.PageTitle = *p.PageTitle
	}
	if p.MetaDescription != nil {
		out.MetaDescription = *p.MetaDescription
	}
	if p.H1Text != nil {
		out.H1Text = *p.H1Text
	}
	if p.EnableCanonical != nil {
		out.EnableCanonical = *p.EnableCanonical
	}
	if p.RemoveCategoryBase != nil {
		out.RemoveCategoryBase = *p.RemoveCategoryBase
	}
	if p.UpdatedAt != nil && *p.UpdatedAt > 0 {
		out.UpdatedAt = time.Unix(*p.UpdatedAt, 0).UTC()
	}
	return out
}

// Settings returns the stored values with unset fields left empty.
func (p StoredHomepage) Settings() HomepageSettings {
	return p.Merge(HomepageSettings{})
}

func storedFrom(h HomepageSettings) StoredHomepage {
	p := StoredHomepage{
		PageTitle:          &h.PageTitle,
		MetaDescription:    &h.MetaDescription,
		H1Text:             &h.H1Text,
		EnableCanonical:    &h.EnableCanonical,
		RemoveCategoryBase: &h.RemoveCategoryBase,
	}
	if !h.UpdatedAt.IsZero() {
		ts := h.UpdatedAt.Unix()
		p.UpdatedAt = &ts
	}
	return p
}

// LoadHomepage returns the stored homepage record. A missing record is
// returned as the zero StoredHomepage.
func (s *Store) LoadHomepage(ctx context.Context) (StoredHomepage, error) {
	raw, ok, err := s.GetOption(ctx, OptionHomepage)
	if err != nil || !ok || raw == "" {
		return StoredHomepage{}, err
	}
	var p StoredHomepage
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return StoredHomepage{}, fmt.Errorf("decode homepage settings: %w", err)
	}
	return p, nil
}

// SaveHomepage replaces the stored homepage record with h.
func (s *Store) SaveHomepage(ctx context.Context, h HomepageSettings) error {
	data, err := json.Marshal(storedFrom(h))
	if err != nil {
		return fmt.Errorf("encode homepage settings: %w", err)
	}
	return s.SetOption(ctx, OptionHomepage, string(data))
}

// GetOverride returns the override stored for ref, or ErrNoOverride.
func (s *Store) GetOverride(ctx context.Context, ref EntityRef) (OverrideRecord, error) {
	if ref.Kind == KindHomepage {
		p, err := s.LoadHomepage(ctx)
		if err != nil {
			return OverrideRecord{}, err
		}
		rec := p.Settings().Override()
		if !rec.HasOverride(KindHomepage) {
			return OverrideRecord{}, ErrNoOverride
		}
		return rec, nil
	}
	recs, bad, err := s.loadOverrides(ctx, ref.Kind, []int64{ref.ID})
	if err != nil {
		return OverrideRecord{}, err
	}
	if err := bad[ref.ID]; err != nil {
		return OverrideRecord{}, err
	}
	rec, ok := recs[ref.ID]
	if !ok {
		return OverrideRecord{}, ErrNoOverride
	}
	return rec, nil
}

// GetOverrides returns the overrides stored for the given ids of one kind,
// keyed by id. Ids without an override are absent from the map. A record that
// cannot be decoded is logged and left out, so its entity reads as default.
func (s *Store) GetOverrides(ctx context.Context, kind EntityKind, ids []int64) (map[int64]OverrideRecord, error) {
	out, bad, err := s.loadOverrides(ctx, kind, ids)
	if err != nil {
		return nil, err
	}
	for id, derr := range bad {
		s.log.WithError(derr).WithField("entity", Ref(kind, id).String()).Warn("Skipping malformed override")
	}
	return out, nil
}

// loadOverrides reads the overrides for ids. Decode failures are returned per
// id in bad rather than failing the batch.
func (s *Store) loadOverrides(ctx context.Context, kind EntityKind, ids []int64) (out map[int64]OverrideRecord, bad map[int64]error, err error) {
	key := MetaKey(kind)
	if key == "" {
		return nil, nil, fmt.Errorf("%w: no meta key for kind %q", ErrInvalidInput, kind)
	}
	out = make(map[int64]OverrideRecord, len(ids))
	bad = make(map[int64]error)
	if len(ids) == 0 {
		return out, bad, nil
	}
	table, idCol := metaTable(kind)
	query, args, err := s.builder.Select(idCol, "meta_key", "meta_value").
		From(table).
		Where(sq.Eq{idCol: ids, "meta_key": []string{key, key + updatedSuffix}}).
		ToSql()
	if err != nil {
		return nil, nil, fmt.Errorf("build override query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, storageErr("query overrides", err)
	}
	defer rows.Close()

	updated := make(map[int64]time.Time)
	for rows.Next() {
		var id int64
		var metaKey, value string
		if err := rows.Scan(&id, &metaKey, &value); err != nil {
			return nil, nil, storageErr("scan override", err)
		}
		if metaKey != key {
			if ts, err := strconv.ParseInt(value, 10, 64); err == nil && ts > 0 {
				updated[id] = time.Unix(ts, 0).UTC()
			}
			continue
		}
		var rec OverrideRecord
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			bad[id] = fmt.Errorf("decode override %s: %w", Ref(kind, id), err)
			continue
		}
		rec = rec.normalize(kind)
		if rec.HasOverride(kind) {
			out[id] = rec
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, storageErr("iterate overrides", err)
	}
	for id, rec := range out {
		rec.UpdatedAt = updated[id]
		out[id] = rec
	}
	return out, bad, nil
}

// PutOverride stores rec for ref. A record without any value for the kind
// deletes the stored override instead.
func (s *Store) PutOverride(ctx context.Context, ref EntityRef, rec OverrideRecord) error {
	rec = rec.normalize(ref.Kind)
	if !rec.HasOverride(ref.Kind) {
		return s.DeleteOverride(ctx, ref)
	}
	if ref.Kind == KindHomepage {
		p, err := s.LoadHomepage(ctx)
		if err != nil {
			return err
		}
		h := p.Settings()
		h.PageTitle, h.MetaDescription, h.H1Text = rec.Title, rec.Description, rec.H1
		h.UpdatedAt = rec.UpdatedAt
		return s.SaveHomepage(ctx, h)
	}

	key := MetaKey(ref.Kind)
	if key == "" {
		return fmt.Errorf("%w: no meta key for kind %q", ErrInvalidInput, ref.Kind)
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode override: %w", err)
	}
	table, idCol := metaTable(ref.Kind)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin override write", err)
	}
	defer tx.Rollback()

	upsert := s.builder.Insert(table).
		Columns(idCol, "meta_key", "meta_value").
		Values(ref.ID, key, string(value))
	if !rec.UpdatedAt.IsZero() {
		upsert = upsert.Values(ref.ID, key+updatedSuffix, strconv.FormatInt(rec.UpdatedAt.Unix(), 10))
	}
	query, args, err := upsert.
		Suffix(fmt.Sprintf("ON CONFLICT(%s, meta_key) DO UPDATE SET meta_value = excluded.meta_value", idCol)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build override upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return storageErr("write override "+ref.String(), err)
	}
	if rec.UpdatedAt.IsZero() {
		if err := s.deleteMeta(ctx, tx, ref, []string{key + updatedSuffix}); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit override "+ref.String(), err)
	}
	return nil
}

// DeleteOverride removes the override for ref and its timestamp. For the
// homepage only the text fields are cleared; the flags are kept.
func (s *Store) DeleteOverride(ctx context.Context, ref EntityRef) error {
	if ref.Kind == KindHomepage {
		p, err := s.LoadHomepage(ctx)
		if err != nil {
			return err
		}
		h := p.Settings()
		h.PageTitle, h.MetaDescription, h.H1Text = "", "", ""
		return s.SaveHomepage(ctx, h)
	}
	key := MetaKey(ref.Kind)
	if key == "" {
		return fmt.Errorf("%w: no meta key for kind %q", ErrInvalidInput, ref.Kind)
	}
	return s.deleteMeta(ctx, s.db, ref, []string{key, key + updatedSuffix})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) deleteMeta(ctx context.Context, db execer, ref EntityRef, keys []string) error {
	table, idCol := metaTable(ref.Kind)
	query, args, err := s.builder.Delete(table).
		Where(sq.Eq{idCol: ref.ID, "meta_key": keys}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build override delete: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return storageErr("delete override "+ref.String(), err)
	}
	return nil
}

// CountOverrides returns how many entities of kind carry an override.
func (s *Store) CountOverrides(ctx context.Context, kind EntityKind) (int, error) {
	if kind == KindHomepage {
		_, err := s.GetOverride(ctx, HomepageRef)
		if errors.Is(err, ErrNoOverride) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return 1, nil
	}
	key := MetaKey(kind)
	if key == "" {
		return 0, fmt.Errorf("%w: no meta key for kind %q", ErrInvalidInput, kind)
	}
	table, _ := metaTable(kind)
	query, args, err := s.builder.Select("COUNT(*)").From(table).Where(sq.Eq{"meta_key": key}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build override count: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storageErr("count overrides", err)
	}
	return n, nil
}

// DeleteAll removes every option and meta row this module owns.
func (s *Store) DeleteAll(ctx context.Context) error {
	var postKeys, termKeys []string
	for _, kind := range EntityKinds {
		if kind == KindHomepage {
			continue
		}
		keys := []string{MetaKey(kind), MetaKey(kind) + updatedSuffix}
		if kind.IsTerm() {
			termKeys = append(termKeys, keys...)
		} else {
			postKeys = append(postKeys, keys...)
		}
	}
	stmts := []sq.DeleteBuilder{
		s.builder.Delete("options").Where(sq.Eq{"name": optionKeys}),
		s.builder.Delete("postmeta").Where(sq.Eq{"meta_key": postKeys}),
		s.builder.Delete("termmeta").Where(sq.Eq{"meta_key": termKeys}),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin uninstall", err)
	}
	defer tx.Rollback()
	for _, stmt := range stmts {
		query, args, err := stmt.ToSql()
		if err != nil {
			return fmt.Errorf("build uninstall delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return storageErr("uninstall", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit uninstall", err)
	}
	return nil
}
