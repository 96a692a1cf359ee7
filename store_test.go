package seocontrol

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "test_seo.db")

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	cleanup := func() {
		s.Close()
	}

	return s, cleanup
}

func TestNewStore(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	if s == nil || s.db == nil {
		t.Fatal("store should not be nil")
	}
	n, err := s.CountOverrides(context.Background(), KindPost)
	if err != nil {
		t.Fatalf("CountOverrides on fresh store: %v", err)
	}
	if n != 0 {
		t.Errorf("CountOverrides = %d, want 0", n)
	}
}

func TestNewStoreIsReentrant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seo.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s.Close()
	s, err = NewStore(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	s.Close()
}

func TestOptions(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, ok, err := s.GetOption(ctx, OptionVersion); err != nil || ok {
		t.Fatalf("GetOption on missing = ok %v, err %v", ok, err)
	}
	if err := s.SetOption(ctx, OptionVersion, "1.0.0"); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	if err := s.SetOption(ctx, OptionVersion, "1.1.0"); err != nil {
		t.Fatalf("SetOption overwrite: %v", err)
	}
	v, ok, err := s.GetOption(ctx, OptionVersion)
	if err != nil || !ok || v != "1.1.0" {
		t.Fatalf("GetOption = %q, %v, %v; want 1.1.0", v, ok, err)
	}
}

func TestPutAndGetOverride(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	want := OverrideRecord{Title: "Custom", Description: "Desc", UpdatedAt: ts}
	if err := s.PutOverride(ctx, Ref(KindPost, 42), want); err != nil {
		t.Fatalf("PutOverride: %v", err)
	}
	got, err := s.GetOverride(ctx, Ref(KindPost, 42))
	if err != nil {
		t.Fatalf("GetOverride: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("override mismatch (-want +got):\n%s", diff)
	}

	// The same id under another kind is a different entity.
	if _, err := s.GetOverride(ctx, Ref(KindPage, 42)); !errors.Is(err, ErrNoOverride) {
		t.Errorf("GetOverride(page:42) err = %v, want ErrNoOverride", err)
	}
	if _, err := s.GetOverride(ctx, Ref(KindCategory, 42)); !errors.Is(err, ErrNoOverride) {
		t.Errorf("GetOverride(category:42) err = %v, want ErrNoOverride", err)
	}
}

func TestPutOverrideReplaces(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	ref := Ref(KindTag, 3)

	if err := s.PutOverride(ctx, ref, OverrideRecord{Title: "One", H1: "Heading"}); err != nil {
		t.Fatalf("PutOverride: %v", err)
	}
	if err := s.PutOverride(ctx, ref, OverrideRecord{Description: "Two"}); err != nil {
		t.Fatalf("PutOverride again: %v", err)
	}
	got, err := s.GetOverride(ctx, ref)
	if err != nil {
		t.Fatalf("GetOverride: %v", err)
	}
	if diff := cmp.Diff(OverrideRecord{Description: "Two"}, got); diff != "" {
		t.Errorf("override mismatch (-want +got):\n%s", diff)
	}
}

func TestPostOverrideDropsHeading(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := s.PutOverride(ctx, Ref(KindPost, 1), OverrideRecord{Title: "T", H1: "ignored"}); err != nil {
		t.Fatalf("PutOverride: %v", err)
	}
	got, err := s.GetOverride(ctx, Ref(KindPost, 1))
	if err != nil {
		t.Fatalf("GetOverride: %v", err)
	}
	if got.H1 != "" {
		t.Errorf("post H1 = %q, want empty", got.H1)
	}

	// A heading alone is no override for a post.
	if err := s.PutOverride(ctx, Ref(KindPost, 2), OverrideRecord{H1: "only"}); err != nil {
		t.Fatalf("PutOverride: %v", err)
	}
	if _, err := s.GetOverride(ctx, Ref(KindPost, 2)); !errors.Is(err, ErrNoOverride) {
		t.Errorf("heading-only post override err = %v, want ErrNoOverride", err)
	}
}

func TestPutEmptyOverrideDeletes(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	ref := Ref(KindCategory, 5)

	if err := s.PutOverride(ctx, ref, OverrideRecord{Title: "Cat", UpdatedAt: time.Unix(100, 0)}); err != nil {
		t.Fatalf("PutOverride: %v", err)
	}
	if err := s.PutOverride(ctx, ref, OverrideRecord{}); err != nil {
		t.Fatalf("PutOverride empty: %v", err)
	}
	if _, err := s.GetOverride(ctx, ref); !errors.Is(err, ErrNoOverride) {
		t.Fatalf("GetOverride after empty put err = %v, want ErrNoOverride", err)
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM termmeta WHERE term_id = 5`).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if n != 0 {
		t.Errorf("%d meta rows left, want 0", n)
	}
}

func TestGetOverrides(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for _, id := range []int64{1, 3} {
		if err := s.PutOverride(ctx, Ref(KindPage, id), OverrideRecord{Title: "p"}); err != nil {
			t.Fatalf("PutOverride: %v", err)
		}
	}
	got, err := s.GetOverrides(ctx, KindPage, []int64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("GetOverrides: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetOverrides returned %d records, want 2", len(got))
	}
	if _, ok := got[2]; ok {
		t.Error("id 2 should have no override")
	}

	empty, err := s.GetOverrides(ctx, KindPage, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("GetOverrides(nil) = %v, %v", empty, err)
	}
	if _, err := s.GetOverrides(ctx, KindHomepage, []int64{1}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("GetOverrides(homepage) err = %v, want ErrInvalidInput", err)
	}
}

func TestGetOverridesMalformedJSON(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	if _, err := s.db.Exec(`INSERT INTO postmeta (post_id, meta_key, meta_value) VALUES (9, ?, '{not json')`, MetaKey(KindPost)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.GetOverride(context.Background(), Ref(KindPost, 9)); err == nil || errors.Is(err, ErrNoOverride) {
		t.Fatalf("GetOverride on malformed record err = %v, want decode error", err)
	}
}

func TestGetOverridesSkipsMalformedRecord(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	s.log = quietLogger()
	ctx := context.Background()

	for _, id := range []int64{1, 3} {
		if err := s.PutOverride(ctx, Ref(KindPost, id), OverrideRecord{Title: "T"}); err != nil {
			t.Fatalf("PutOverride: %v", err)
		}
	}
	if _, err := s.db.Exec(`INSERT INTO postmeta (post_id, meta_key, meta_value) VALUES (2, ?, '{not json')`, MetaKey(KindPost)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.GetOverrides(ctx, KindPost, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("GetOverrides: %v", err)
	}
	if len(got) != 2 || got[1].Title != "T" || got[3].Title != "T" {
		t.Errorf("GetOverrides = %+v, want posts 1 and 3", got)
	}
	if _, ok := got[2]; ok {
		t.Errorf("malformed record returned: %+v", got[2])
	}
}

func TestCountOverrides(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		if err := s.PutOverride(ctx, Ref(KindPost, id), OverrideRecord{Description: "d"}); err != nil {
			t.Fatalf("PutOverride: %v", err)
		}
	}
	if err := s.DeleteOverride(ctx, Ref(KindPost, 2)); err != nil {
		t.Fatalf("DeleteOverride: %v", err)
	}
	n, err := s.CountOverrides(ctx, KindPost)
	if err != nil || n != 2 {
		t.Errorf("CountOverrides = %d, %v; want 2", n, err)
	}
}

func TestHomepageMergeKeepsStoredValues(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := s.SetOption(ctx, OptionHomepage, `{"page_title":"Mine","h1_text":""}`); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	stored, err := s.LoadHomepage(ctx)
	if err != nil {
		t.Fatalf("LoadHomepage: %v", err)
	}
	got := stored.Merge(HomepageSettings{
		PageTitle:          "Default",
		MetaDescription:    "Default description",
		H1Text:             "Default heading",
		EnableCanonical:    FlagOff,
		RemoveCategoryBase: FlagOff,
	})
	want := HomepageSettings{
		PageTitle:          "Mine",
		MetaDescription:    "Default description",
		H1Text:             "",
		EnableCanonical:    FlagOff,
		RemoveCategoryBase: FlagOff,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestHomepageFlagsFromLegacyJSON(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := s.SetOption(ctx, OptionHomepage, `{"enable_canonical":true,"remove_category_base":0}`); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	stored, err := s.LoadHomepage(ctx)
	if err != nil {
		t.Fatalf("LoadHomepage: %v", err)
	}
	h := stored.Settings()
	if h.EnableCanonical != FlagOn || h.RemoveCategoryBase != FlagOff {
		t.Errorf("flags = %q/%q, want 1/0", h.EnableCanonical, h.RemoveCategoryBase)
	}
}

func TestHomepageOverrideDeleteKeepsFlags(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := s.SaveHomepage(ctx, HomepageSettings{PageTitle: "T", EnableCanonical: FlagOn, RemoveCategoryBase: FlagOn}); err != nil {
		t.Fatalf("SaveHomepage: %v", err)
	}
	rec, err := s.GetOverride(ctx, HomepageRef)
	if err != nil || rec.Title != "T" {
		t.Fatalf("GetOverride(homepage) = %+v, %v", rec, err)
	}
	if err := s.DeleteOverride(ctx, HomepageRef); err != nil {
		t.Fatalf("DeleteOverride: %v", err)
	}
	if _, err := s.GetOverride(ctx, HomepageRef); !errors.Is(err, ErrNoOverride) {
		t.Errorf("GetOverride after delete err = %v, want ErrNoOverride", err)
	}
	stored, err := s.LoadHomepage(ctx)
	if err != nil {
		t.Fatalf("LoadHomepage: %v", err)
	}
	h := stored.Settings()
	if h.EnableCanonical != FlagOn || h.RemoveCategoryBase != FlagOn {
		t.Errorf("flags lost on delete: %+v", h)
	}
}

func TestDeleteAll(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := s.SaveHomepage(ctx, HomepageSettings{PageTitle: "T"}); err != nil {
		t.Fatalf("SaveHomepage: %v", err)
	}
	if err := s.SetOption(ctx, OptionVersion, Version); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	if err := s.SetOption(ctx, "unrelated_option", "keep"); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	for _, ref := range []EntityRef{Ref(KindPost, 1), Ref(KindPage, 2), Ref(KindCategory, 3), Ref(KindTag, 4)} {
		if err := s.PutOverride(ctx, ref, OverrideRecord{Title: "x", UpdatedAt: time.Unix(1000, 0)}); err != nil {
			t.Fatalf("PutOverride(%s): %v", ref, err)
		}
	}
	if _, err := s.db.Exec(`INSERT INTO postmeta (post_id, meta_key, meta_value) VALUES (1, '_other_plugin', 'keep')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}

	for _, kind := range []EntityKind{KindPost, KindPage, KindCategory, KindTag} {
		if n, err := s.CountOverrides(ctx, kind); err != nil || n != 0 {
			t.Errorf("CountOverrides(%s) = %d, %v; want 0", kind, n, err)
		}
	}
	if _, ok, _ := s.GetOption(ctx, OptionHomepage); ok {
		t.Error("homepage option survived DeleteAll")
	}
	if _, ok, _ := s.GetOption(ctx, OptionVersion); ok {
		t.Error("version option survived DeleteAll")
	}
	if v, ok, _ := s.GetOption(ctx, "unrelated_option"); !ok || v != "keep" {
		t.Error("DeleteAll removed an option it does not own")
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM postmeta`).Scan(&n); err != nil {
		t.Fatalf("count postmeta: %v", err)
	}
	if n != 1 {
		t.Errorf("postmeta rows = %d, want 1 foreign row", n)
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := s.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	if _, err := s.db.Exec(`SELECT 1 FROM term_relationships`); err == nil {
		t.Fatal("term_relationships still exists after MigrateDown")
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := s.db.Exec(`SELECT 1 FROM term_relationships`); err != nil {
		t.Fatalf("term_relationships missing after Migrate: %v", err)
	}
}
