package seocontrol

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
)

const homepageCacheKey = "homepage"

// OverrideReader is the read side of the store used on the render path.
type OverrideReader interface {
	GetOverride(ctx context.Context, ref EntityRef) (OverrideRecord, error)
	LoadHomepage(ctx context.Context) (StoredHomepage, error)
}

type cachedOverride struct {
	rec OverrideRecord
	ok  bool
}

// OverrideCache memoizes override lookups and the homepage settings with a
// TTL so rendering a page does not hit the database. Misses are cached too.
type OverrideCache struct {
	reader OverrideReader
	c      *cache.Cache
}

// NewOverrideCache creates an OverrideCache backed by r.
func NewOverrideCache(r OverrideReader, ttl time.Duration) *OverrideCache {
	return &OverrideCache{reader: r, c: cache.New(ttl, 2*ttl)}
}

// Override returns the override for ref. ok is false when none is stored.
func (oc *OverrideCache) Override(ctx context.Context, ref EntityRef) (OverrideRecord, bool, error) {
	key := ref.String()
	if v, found := oc.c.Get(key); found {
		co := v.(cachedOverride)
		return co.rec, co.ok, nil
	}
	rec, err := oc.reader.GetOverride(ctx, ref)
	switch {
	case errors.Is(err, ErrNoOverride):
		oc.c.SetDefault(key, cachedOverride{})
		return OverrideRecord{}, false, nil
	case err != nil:
		return OverrideRecord{}, false, err
	}
	oc.c.SetDefault(key, cachedOverride{rec: rec, ok: true})
	return rec, true, nil
}

// Homepage returns the stored homepage settings with unset fields empty.
func (oc *OverrideCache) Homepage(ctx context.Context) (HomepageSettings, error) {
	if v, found := oc.c.Get(homepageCacheKey); found {
		return v.(HomepageSettings), nil
	}
	p, err := oc.reader.LoadHomepage(ctx)
	if err != nil {
		return HomepageSettings{}, err
	}
	h := p.Settings()
	oc.c.SetDefault(homepageCacheKey, h)
	return h, nil
}

// Forget drops the cached entry for ref. Homepage refs flush everything
// because the homepage record also carries the site-wide flags.
func (oc *OverrideCache) Forget(ref EntityRef) {
	if ref.Kind == KindHomepage {
		oc.Flush()
		return
	}
	oc.c.Delete(ref.String())
}

// Flush clears the cache so the next read triggers a fresh load.
func (oc *OverrideCache) Flush() {
	oc.c.Flush()
}

// CachedPage is a rendered response kept by PageCache.
type CachedPage struct {
	Status int
	Header http.Header
	Body   []byte
}

// PageCache keeps rendered pages for marked routes. Entries are stored after
// substitution, so any override save must flush it.
type PageCache struct {
	c *cache.Cache
}

// NewPageCache creates a PageCache with the given TTL.
func NewPageCache(ttl time.Duration) *PageCache {
	return &PageCache{c: cache.New(ttl, 2*ttl)}
}

// Get returns the cached page for key.
func (pc *PageCache) Get(key string) (CachedPage, bool) {
	v, found := pc.c.Get(key)
	if !found {
		return CachedPage{}, false
	}
	return v.(CachedPage), true
}

// Set stores a page under key.
func (pc *PageCache) Set(key string, p CachedPage) {
	pc.c.SetDefault(key, p)
}

// Len returns the number of cached pages, expired ones included.
func (pc *PageCache) Len() int {
	return pc.c.ItemCount()
}

// Name implements Invalidator.
func (pc *PageCache) Name() string { return "page-cache" }

// Invalidate implements Invalidator.
func (pc *PageCache) Invalidate(context.Context) error {
	pc.c.Flush()
	return nil
}
