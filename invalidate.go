package seocontrol

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

// Invalidator clears one external or in-process cache after an override
// changes. Each invalidator is optional; a failure never affects the save.
type Invalidator interface {
	Name() string
	Invalidate(ctx context.Context) error
}

type funcInvalidator struct {
	name string
	fn   func(ctx context.Context) error
}

func (f funcInvalidator) Name() string                         { return f.name }
func (f funcInvalidator) Invalidate(ctx context.Context) error { return f.fn(ctx) }

// InvalidatorFunc adapts fn into a named Invalidator.
func InvalidatorFunc(name string, fn func(ctx context.Context) error) Invalidator {
	return funcInvalidator{name: name, fn: fn}
}

// PurgeInvalidator sends an HTTP PURGE to each configured reverse-proxy URL.
type PurgeInvalidator struct {
	URLs    []string
	Client  *http.Client
	Retries uint64
}

// NewPurgeInvalidator returns a PurgeInvalidator with a short client timeout.
func NewPurgeInvalidator(urls []string) *PurgeInvalidator {
	return &PurgeInvalidator{
		URLs:    urls,
		Client:  &http.Client{Timeout: 5 * time.Second},
		Retries: 2,
	}
}

// Name implements Invalidator.
func (p *PurgeInvalidator) Name() string { return "http-purge" }

// Invalidate implements Invalidator. Server errors and transport failures
// are retried with exponential backoff; client errors are not.
func (p *PurgeInvalidator) Invalidate(ctx context.Context) error {
	var errs []error
	for _, u := range p.URLs {
		backoff := retry.WithMaxRetries(p.Retries, retry.NewExponential(100*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			return p.purge(ctx, u)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", u, err))
		}
	}
	return errors.Join(errs...)
}

func (p *PurgeInvalidator) purge(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, "PURGE", u, nil)
	if err != nil {
		return err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return retry.RetryableError(err)
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode >= 500:
		return retry.RetryableError(fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// invalidateAll runs every invalidator concurrently and waits for them.
// Panics and errors are logged per invalidator; the joined error is returned
// for callers that want it, but callers never fail a save on it.
func invalidateAll(ctx context.Context, log *logrus.Logger, workers int, timeout time.Duration, invs []Invalidator) error {
	if len(invs) == 0 {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	p := pool.New().WithMaxGoroutines(max(workers, 1)).WithContext(ctx)
	for _, inv := range invs {
		p.Go(func(ctx context.Context) (err error) {
			entry := log.WithField("invalidator", inv.Name())
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s: panic: %v", inv.Name(), r)
					entry.WithField("panic", r).Error("Cache invalidation panicked")
				}
			}()
			if err := inv.Invalidate(ctx); err != nil {
				entry.WithError(err).Warn("Cache invalidation failed")
				return fmt.Errorf("%s: %w", inv.Name(), err)
			}
			entry.Debug("Cache invalidated")
			return nil
		})
	}
	return p.Wait()
}
