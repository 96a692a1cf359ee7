package seocontrol

import (
	"context"
	"strconv"
)

// Version is recorded in the store on every install.
const Version = "1.2.0"

// Install runs the install hooks. It is safe to run repeatedly: stored
// homepage values are kept and only missing fields get their defaults.
func (a *App) Install(ctx context.Context) error {
	return a.Hooks.Install(ctx)
}

// Uninstall runs the uninstall hooks, removing every stored override and
// setting.
func (a *App) Uninstall(ctx context.Context) error {
	return a.Hooks.Uninstall(ctx)
}

// installDefaults are the homepage values written on first install.
func installDefaults(cfg Config) HomepageSettings {
	return HomepageSettings{
		PageTitle:          defaultPageTitle(cfg),
		MetaDescription:    cfg.Tagline,
		EnableCanonical:    FlagOff,
		RemoveCategoryBase: FlagOff,
	}
}

func (a *App) install(ctx context.Context) error {
	if err := a.Store.Migrate(ctx); err != nil {
		return err
	}
	stored, err := a.Store.LoadHomepage(ctx)
	if err != nil {
		return err
	}
	if err := a.Store.SaveHomepage(ctx, stored.Merge(installDefaults(a.Config))); err != nil {
		return err
	}
	if err := a.Store.SetOption(ctx, OptionVersion, Version); err != nil {
		return err
	}
	if _, ok, err := a.Store.GetOption(ctx, OptionActivated); err != nil {
		return err
	} else if !ok {
		ts := strconv.FormatInt(a.now().Unix(), 10)
		if err := a.Store.SetOption(ctx, OptionActivated, ts); err != nil {
			return err
		}
	}
	a.flushCaches()
	a.Log.WithField("version", Version).Info("Installed")
	return nil
}

func (a *App) uninstall(ctx context.Context) error {
	if err := a.Store.DeleteAll(ctx); err != nil {
		return err
	}
	a.flushCaches()
	a.Log.Info("Uninstalled, all overrides removed")
	return nil
}

func (a *App) flushCaches() {
	a.Overrides.Flush()
	if a.Pages != nil {
		_ = a.Pages.Invalidate(context.Background())
	}
}
