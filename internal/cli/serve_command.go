package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand(globalOptions *GlobalOptions) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin console and site middleware",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), globalOptions)
		},
	}

	f := serveCmd.Flags()
	f.String("addr", "", "Listen address. (Env: SEOCONTROL_ADDR)")
	f.String("url", "", "Public site URL used for canonical and view links. (Env: SEOCONTROL_URL)")
	f.String("site-name", "", "Site name used in homepage defaults. (Env: SEOCONTROL_SITE_NAME)")
	f.String("tagline", "", "Site tagline used in homepage defaults. (Env: SEOCONTROL_TAGLINE)")
	f.String("category-base", "", "Category URL segment. (Env: SEOCONTROL_CATEGORY_BASE)")
	f.Bool("site", false, "Serve the bundled content tables as a site. (Env: SEOCONTROL_SITE=true)")
	f.Bool("cookie-secure", false, "Mark session and CSRF cookies Secure. (Env: SEOCONTROL_COOKIE_SECURE=true)")
	f.Duration("page-cache-ttl", 0, "Cache rendered pages for this long; 0 disables. (Env: SEOCONTROL_PAGE_CACHE_TTL)")
	f.StringSlice("purge-url", nil, "Reverse-proxy URL sent PURGE after every save, repeatable. (Env: SEOCONTROL_PURGE_URL, space separated)")

	return serveCmd
}

// serve installs defaults if needed and runs the server until ctx ends or
// the process is interrupted.
func serve(ctx context.Context, globalOptions *GlobalOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := globalOptions.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Install(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	globalOptions.Logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
