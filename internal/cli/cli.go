// Package cli is the seocontrol command line: serving the admin console,
// running migrations and the install and uninstall lifecycle.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eringen/seocontrol"
)

// EnvPrefix prefixes every environment variable the CLI reads, e.g.
// SEOCONTROL_ADMIN_PASSWORD.
const EnvPrefix = "SEOCONTROL"

type GlobalOptions struct {
	CfgFilePath string
	LogLevel    string
	Database    string

	Logger *logrus.Logger
	Conf   seocontrol.Config

	v *viper.Viper
}

func newGlobalOptions() *GlobalOptions {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return &GlobalOptions{v: v}
}

func NewRootCMD() *cobra.Command {
	return newRootCMD(newGlobalOptions())
}

func newRootCMD(globalOptions *GlobalOptions) *cobra.Command {
	rootCMD := &cobra.Command{
		Use:           "seocontrol",
		Short:         "SEO override console",
		Long:          "Overrides titles, meta descriptions, headings, canonical links and the category URL structure of a site.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return globalOptions.load(cmd)
		},
	}

	globalOptions.registerFlags(rootCMD)

	rootCMD.AddCommand(NewServeCommand(globalOptions))
	rootCMD.AddCommand(NewMigrateCommand(globalOptions))
	rootCMD.AddCommand(NewInstallCommand(globalOptions))
	rootCMD.AddCommand(NewUninstallCommand(globalOptions))
	rootCMD.AddCommand(NewVersionCommand())

	return rootCMD
}

func (options *GlobalOptions) registerFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&options.CfgFilePath, "config", "seocontrol.toml", "Path to the TOML configuration file. (Env: SEOCONTROL_CONFIG)")
	cmd.PersistentFlags().StringVar(&options.LogLevel, "log-level", "", "Logging level (trace, debug, info, warn, error). (Env: SEOCONTROL_LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&options.Database, "database", "", "Path to the SQLite database. (Env: SEOCONTROL_DATABASE)")
}

// load reads the configuration file and applies environment variables and
// flags over it, in that order of precedence.
func (options *GlobalOptions) load(cmd *cobra.Command) error {
	v := options.v
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	path := v.GetString("config")
	conf, err := seocontrol.LoadConfig(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || v.IsSet("config") {
			return fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
		conf = seocontrol.Config{}
	}
	options.applyOverrides(&conf)
	options.Conf = conf

	if options.Logger == nil {
		options.Logger = seocontrol.NewLogger(conf.LogLevel)
	}
	return nil
}

func (options *GlobalOptions) applyOverrides(c *seocontrol.Config) {
	v := options.v
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	str("log-level", &c.LogLevel)
	str("database", &c.DatabasePath)
	str("addr", &c.Addr)
	str("url", &c.URL)
	str("site-name", &c.SiteName)
	str("tagline", &c.Tagline)
	str("category-base", &c.CategoryBase)

	// Secrets come from the environment only.
	str("admin-password", &c.AdminPassword)
	str("session-secret", &c.SessionSecret)

	if v.IsSet("site") {
		c.ServeSite = v.GetBool("site")
	}
	if v.IsSet("cookie-secure") {
		c.CookieSecure = v.GetBool("cookie-secure")
	}
	if v.IsSet("page-cache-ttl") {
		c.PageCacheTTL = v.GetDuration("page-cache-ttl")
	}
	if v.IsSet("purge-url") {
		c.PurgeURLs = seocontrol.FilterEmpty(v.GetStringSlice("purge-url"))
	}
}

// openApp builds an App from the loaded configuration.
func (options *GlobalOptions) openApp() (*seocontrol.App, error) {
	return seocontrol.New(options.Conf, seocontrol.WithLogger(options.Logger))
}

func Execute() {
	if err := NewRootCMD().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
