// Package cli implements the studio command line.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digkill/ProduktStudio/internal/config"
	"github.com/digkill/ProduktStudio/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Options customize the root command; the zero value reads config from the
// environment.
type Options struct {
	LoadConfig func() (config.Config, error)
}

type runtime struct {
	opts      Options
	verbose   bool
	store     string
	storePath string
	app       *App
}

func NewRootCommand(opts Options) *cobra.Command {
	root, _ := newRoot(opts)
	return root
}

func newRoot(opts Options) (*cobra.Command, *runtime) {
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.Load
	}
	rt := &runtime{opts: opts}

	root := &cobra.Command{
		Use:   "studio",
		Short: "Generate product images from the command line",
		Long: `studio drives AI product-image generation from the terminal.

In backend mode (STUDIO_MODE=backend) it talks to the account backend: log in,
generate or combine images, browse your gallery and manage your subscription.
In direct mode (STUDIO_MODE=direct) it calls the image model with your own
API key and charges a local credit ledger instead.

Quick Start:
  studio login --email you@example.com --password ...
  studio generate "white sneaker on concrete" --aspect 16:9
  studio gallery --format yaml`,
		Version:           fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: rt.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return rt.close()
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&rt.store, "store", "", "Local store driver (file, memory, redis, mysql, sqlite)")
	flags.StringVar(&rt.storePath, "store-path", "", "Path of the file store or sqlite database")

	root.AddCommand(
		newLoginCmd(rt),
		newRegisterCmd(rt),
		newLogoutCmd(rt),
		newMeCmd(rt),
		newGenerateCmd(rt),
		newCombineCmd(rt),
		newAnalyzeCmd(rt),
		newGalleryCmd(rt),
		newPlansCmd(rt),
		newCheckoutCmd(rt),
		newActivateCmd(rt),
		newCreditsCmd(rt),
		newStudioCmd(rt),
		newHistoryCmd(rt),
		newServeCmd(rt),
		newBotCmd(rt),
	)
	return root, rt
}

// Execute runs the command line against ctx.
func Execute(ctx context.Context) error {
	root, rt := newRoot(Options{})
	// post-run hooks are skipped when a command fails
	defer rt.close()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), errorStyle.Render("Error: "+err.Error()))
		return err
	}
	return nil
}

func (rt *runtime) setup(cmd *cobra.Command, args []string) error {
	cfg, err := rt.opts.LoadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if rt.store != "" {
		cfg.StoreDriver = strings.ToLower(rt.store)
	}
	if rt.storePath != "" {
		if cfg.StoreDriver == config.StoreSQLite {
			cfg.SQLitePath = rt.storePath
		} else {
			cfg.StorePath = rt.storePath
		}
	}
	if rt.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel)
	app, err := Build(cmd.Context(), cfg, log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	rt.app = app
	return nil
}

// backendApp returns the app with its session resolved.
func (rt *runtime) backendApp(cmd *cobra.Command) (*App, error) {
	if err := rt.app.Resolve(cmd.Context()); err != nil {
		return nil, err
	}
	return rt.app, nil
}

func (rt *runtime) close() error {
	if rt.app == nil {
		return nil
	}
	err := rt.app.Close()
	rt.app = nil
	return err
}
