package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/digkill/ProduktStudio/internal/admin"
	"github.com/digkill/ProduktStudio/internal/telegram"
)

func newServeCmd(rt *runtime) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the studio over a local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.backendApp(cmd)
			if err != nil {
				return err
			}
			cfg := app.Config
			if addr == "" {
				addr = cfg.AdminListenAddr
			}
			srv := admin.NewServer(addr, cfg.AdminUsername, cfg.AdminPassword, app.Log, admin.Deps{
				Mode:       cfg.Mode,
				Session:    app.Session,
				Generation: app.Generation,
				Payments:   app.Payments,
				Studio:     app.Studio,
				Credits:    app.Credits,
			})
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to ADMIN_LISTEN_ADDR)")
	return cmd
}

func newBotCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot for the owner chat (direct mode)",
		Long: `bot serves the chat configured by TELEGRAM_CHAT_ID: send /generate, pick an
aspect ratio, attach reference photos and send a prompt. Generations use the
stored provider key and the local credit ledger.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := rt.app
			if app.Telegram == nil {
				return errors.New("telegram bot unavailable: set TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID")
			}
			bot := telegram.NewBot(app.Telegram, app.Config.TelegramChatID, app.Log, app.Studio)
			if err := bot.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
