package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/ProduktStudio/internal/backend"
	"github.com/digkill/ProduktStudio/internal/config"
	"github.com/digkill/ProduktStudio/internal/credits"
	"github.com/digkill/ProduktStudio/internal/gemini"
	"github.com/digkill/ProduktStudio/internal/localstore"
	"github.com/digkill/ProduktStudio/internal/notify"
	"github.com/digkill/ProduktStudio/internal/repository"
	"github.com/digkill/ProduktStudio/internal/service"
	"github.com/digkill/ProduktStudio/internal/session"
	"github.com/digkill/ProduktStudio/internal/storage"
)

// App is the wired object graph shared by every command.
type App struct {
	Config     config.Config
	Log        *slog.Logger
	Store      localstore.Store
	Notifier   notify.Notifier
	Session    *session.Session
	Dashboard  *service.Dashboard
	Credits    *credits.Store
	Generation *service.GenerationService
	Payments   *service.PaymentService
	Studio     *service.StudioService

	// Telegram is set when TELEGRAM_BOT_TOKEN is configured and the token
	// was accepted.
	Telegram *tgbotapi.BotAPI
}

// Build opens the local store and constructs the services for cfg.
// Notifications are printed to errOut.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger, errOut io.Writer) (*App, error) {
	store, err := localstore.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	notifiers := notify.Multi{notify.NewConsole(errOut)}
	var botAPI *tgbotapi.BotAPI
	if cfg.TelegramBotToken != "" {
		botAPI, err = tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Warn("telegram notifications disabled", "err", err)
			botAPI = nil
		} else {
			notifiers = append(notifiers, notify.NewTelegram(botAPI, cfg.TelegramChatID, log))
		}
	}

	client := backend.NewClient(cfg, log)
	sess := session.New(store, client, notifiers, cfg.FreeSignupCredits, log)
	dashboard := service.NewDashboard()
	ledger := credits.NewStore(store, cfg.StartingCredits, log)

	var studioOpts []service.StudioOption
	if sqlStore, ok := store.(*localstore.SQLStore); ok {
		studioOpts = append(studioOpts, service.WithJournal(repository.NewGenerationRepository(sqlStore.DB())))
	}
	if cfg.PublishingEnabled() {
		uploader, err := storage.NewUploader(storage.ConfigFrom(cfg))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("storage uploader: %w", err)
		}
		studioOpts = append(studioOpts, service.WithPublisher(uploader))
	}

	return &App{
		Config:     cfg,
		Log:        log,
		Store:      store,
		Notifier:   notifiers,
		Session:    sess,
		Dashboard:  dashboard,
		Credits:    ledger,
		Generation: service.NewGenerationService(cfg, log, client, sess, notifiers, dashboard, nil),
		Payments:   service.NewPaymentService(cfg, log, client, sess, notifiers, nil, nil),
		Studio:     service.NewStudioService(cfg, log, gemini.NewClient(cfg, log), ledger, store, notifiers, dashboard, studioOpts...),
		Telegram:   botAPI,
	}, nil
}

// Resolve loads the persisted session; commands that talk to the backend
// call it first.
func (a *App) Resolve(ctx context.Context) error {
	return a.Session.Resolve(ctx)
}

func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	if err := a.Store.Close(); err != nil && !errors.Is(err, localstore.ErrClosed) {
		return err
	}
	return nil
}
