// Package telegram runs a chat front end for the direct studio flow. The bot
// answers only the configured owner chat, since it spends that owner's
// provider key and local credits.
package telegram

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/ProduktStudio/internal/models"
	"github.com/digkill/ProduktStudio/internal/service"
)

const aspectCallbackPrefix = "aspect:"

var aspectChoices = []string{"1:1", "16:9", "9:16", "4:3", "3:4"}

var errReferenceNotImage = errors.New("reference not image")

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Studio is the direct-mode flow the bot drives.
type Studio interface {
	Generate(ctx context.Context, req service.StudioRequest) (*service.StudioResult, error)
	Analyze(ctx context.Context, image models.ReferenceImage) (string, error)
	Credits(ctx context.Context) (int, error)
}

type Bot struct {
	api        API
	log        *slog.Logger
	studio     Studio
	ownerID    int64
	state      *StateManager
	httpClient *http.Client
}

func NewBot(api API, ownerChatID int64, log *slog.Logger, studio Studio) *Bot {
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		api:        api,
		log:        log,
		studio:     studio,
		ownerID:    ownerChatID,
		state:      NewStateManager(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "owner_chat", b.ownerID)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		if !b.allowed(update.Message.Chat) {
			b.log.Warn("ignoring message from foreign chat", "chat_id", update.Message.Chat.ID)
			return
		}
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		if update.CallbackQuery.Message == nil || !b.allowed(update.CallbackQuery.Message.Chat) {
			return
		}
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) allowed(chat *tgbotapi.Chat) bool {
	return chat != nil && chat.ID == b.ownerID
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if len(msg.Photo) > 0 || msg.Document != nil {
		if err := b.handleImage(ctx, msg); err != nil {
			if errors.Is(err, errReferenceNotImage) {
				b.sendText(msg.Chat.ID, "That is not an image. Send a photo or an image file.")
			} else {
				b.log.Error("reference download failed", "err", err)
				b.sendText(msg.Chat.ID, "Could not read the image, please try again.")
			}
		}
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	session := b.state.Get(msg.Chat.ID)
	switch session.State {
	case StateAwaitingPrompt:
		b.handlePrompt(ctx, msg, session)
	default:
		b.sendText(msg.Chat.ID, "Send /generate to start.")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		text := fmt.Sprintf(
			"Product studio.\n\nEach generated image costs %d credit. Attach up to %d reference images, then send a prompt.\n\nCommands:\n/generate - start a generation\n/analyze - describe the next image as a prompt\n/clearrefs - drop reference images\n/credits - show the balance",
			service.CreditsPerImage, service.MaxReferenceImages,
		)
		b.sendText(msg.Chat.ID, text)
	case "generate":
		b.promptAspectSelection(msg.Chat.ID)
	case "analyze":
		session := b.state.Get(msg.Chat.ID)
		session.State = StateAwaitingAnalyze
		b.state.Set(msg.Chat.ID, session)
		b.sendText(msg.Chat.ID, "Send the image to analyze.")
	case "credits":
		n, err := b.studio.Credits(ctx)
		if err != nil {
			b.log.Error("read credits", "err", err)
			b.sendText(msg.Chat.ID, "Could not read the balance.")
			return
		}
		b.sendText(msg.Chat.ID, fmt.Sprintf("Balance: %d credits", n))
	case "clearrefs":
		b.state.ClearReferences(msg.Chat.ID)
		b.sendText(msg.Chat.ID, "Reference images cleared.")
	default:
		b.sendText(msg.Chat.ID, "Unknown command. Use /generate.")
	}
}

func (b *Bot) promptAspectSelection(chatID int64) {
	session := b.state.Get(chatID)
	session.State = StateAwaitingAspect
	b.state.Set(chatID, session)

	row := make([]tgbotapi.InlineKeyboardButton, 0, len(aspectChoices))
	for _, ratio := range aspectChoices {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(ratio, aspectCallbackPrefix+ratio))
	}
	msg := tgbotapi.NewMessage(chatID, "Choose an aspect ratio.")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

func (b *Bot) handleCallback(_ context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID
	ratio, ok := strings.CutPrefix(cb.Data, aspectCallbackPrefix)
	if !ok {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "Unknown choice")); err != nil {
			b.log.Error("callback error", "err", err)
		}
		return
	}

	session := b.state.Get(chatID)
	session.State = StateAwaitingPrompt
	session.AspectRatio = ratio
	b.state.Set(chatID, session)
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, ratio)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
	b.sendText(chatID, fmt.Sprintf("Aspect %s. Attach up to %d reference images if needed, then send the prompt.", ratio, service.MaxReferenceImages))
}

func (b *Bot) handlePrompt(ctx context.Context, msg *tgbotapi.Message, session *Session) {
	prompt := strings.TrimSpace(msg.Text)
	if prompt == "" && len(session.References) == 0 {
		b.sendText(msg.Chat.ID, "The prompt must not be empty.")
		return
	}

	req := service.StudioRequest{
		Prompt:      prompt,
		AspectRatio: session.AspectRatio,
		References:  append([]models.ReferenceImage(nil), session.References...),
	}
	b.sendText(msg.Chat.ID, "Generating, this can take a minute.")

	result, err := b.studio.Generate(ctx, req)
	if err != nil {
		// The studio reports its own failures through the notifier; only
		// the ones it does not announce are answered here.
		if errors.Is(err, service.ErrGenerationInProgress) {
			b.sendText(msg.Chat.ID, "A generation is already running.")
			return
		}
		b.log.Error("generate", "err", err)
		return
	}

	b.deliverImages(msg.Chat.ID, result)
	b.state.Reset(msg.Chat.ID)
}

func (b *Bot) deliverImages(chatID int64, result *service.StudioResult) {
	caption := fmt.Sprintf("Credits left: %d", result.CreditsLeft)
	for i, img := range result.Images {
		var photo tgbotapi.PhotoConfig
		switch {
		case img.URL != "":
			photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(img.URL))
		default:
			data, err := base64.StdEncoding.DecodeString(img.Base64)
			if err != nil || len(data) == 0 {
				b.log.Error("decode generated image", "index", i, "err", err)
				continue
			}
			photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
				Name:  fmt.Sprintf("generation-%d.png", i+1),
				Bytes: data,
			})
		}
		if i == len(result.Images)-1 {
			photo.Caption = caption
		}
		if _, err := b.api.Send(photo); err != nil {
			b.log.Error("send image", "err", err)
		}
	}
}

func (b *Bot) handleImage(ctx context.Context, msg *tgbotapi.Message) error {
	var fileID string
	switch {
	case len(msg.Photo) > 0:
		fileID = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil:
		if mt := strings.ToLower(msg.Document.MimeType); mt != "" && !strings.HasPrefix(mt, "image/") {
			return errReferenceNotImage
		}
		fileID = msg.Document.FileID
	default:
		return nil
	}

	data, contentType, err := b.downloadFile(ctx, fileID)
	if err != nil {
		return err
	}
	image := models.ReferenceImage{MimeType: contentType, Base64: base64.StdEncoding.EncodeToString(data)}

	session := b.state.Get(msg.Chat.ID)
	if session.State == StateAwaitingAnalyze {
		session.State = StateIdle
		b.state.Set(msg.Chat.ID, session)
		prompt, err := b.studio.Analyze(ctx, image)
		if err != nil {
			b.log.Error("analyze", "err", err)
			return nil
		}
		b.sendText(msg.Chat.ID, prompt)
		return nil
	}

	session.References = append(session.References, image)
	if len(session.References) > service.MaxReferenceImages {
		session.References = session.References[len(session.References)-service.MaxReferenceImages:]
	}
	if session.State == StateIdle {
		session.State = StateAwaitingPrompt
	}
	b.state.Set(msg.Chat.ID, session)

	b.sendText(msg.Chat.ID, fmt.Sprintf("Reference saved (%d/%d). Send the prompt when ready.", len(session.References), service.MaxReferenceImages))
	return nil
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", errReferenceNotImage
	}
}
