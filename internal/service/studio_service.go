package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/ProduktStudio/internal/config"
	"github.com/digkill/ProduktStudio/internal/credits"
	"github.com/digkill/ProduktStudio/internal/gemini"
	"github.com/digkill/ProduktStudio/internal/localstore"
	"github.com/digkill/ProduktStudio/internal/models"
	"github.com/digkill/ProduktStudio/internal/notify"
)

// CreditsPerImage is charged against the local ledger per returned image.
const CreditsPerImage = 1

var (
	ErrAPIKeyMissing      = errors.New("no provider api key configured")
	ErrJournalUnavailable = errors.New("generation history needs a sql store")
)

const MsgAPIKeyMissing = "No API key set. Please enter your Google AI API key."

type ImageProvider interface {
	GenerateImages(ctx context.Context, apiKey, prompt string, refs []models.ReferenceImage, aspectRatio string) (*gemini.Result, error)
	AnalyzeImage(ctx context.Context, apiKey string, image models.ReferenceImage) (string, error)
}

type Publisher interface {
	PublishAll(ctx context.Context, images []models.GeneratedImage) ([]models.GeneratedImage, error)
}

type Journal interface {
	Log(ctx context.Context, record *models.GenerationRecord) error
	ListRecent(ctx context.Context, limit int) ([]models.GenerationRecord, error)
}

// StudioService runs generations straight against the image provider with
// the user's own API key. Credits come from the local ledger.
type StudioService struct {
	cfg       config.Config
	log       *slog.Logger
	provider  ImageProvider
	credits   *credits.Store
	kv        localstore.Store
	notifier  notify.Notifier
	dashboard *Dashboard
	publisher Publisher
	journal   Journal
}

type StudioOption func(*StudioService)

// WithPublisher uploads generated images and fills in their URLs.
func WithPublisher(p Publisher) StudioOption {
	return func(s *StudioService) { s.publisher = p }
}

// WithJournal records each generation.
func WithJournal(j Journal) StudioOption {
	return func(s *StudioService) { s.journal = j }
}

type StudioRequest struct {
	Prompt      string
	AspectRatio string
	Options     PromptOptions
	References  []models.ReferenceImage
}

type StudioResult struct {
	Prompt      string
	Images      []models.GeneratedImage
	Text        string
	CreditsLeft int
}

func NewStudioService(cfg config.Config, log *slog.Logger, provider ImageProvider, ledger *credits.Store, kv localstore.Store, notifier notify.Notifier, dashboard *Dashboard, opts ...StudioOption) *StudioService {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if dashboard == nil {
		dashboard = NewDashboard()
	}
	s := &StudioService{
		cfg:       cfg,
		log:       log,
		provider:  provider,
		credits:   ledger,
		kv:        kv,
		notifier:  notifier,
		dashboard: dashboard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// APIKey returns the stored key, falling back to GEMINI_API_KEY.
func (s *StudioService) APIKey(ctx context.Context) (string, error) {
	key, ok, err := s.kv.Get(ctx, localstore.KeyAPIKey)
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	if ok && strings.TrimSpace(key) != "" {
		return strings.TrimSpace(key), nil
	}
	return strings.TrimSpace(s.cfg.GeminiAPIKey), nil
}

func (s *StudioService) HasAPIKey(ctx context.Context) (bool, error) {
	key, err := s.APIKey(ctx)
	return key != "", err
}

func (s *StudioService) SetAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrAPIKeyMissing
	}
	if err := s.kv.Set(ctx, localstore.KeyAPIKey, key); err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	return nil
}

func (s *StudioService) Credits(ctx context.Context) (int, error) {
	return s.credits.GetCredits(ctx)
}

// Generate produces images for the request and charges one credit per
// image returned. Nothing is charged when the provider fails.
func (s *StudioService) Generate(ctx context.Context, req StudioRequest) (*StudioResult, error) {
	release, err := s.dashboard.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	key, err := s.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	if key == "" {
		s.notifier.Error(ctx, MsgAPIKeyMissing)
		return nil, ErrAPIKeyMissing
	}
	prompt := EnrichPrompt(req.Prompt, req.Options)
	if strings.TrimSpace(req.Prompt) == "" && len(req.References) == 0 {
		s.notifier.Error(ctx, MsgPromptRequired)
		return nil, ErrPromptRequired
	}
	if len(req.References) > MaxReferenceImages {
		s.notifier.Error(ctx, fmt.Sprintf("At most %d images allowed!", MaxReferenceImages))
		return nil, ErrTooManyImages
	}
	if req.AspectRatio != "" {
		if _, _, err := Dimensions(req.AspectRatio, s.cfg.BaseDimension); err != nil {
			s.notifier.Error(ctx, err.Error())
			return nil, err
		}
	}
	ok, _, err := s.credits.HasCredits(ctx, CreditsPerImage)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.notifier.Error(ctx, MsgInsufficientCredits)
		s.dashboard.SetView(models.ViewSubscription)
		return nil, ErrCreditsRequired
	}

	res, err := s.provider.GenerateImages(ctx, key, prompt, req.References, req.AspectRatio)
	if err != nil {
		s.notifier.Error(ctx, ProviderMessage(err))
		return nil, fmt.Errorf("generate images: %w", err)
	}

	left, err := s.credits.DeductCredits(ctx, CreditsPerImage*len(res.Images))
	if err != nil {
		return nil, fmt.Errorf("deduct credits: %w", err)
	}

	images := res.Images
	if s.publisher != nil {
		published, err := s.publisher.PublishAll(ctx, images)
		if err != nil {
			s.log.Warn("publishing generated images failed", "images", len(images), "err", err)
		} else {
			images = published
		}
	}

	if s.journal != nil {
		record := &models.GenerationRecord{
			Prompt:       prompt,
			AspectRatio:  req.AspectRatio,
			Images:       len(images),
			CreditsAfter: left,
		}
		if err := s.journal.Log(ctx, record); err != nil {
			s.log.Error("failed to log generation", "err", err)
		}
	}

	s.dashboard.SetView(models.ViewGallery)
	s.notifier.Success(ctx, MsgGenerationSucceeded)
	return &StudioResult{Prompt: prompt, Images: images, Text: res.Text, CreditsLeft: left}, nil
}

// Analyze derives a prompt from an image. It is free of charge.
func (s *StudioService) Analyze(ctx context.Context, image models.ReferenceImage) (string, error) {
	key, err := s.APIKey(ctx)
	if err != nil {
		return "", err
	}
	if key == "" {
		s.notifier.Error(ctx, MsgAPIKeyMissing)
		return "", ErrAPIKeyMissing
	}
	prompt, err := s.provider.AnalyzeImage(ctx, key, image)
	if err != nil {
		s.notifier.Error(ctx, ProviderMessage(err))
		return "", fmt.Errorf("analyze image: %w", err)
	}
	return prompt, nil
}

// History lists the most recent journaled generations.
func (s *StudioService) History(ctx context.Context, limit int) ([]models.GenerationRecord, error) {
	if s.journal == nil {
		return nil, ErrJournalUnavailable
	}
	return s.journal.ListRecent(ctx, limit)
}

// ProviderMessage is the user-facing text for a provider failure. Transport
// details never reach it.
func ProviderMessage(err error) string {
	var apiErr *gemini.APIError
	switch {
	case errors.Is(err, gemini.ErrNoImage):
		return "The model did not generate an image. Try a different prompt."
	case errors.Is(err, gemini.ErrEmptyResponse):
		return "No response from the model."
	case errors.Is(err, gemini.ErrUnavailable):
		return "Could not reach the image model. Try again later."
	case errors.As(err, &apiErr):
		return "Image model error: " + apiErr.Message
	default:
		return "Image generation failed."
	}
}
