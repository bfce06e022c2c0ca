package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/ProduktStudio/internal/backend"
	"github.com/digkill/ProduktStudio/internal/config"
	"github.com/digkill/ProduktStudio/internal/models"
	"github.com/digkill/ProduktStudio/internal/notify"
	"github.com/digkill/ProduktStudio/internal/poller"
	"github.com/digkill/ProduktStudio/internal/session"
)

const MaxReferenceImages = 5

var (
	ErrCreditsRequired      = errors.New("insufficient credits, payment required")
	ErrPromptRequired       = errors.New("prompt or reference image required")
	ErrNotAuthenticated     = session.ErrNotAuthenticated
	ErrGenerationInProgress = errors.New("a generation is already in progress")
	ErrImagesRequired       = errors.New("at least one image required")
	ErrTooManyImages        = fmt.Errorf("at most %d images allowed", MaxReferenceImages)
	ErrInvalidAspectRatio   = errors.New("invalid aspect ratio")
)

const (
	MsgInsufficientCredits = "Insufficient credits! Please purchase a subscription to continue."
	MsgGenerationStarted   = "Image generation started! Please wait..."
	MsgGenerationSucceeded = "Image generated successfully!"
	MsgGenerationFailed    = "Image generation failed"
	MsgGenerationTimedOut  = "Image generation timed out. Please try again."
	MsgStatusCheckFailed   = "Failed to check image status."
	MsgCancelled           = "Cancelled."
	MsgLoginRequired       = "Please log in to continue."
	MsgPromptRequired      = "Please enter a prompt or upload a reference image."
	MsgAnalyzeFailed       = "Image analysis failed"
	MsgGalleryFailed       = "Failed to load your images"
)

// Account is the authenticated session as seen by the flows.
type Account interface {
	Token() string
	User() *models.User
	Refresh(ctx context.Context) error
}

type GenerationBackend interface {
	GenerateImage(ctx context.Context, token string, params models.GenerationParams) (string, error)
	CombineImages(ctx context.Context, token string, images []string, prompt string) (string, error)
	ImageStatus(ctx context.Context, token, jobID string) (*models.GenerationJob, error)
	UserImages(ctx context.Context, token string) ([]models.GenerationJob, error)
	AnalyzeImage(ctx context.Context, token, imageBase64 string) (string, error)
}

type GenerationService struct {
	cfg       config.Config
	log       *slog.Logger
	api       GenerationBackend
	account   Account
	notifier  notify.Notifier
	dashboard *Dashboard
	jobs      *poller.Poller[*models.GenerationJob]
}

type GenerationRequest struct {
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Options        PromptOptions
	Reference      *models.ReferenceImage
}

type GenerationResult struct {
	JobID   string                 `json:"job_id"`
	Prompt  string                 `json:"prompt"`
	Job     *models.GenerationJob  `json:"job"`
	Gallery []models.GenerationJob `json:"gallery,omitempty"`
}

func NewGenerationService(cfg config.Config, log *slog.Logger, api GenerationBackend, account Account, notifier notify.Notifier, dashboard *Dashboard, clock poller.Clock) *GenerationService {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if dashboard == nil {
		dashboard = NewDashboard()
	}
	if clock == nil {
		clock = poller.RealClock()
	}
	s := &GenerationService{
		cfg:       cfg,
		log:       log,
		api:       api,
		account:   account,
		notifier:  notifier,
		dashboard: dashboard,
	}
	s.jobs = poller.New("generation",
		poller.Config{
			Interval:    cfg.GenerationPollInterval,
			MaxAttempts: cfg.GenerationPollAttempts,
			Backoff:     cfg.PollBackoff,
			MaxInterval: 4 * cfg.GenerationPollInterval,
		},
		func(ctx context.Context, id string) (*models.GenerationJob, error) {
			return s.api.ImageStatus(ctx, s.account.Token(), id)
		},
		classifyJob,
		poller.WithClock[*models.GenerationJob](clock),
		poller.WithLogger[*models.GenerationJob](log),
	)
	return s
}

func classifyJob(job *models.GenerationJob) (poller.Outcome, string) {
	switch job.Status {
	case models.JobCompleted:
		return poller.Succeeded, ""
	case models.JobFailed:
		if job.ErrorMessage != "" {
			return poller.Failed, job.ErrorMessage
		}
		return poller.Failed, MsgGenerationFailed
	default:
		return poller.Pending, ""
	}
}

func (s *GenerationService) Dashboard() *Dashboard {
	return s.dashboard
}

// Generate submits a text-to-image job and waits for it to finish. With
// only a reference image, the prompt is first derived from the image.
func (s *GenerationService) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	release, err := s.dashboard.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.checkAccount(ctx, s.cfg.GenerationCost); err != nil {
		return nil, err
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" && req.Reference == nil {
		s.notifier.Error(ctx, MsgPromptRequired)
		return nil, ErrPromptRequired
	}
	width, height, err := Dimensions(req.AspectRatio, s.cfg.BaseDimension)
	if err != nil {
		s.notifier.Error(ctx, err.Error())
		return nil, err
	}

	token := s.account.Token()
	if prompt == "" {
		prompt, err = s.api.AnalyzeImage(ctx, token, req.Reference.Base64)
		if err != nil {
			s.notifier.Error(ctx, backend.Detail(err, MsgAnalyzeFailed))
			return nil, fmt.Errorf("analyze reference: %w", err)
		}
		s.log.Info("prompt derived from reference image", "chars", len(prompt))
	}

	params := models.GenerationParams{
		Prompt:         EnrichPrompt(prompt, req.Options),
		NegativePrompt: strings.TrimSpace(req.NegativePrompt),
		Width:          width,
		Height:         height,
	}
	result, err := s.submitAndWait(ctx, func() (string, error) {
		return s.api.GenerateImage(ctx, token, params)
	})
	if result != nil {
		result.Prompt = params.Prompt
	}
	return result, err
}

// Combine submits 1 to 5 images with an instruction prompt.
func (s *GenerationService) Combine(ctx context.Context, images []models.ReferenceImage, prompt string) (*GenerationResult, error) {
	release, err := s.dashboard.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.checkAccount(ctx, s.cfg.CombineCost); err != nil {
		return nil, err
	}
	switch {
	case len(images) == 0:
		s.notifier.Error(ctx, "Please upload at least one image.")
		return nil, ErrImagesRequired
	case len(images) > MaxReferenceImages:
		s.notifier.Error(ctx, fmt.Sprintf("At most %d images allowed!", MaxReferenceImages))
		return nil, ErrTooManyImages
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		s.notifier.Error(ctx, "Please describe how the images should be combined.")
		return nil, ErrPromptRequired
	}

	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = img.Base64
	}
	token := s.account.Token()
	result, err := s.submitAndWait(ctx, func() (string, error) {
		return s.api.CombineImages(ctx, token, encoded, prompt)
	})
	if result != nil {
		result.Prompt = prompt
	}
	return result, err
}

// Analyze returns a prompt describing image.
func (s *GenerationService) Analyze(ctx context.Context, image models.ReferenceImage) (string, error) {
	token := s.account.Token()
	if token == "" {
		s.notifier.Error(ctx, MsgLoginRequired)
		return "", ErrNotAuthenticated
	}
	prompt, err := s.api.AnalyzeImage(ctx, token, image.Base64)
	if err != nil {
		s.notifier.Error(ctx, backend.Detail(err, MsgAnalyzeFailed))
		return "", fmt.Errorf("analyze image: %w", err)
	}
	return prompt, nil
}

// Gallery lists the user's completed generations.
func (s *GenerationService) Gallery(ctx context.Context) ([]models.GenerationJob, error) {
	token := s.account.Token()
	if token == "" {
		s.notifier.Error(ctx, MsgLoginRequired)
		return nil, ErrNotAuthenticated
	}
	jobs, err := s.api.UserImages(ctx, token)
	if err != nil {
		s.notifier.Error(ctx, backend.Detail(err, MsgGalleryFailed))
		return nil, fmt.Errorf("list images: %w", err)
	}
	return jobs, nil
}

// checkAccount enforces the preconditions that must hold before any
// network call.
func (s *GenerationService) checkAccount(ctx context.Context, cost int) error {
	user := s.account.User()
	if user == nil || s.account.Token() == "" {
		s.notifier.Error(ctx, MsgLoginRequired)
		return ErrNotAuthenticated
	}
	if user.Credits < cost {
		s.notifier.Error(ctx, MsgInsufficientCredits)
		s.dashboard.SetView(models.ViewSubscription)
		return ErrCreditsRequired
	}
	return nil
}

func (s *GenerationService) submitAndWait(ctx context.Context, submit func() (string, error)) (*GenerationResult, error) {
	jobID, err := submit()
	if err != nil {
		s.notifier.Error(ctx, backend.Detail(err, MsgGenerationFailed))
		return nil, fmt.Errorf("submit generation: %w", err)
	}
	s.notifier.Info(ctx, MsgGenerationStarted)

	if err := s.account.Refresh(ctx); err != nil {
		s.log.Warn("refresh after submit failed", "job_id", jobID, "err", err)
	}

	job, err := s.jobs.Poll(ctx, jobID)
	if err != nil {
		s.notifyPollError(ctx, err)
		return nil, fmt.Errorf("poll job %s: %w", jobID, err)
	}

	result := &GenerationResult{JobID: jobID, Job: job}
	gallery, err := s.api.UserImages(ctx, s.account.Token())
	if err != nil {
		s.log.Warn("gallery refresh failed", "job_id", jobID, "err", err)
	} else {
		result.Gallery = gallery
	}
	s.dashboard.SetView(models.ViewGallery)
	s.notifier.Success(ctx, MsgGenerationSucceeded)
	return result, nil
}

func (s *GenerationService) notifyPollError(ctx context.Context, err error) {
	var failed *poller.FailedError
	var transport *poller.TransportError
	switch {
	case errors.As(err, &failed):
		s.notifier.Error(ctx, failed.Message)
	case errors.Is(err, poller.ErrTimeout):
		s.notifier.Error(ctx, MsgGenerationTimedOut)
	case errors.As(err, &transport):
		s.notifier.Error(ctx, MsgStatusCheckFailed)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.notifier.Info(ctx, MsgCancelled)
	default:
		s.notifier.Error(ctx, MsgGenerationFailed)
	}
}
