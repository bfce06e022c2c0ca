// Package gemini calls the Google AI Studio generateContent endpoint for
// image generation and image-to-prompt analysis.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/digkill/ProduktStudio/internal/config"
	"github.com/digkill/ProduktStudio/internal/models"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

var (
	ErrAPIKeyRequired = errors.New("gemini api key required")
	ErrEmptyResponse  = errors.New("no response from model")
	ErrNoImage        = errors.New("model returned no image; try a different prompt")
	ErrUnavailable    = errors.New("gemini service unreachable")
)

// APIError is a non-2xx answer from the provider. Message is the provider's
// own explanation when it sent one.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return "gemini api error: " + e.Message
}

const analyzeInstruction = `Analyze this image and write an ultra-detailed English prompt that could recreate it exactly.
Describe:
- main subject and composition
- lighting and shadows
- color palette and mood
- materials and textures
- camera angle and perspective
- background and setting
- style (photorealistic, illustrated, etc.)

Return ONLY the prompt, without explanations or introductions.`

// AnalyzeFallback is returned when analysis yields no text.
const AnalyzeFallback = "Analysis could not produce a prompt."

// Result holds every image part and the concatenated text of one response.
type Result struct {
	Images []models.GeneratedImage
	Text   string
}

type Client struct {
	baseURL    string
	imageModel string
	textModel  string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// image generation routinely outlasts the backend request timeout
	if timeout < 2*time.Minute {
		timeout = 2 * time.Minute
	}
	return NewClientWithHTTP(cfg.GeminiBaseURL, cfg.GeminiImageModel, cfg.GeminiTextModel, &http.Client{Timeout: timeout}, log)
}

func NewClientWithHTTP(baseURL, imageModel, textModel string, httpClient *http.Client, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		imageModel: normalizeModel(imageModel),
		textModel:  normalizeModel(textModel),
		httpClient: httpClient,
		log:        log,
	}
}

// GenerateImages sends the prompt plus any reference images and extracts
// every returned image. aspectRatio is passed through as a hint when set.
func (c *Client) GenerateImages(ctx context.Context, apiKey, prompt string, refs []models.ReferenceImage, aspectRatio string) (*Result, error) {
	parts := []part{{Text: prompt}}
	for _, ref := range refs {
		mime := ref.MimeType
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, part{InlineData: &inlineData{MimeType: mime, Data: ref.Base64}})
	}

	reqBody := generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}
	if aspectRatio != "" {
		reqBody.GenerationConfig.ImageConfig = &imageConfig{AspectRatio: aspectRatio}
	}

	var resp generateResponse
	if err := c.doJSON(ctx, apiKey, c.imageModel, reqBody, &resp); err != nil {
		return nil, err
	}
	result, err := extractImages(&resp)
	if err != nil {
		return nil, err
	}
	c.log.Info("gemini images generated", "model", c.imageModel, "images", len(result.Images), "references", len(refs))
	return result, nil
}

// AnalyzeImage asks the text model for a prompt describing the image.
func (c *Client) AnalyzeImage(ctx context.Context, apiKey string, image models.ReferenceImage) (string, error) {
	mime := image.MimeType
	if mime == "" {
		mime = "image/png"
	}
	reqBody := generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: analyzeInstruction},
				{InlineData: &inlineData{MimeType: mime, Data: image.Base64}},
			},
		}},
	}

	var resp generateResponse
	if err := c.doJSON(ctx, apiKey, c.textModel, reqBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return AnalyzeFallback, nil
	}
	var texts []string
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	if len(texts) == 0 {
		return AnalyzeFallback, nil
	}
	return strings.Join(texts, "\n"), nil
}

// extractImages collects the inline images and text of the first candidate.
func extractImages(resp *generateResponse) (*Result, error) {
	if resp == nil || len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyResponse
	}

	result := &Result{}
	for _, p := range resp.Candidates[0].Content.Parts {
		switch {
		case p.Text != "":
			result.Text += p.Text
		case p.InlineData != nil:
			result.Images = append(result.Images, models.GeneratedImage{
				MimeType: p.InlineData.MimeType,
				Base64:   p.InlineData.Data,
				DataURL:  fmt.Sprintf("data:%s;base64,%s", p.InlineData.MimeType, p.InlineData.Data),
			})
		}
	}
	if len(result.Images) == 0 {
		return nil, ErrNoImage
	}
	return result, nil
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	return strings.TrimPrefix(model, "models/")
}

func (c *Client) doJSON(ctx context.Context, apiKey, model string, payload any, out any) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ErrAPIKeyRequired
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.log.Error("gemini request failed", "model", model, "err", err)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.Unmarshal(rawBody, &errResp)
		c.log.Error("gemini request failed", "model", model, "status", resp.StatusCode)
		msg := errResp.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
