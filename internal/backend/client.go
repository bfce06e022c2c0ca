package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/digkill/ProduktStudio/internal/config"
	"github.com/digkill/ProduktStudio/internal/models"
)

// APIError is a non-2xx answer from the backend. Detail carries the
// server-supplied message when there is one.
type APIError struct {
	Status int
	Detail string
	URL    string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("backend error: status=%d url=%s", e.Status, e.URL)
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// Detail extracts the server message from err, or returns fallback.
func Detail(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewClientWithHTTP(cfg.BackendURL, &http.Client{Timeout: timeout}, log)
}

func NewClientWithHTTP(baseURL string, httpClient *http.Client, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	payload := map[string]string{"email": email, "password": password}
	var resp tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", "", payload, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("empty access_token in login response")
	}
	return resp.AccessToken, nil
}

func (c *Client) Register(ctx context.Context, email, username, password string) (string, error) {
	payload := map[string]string{"email": email, "username": username, "password": password}
	var resp tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", "", payload, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("empty access_token in register response")
	}
	return resp.AccessToken, nil
}

func (c *Client) Me(ctx context.Context, token string) (*models.User, error) {
	var user models.User
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me", token, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Plans returns the subscription plans ordered by price.
func (c *Client) Plans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	var raw map[string]models.SubscriptionPlan
	if err := c.doJSON(ctx, http.MethodGet, "/subscription/plans", "", nil, &raw); err != nil {
		return nil, err
	}
	plans := make([]models.SubscriptionPlan, 0, len(raw))
	for id, plan := range raw {
		plan.ID = id
		plans = append(plans, plan)
	}
	sort.Slice(plans, func(i, j int) bool {
		if cmp := plans[i].Price.Cmp(plans[j].Price); cmp != 0 {
			return cmp < 0
		}
		return plans[i].ID < plans[j].ID
	})
	return plans, nil
}

// Checkout opens a payment session for planID. The plan id is sent both in
// the body and the query string; deployed backends read it from either.
func (c *Client) Checkout(ctx context.Context, token, planID string) (*models.Checkout, error) {
	path := "/subscription/checkout?" + url.Values{"plan_id": {planID}}.Encode()
	var resp models.Checkout
	if err := c.doJSON(ctx, http.MethodPost, path, token, map[string]string{"plan_id": planID}, &resp); err != nil {
		return nil, err
	}
	if resp.URL == "" {
		return nil, fmt.Errorf("empty checkout_url in checkout response")
	}
	return &resp, nil
}

func (c *Client) SubscriptionStatus(ctx context.Context, token, sessionID string) (*models.PaymentStatus, error) {
	var resp models.PaymentStatus
	if err := c.doJSON(ctx, http.MethodGet, "/subscription/status/"+url.PathEscape(sessionID), token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type jobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (c *Client) GenerateImage(ctx context.Context, token string, params models.GenerationParams) (string, error) {
	var resp jobResponse
	if err := c.doJSON(ctx, http.MethodPost, "/generate-image", token, params, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("empty job_id in generate response")
	}
	c.log.Info("generation job created", "job_id", resp.JobID)
	return resp.JobID, nil
}

func (c *Client) CombineImages(ctx context.Context, token string, images []string, prompt string) (string, error) {
	payload := map[string]any{"images": images, "prompt": prompt}
	var resp jobResponse
	if err := c.doJSON(ctx, http.MethodPost, "/combine-images", token, payload, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("empty job_id in combine response")
	}
	c.log.Info("combine job created", "job_id", resp.JobID)
	return resp.JobID, nil
}

func (c *Client) ImageStatus(ctx context.Context, token, jobID string) (*models.GenerationJob, error) {
	var job models.GenerationJob
	if err := c.doJSON(ctx, http.MethodGet, "/image-status/"+url.PathEscape(jobID), token, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) UserImages(ctx context.Context, token string) ([]models.GenerationJob, error) {
	var jobs []models.GenerationJob
	if err := c.doJSON(ctx, http.MethodGet, "/user/images", token, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *Client) AnalyzeImage(ctx context.Context, token, imageBase64 string) (string, error) {
	var resp struct {
		Prompt string `json:"prompt"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/analyze-image", token, map[string]string{"image_data": imageBase64}, &resp); err != nil {
		return "", err
	}
	return resp.Prompt, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, payload any, out any) error {
	fullURL := c.baseURL + path

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		c.log.Error("backend request failed", "method", method, "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		return &APIError{Status: resp.StatusCode, Detail: parseDetail(rawBody), URL: fullURL}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w (body=%s)", path, err, truncateBody(rawBody))
	}
	return nil
}

// parseDetail reads the {"detail": ...} error envelope. Validation errors
// carry a list of {"msg": ...} objects instead of a string.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(envelope.Detail, &text); err == nil {
		return text
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
