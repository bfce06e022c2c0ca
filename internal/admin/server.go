// Package admin serves the local companion HTTP API: the studio flows
// exposed as JSON endpoints for scripts and other local tools.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/ProduktStudio/internal/backend"
	"github.com/digkill/ProduktStudio/internal/config"
	"github.com/digkill/ProduktStudio/internal/credits"
	"github.com/digkill/ProduktStudio/internal/gemini"
	"github.com/digkill/ProduktStudio/internal/models"
	"github.com/digkill/ProduktStudio/internal/poller"
	"github.com/digkill/ProduktStudio/internal/service"
	"github.com/digkill/ProduktStudio/internal/session"
)

// Deps are the flows the server exposes. Studio may be nil when direct
// mode is not configured.
type Deps struct {
	Mode       string
	Session    *session.Session
	Generation *service.GenerationService
	Payments   *service.PaymentService
	Studio     *service.StudioService
	Credits    *credits.Store
}

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	deps     Deps
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, deps Deps) *Server {
	if log == nil {
		log = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		deps:     deps,
		router:   r,
	}
	r.Get("/healthz", s.handleHealth)
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.handleSession)
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/logout", s.handleLogout)
	})
	r.Get("/credits", s.handleGetCredits)
	r.With(s.basicAuthMiddleware()).Put("/credits", s.handleSetCredits)

	r.Post("/generate", s.handleGenerate)
	r.Post("/combine", s.handleCombine)
	r.Post("/analyze", s.handleAnalyze)
	r.Get("/gallery", s.handleGallery)

	r.Post("/studio/generate", s.handleStudioGenerate)
	r.Get("/history", s.handleHistory)

	r.Get("/plans", s.handlePlans)
	r.Post("/checkout", s.handleCheckout)
	r.Post("/payments/{sessionID}/activate", s.handleActivate)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		// generation requests block until the job is terminal
		WriteTimeout: 3 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("companion shutdown error", "err", err)
		}
	}()

	s.log.Info("companion api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("companion listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": s.deps.Mode})
}

type sessionResponse struct {
	State session.State `json:"state"`
	User  *models.User  `json:"user,omitempty"`
	View  models.View   `json:"view"`
}

func (s *Server) sessionView() sessionResponse {
	return sessionResponse{
		State: s.deps.Session.State(),
		User:  s.deps.Session.User(),
		View:  s.deps.Generation.Dashboard().View(),
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sessionView())
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}
	if err := s.deps.Session.Login(r.Context(), req.Email, req.Password); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Username == "" || req.Password == "" {
		http.Error(w, "email, username and password required", http.StatusBadRequest)
		return
	}
	if err := s.deps.Session.Register(r.Context(), req.Email, req.Username, req.Password); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.sessionView())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Session.Logout(r.Context()); err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type creditsBody struct {
	Credits int `json:"credits"`
}

func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	if s.deps.Mode == config.ModeBackend {
		user := s.deps.Session.User()
		if user == nil {
			s.writeError(w, service.ErrNotAuthenticated)
			return
		}
		s.writeJSON(w, http.StatusOK, creditsBody{Credits: user.Credits})
		return
	}
	value, err := s.deps.Credits.GetCredits(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, creditsBody{Credits: value})
}

// handleSetCredits overwrites the local ledger. The server-side balance
// cannot be changed from here.
func (s *Server) handleSetCredits(w http.ResponseWriter, r *http.Request) {
	var req creditsBody
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Credits.SetCredits(r.Context(), req.Credits); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

type imageBody struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

func (b imageBody) reference() models.ReferenceImage {
	return models.ReferenceImage{MimeType: b.MimeType, Base64: stripDataURL(b.Data)}
}

type generateRequest struct {
	Prompt         string     `json:"prompt"`
	NegativePrompt string     `json:"negative_prompt"`
	AspectRatio    string     `json:"aspect_ratio"`
	Style          string     `json:"style"`
	Lighting       string     `json:"lighting"`
	Camera         string     `json:"camera"`
	ReferenceImage *imageBody `json:"reference_image,omitempty"`
}

func (req generateRequest) options() service.PromptOptions {
	return service.PromptOptions{Style: req.Style, Lighting: req.Lighting, Camera: req.Camera}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !s.decode(w, r, &req) {
		return
	}
	genReq := service.GenerationRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		AspectRatio:    req.AspectRatio,
		Options:        req.options(),
	}
	if req.ReferenceImage != nil {
		ref := req.ReferenceImage.reference()
		genReq.Reference = &ref
	}
	res, err := s.deps.Generation.Generate(r.Context(), genReq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type combineRequest struct {
	Images []imageBody `json:"images"`
	Prompt string      `json:"prompt"`
}

func (s *Server) handleCombine(w http.ResponseWriter, r *http.Request) {
	var req combineRequest
	if !s.decode(w, r, &req) {
		return
	}
	images := make([]models.ReferenceImage, len(req.Images))
	for i, img := range req.Images {
		images[i] = img.reference()
	}
	res, err := s.deps.Generation.Combine(r.Context(), images, req.Prompt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type analyzeRequest struct {
	Image imageBody `json:"image"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Image.Data == "" {
		http.Error(w, "image required", http.StatusBadRequest)
		return
	}

	var (
		prompt string
		err    error
	)
	if s.deps.Mode == config.ModeDirect && s.deps.Studio != nil {
		prompt, err = s.deps.Studio.Analyze(r.Context(), req.Image.reference())
	} else {
		prompt, err = s.deps.Generation.Analyze(r.Context(), req.Image.reference())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Generation.Gallery(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.GenerationJob{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

type studioRequest struct {
	generateRequest
	References []imageBody `json:"references"`
}

type studioImage struct {
	MimeType string `json:"mime_type"`
	URL      string `json:"url,omitempty"`
	DataURL  string `json:"data_url,omitempty"`
}

type studioResponse struct {
	Prompt      string        `json:"prompt"`
	Text        string        `json:"text,omitempty"`
	Images      []studioImage `json:"images"`
	CreditsLeft int           `json:"credits_left"`
}

func (s *Server) handleStudioGenerate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Studio == nil {
		http.Error(w, "direct studio not configured", http.StatusNotFound)
		return
	}
	var req studioRequest
	if !s.decode(w, r, &req) {
		return
	}
	refs := make([]models.ReferenceImage, 0, len(req.References)+1)
	if req.ReferenceImage != nil {
		refs = append(refs, req.ReferenceImage.reference())
	}
	for _, img := range req.References {
		refs = append(refs, img.reference())
	}

	res, err := s.deps.Studio.Generate(r.Context(), service.StudioRequest{
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		Options:     req.options(),
		References:  refs,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := studioResponse{Prompt: res.Prompt, Text: res.Text, CreditsLeft: res.CreditsLeft, Images: make([]studioImage, len(res.Images))}
	for i, img := range res.Images {
		out.Images[i] = studioImage{MimeType: img.MimeType, URL: img.URL}
		if img.URL == "" {
			out.Images[i].DataURL = img.DataURL
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Studio == nil {
		http.Error(w, "direct studio not configured", http.StatusNotFound)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	records, err := s.deps.Studio.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []models.GenerationRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.deps.Payments.Plans(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plans)
}

type checkoutRequest struct {
	PlanID string `json:"plan_id"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PlanID) == "" {
		http.Error(w, "plan_id required", http.StatusBadRequest)
		return
	}
	checkout, err := s.deps.Payments.Checkout(r.Context(), req.PlanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, checkout)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Payments.Activate(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"payment": status,
		"session": s.sessionView(),
	})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="produktstudio"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		s.log.Error("companion request failed", "status", status, "err", err)
	}
	msg := err.Error()
	var (
		failed   *poller.FailedError
		provider *gemini.APIError
	)
	switch {
	case errors.As(err, &failed):
		msg = failed.Message
	case errors.As(err, &provider), errors.Is(err, gemini.ErrUnavailable),
		errors.Is(err, gemini.ErrNoImage), errors.Is(err, gemini.ErrEmptyResponse):
		msg = service.ProviderMessage(err)
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("companion handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func statusFor(err error) int {
	var (
		failed    *poller.FailedError
		transport *poller.TransportError
		apiErr    *backend.APIError
		provider  *gemini.APIError
	)
	switch {
	case errors.Is(err, service.ErrPromptRequired),
		errors.Is(err, service.ErrImagesRequired),
		errors.Is(err, service.ErrTooManyImages),
		errors.Is(err, service.ErrInvalidAspectRatio),
		errors.Is(err, service.ErrUnknownPlan),
		errors.Is(err, service.ErrSessionIDRequired),
		errors.Is(err, service.ErrAPIKeyMissing),
		errors.Is(err, credits.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotAuthenticated), backend.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrCreditsRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrGenerationInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrJournalUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, poller.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &failed), errors.As(err, &transport), errors.As(err, &apiErr),
		errors.As(err, &provider), errors.Is(err, gemini.ErrUnavailable),
		errors.Is(err, gemini.ErrNoImage), errors.Is(err, gemini.ErrEmptyResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// stripDataURL accepts either raw base64 or a data: URL.
func stripDataURL(data string) string {
	if strings.HasPrefix(data, "data:") {
		if _, payload, ok := strings.Cut(data, ","); ok {
			return payload
		}
	}
	return data
}
