package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/ProduktStudio/internal/backend"
	"github.com/digkill/ProduktStudio/internal/config"
	"github.com/digkill/ProduktStudio/internal/credits"
	"github.com/digkill/ProduktStudio/internal/gemini"
	"github.com/digkill/ProduktStudio/internal/localstore"
	"github.com/digkill/ProduktStudio/internal/poller"
	"github.com/digkill/ProduktStudio/internal/service"
	"github.com/digkill/ProduktStudio/internal/session"
)

type fakeAPI struct {
	credits     atomic.Int64
	statusReads atomic.Int64
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Incorrect email or password"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer"}`))
	})
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":"u1","email":"a@b.de","username":"anna","credits":%d,"subscription_plan":null,"subscription_status":"free"}`, f.credits.Load())
	})
	mux.HandleFunc("POST /api/generate-image", func(w http.ResponseWriter, r *http.Request) {
		f.credits.Add(-4)
		_, _ = w.Write([]byte(`{"job_id":"job-1","status":"pending"}`))
	})
	mux.HandleFunc("GET /api/image-status/{id}", func(w http.ResponseWriter, r *http.Request) {
		if f.statusReads.Add(1) < 2 {
			_, _ = w.Write([]byte(`{"id":"job-1","status":"processing"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"job-1","status":"completed","image_url":"/api/images/a.png","images":[{"url":"/api/images/a.png","index":1}]}`))
	})
	mux.HandleFunc("GET /api/user/images", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"job-1","status":"completed","image_url":"/api/images/a.png"}]`))
	})
	mux.HandleFunc("GET /api/subscription/plans", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"basic":{"name":"Basic","monthly_credits":30,"price":9.99,"currency":"eur"}}`))
	})
	mux.HandleFunc("POST /api/subscription/checkout", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"checkout_url":"https://pay.example/cs_1","session_id":"cs_1"}`))
	})
	mux.HandleFunc("GET /api/subscription/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.credits.Store(30)
		_, _ = w.Write([]byte(`{"payment_status":"paid","status":"complete","amount":9.99,"currency":"eur"}`))
	})
	return mux
}

func newTestServer(t *testing.T, mode string) (*httptest.Server, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	api.credits.Store(12)
	upstream := httptest.NewServer(api.handler(t))
	t.Cleanup(upstream.Close)

	cfg := config.Config{
		Mode:                   mode,
		GenerationCost:         4,
		CombineCost:            4,
		BaseDimension:          1024,
		GenerationPollInterval: time.Millisecond,
		GenerationPollAttempts: 30,
		PaymentPollInterval:    time.Millisecond,
		PaymentPollAttempts:    10,
		PollBackoff:            1,
	}
	client := backend.NewClientWithHTTP(upstream.URL+"/api", upstream.Client(), nil)
	kv := localstore.NewMemoryStore()
	sess := session.New(kv, client, nil, 12, nil)
	dashboard := service.NewDashboard()
	ledger := credits.NewStore(kv, credits.DefaultStartingCredits, nil)

	srv := NewServer(":0", "admin", "pw", nil, Deps{
		Mode:       mode,
		Session:    sess,
		Generation: service.NewGenerationService(cfg, nil, client, sess, nil, dashboard, nil),
		Payments:   service.NewPaymentService(cfg, nil, client, sess, nil, nil, nil),
		Credits:    ledger,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, api
}

func do(t *testing.T, ts *httptest.Server, method, path, body string, auth bool) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if auth {
		req.SetBasicAuth("admin", "pw")
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, config.ModeBackend)
	status, body := do(t, ts, http.MethodGet, "/healthz", "", false)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "backend", body["mode"])
}

func TestLoginGenerateAndActivate(t *testing.T) {
	ts, api := newTestServer(t, config.ModeBackend)

	status, body := do(t, ts, http.MethodPost, "/session/login", `{"email":"a@b.de","password":"wrong"}`, false)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Incorrect email or password", body["error"])

	status, body = do(t, ts, http.MethodPost, "/session/login", `{"email":"a@b.de","password":"secret"}`, false)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "authenticated", body["state"])

	status, body = do(t, ts, http.MethodPost, "/generate", `{"prompt":"a chair","aspect_ratio":"16:9"}`, false)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "job-1", body["job_id"])
	require.EqualValues(t, 2, api.statusReads.Load())

	status, body = do(t, ts, http.MethodGet, "/session", "", false)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "gallery", body["view"])
	require.EqualValues(t, 8, body["user"].(map[string]any)["credits"])

	status, body = do(t, ts, http.MethodPost, "/checkout", `{"plan_id":"gold"}`, false)
	require.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, ts, http.MethodPost, "/checkout", `{"plan_id":"basic"}`, false)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "cs_1", body["session_id"])

	status, body = do(t, ts, http.MethodPost, "/payments/cs_1/activate", "", false)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 30, body["session"].(map[string]any)["user"].(map[string]any)["credits"])
}

func TestGenerateWithoutCredits(t *testing.T) {
	ts, api := newTestServer(t, config.ModeBackend)
	api.credits.Store(2)

	status, _ := do(t, ts, http.MethodPost, "/session/login", `{"email":"a@b.de","password":"secret"}`, false)
	require.Equal(t, http.StatusOK, status)

	status, body := do(t, ts, http.MethodPost, "/generate", `{"prompt":"a chair"}`, false)
	require.Equal(t, http.StatusPaymentRequired, status)
	require.Contains(t, body["error"], "insufficient credits")
	require.Zero(t, api.statusReads.Load())
}

func TestAnonymousRequests(t *testing.T) {
	ts, _ := newTestServer(t, config.ModeBackend)

	status, _ := do(t, ts, http.MethodGet, "/gallery", "", false)
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = do(t, ts, http.MethodPost, "/generate", `{"prompt":"x"}`, false)
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = do(t, ts, http.MethodPost, "/generate", `not json`, false)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, ts, http.MethodPost, "/studio/generate", `{"prompt":"x"}`, false)
	require.Equal(t, http.StatusNotFound, status)
}

func TestLocalCredits(t *testing.T) {
	ts, _ := newTestServer(t, config.ModeDirect)

	status, body := do(t, ts, http.MethodGet, "/credits", "", false)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 100, body["credits"])

	status, _ = do(t, ts, http.MethodPut, "/credits", `{"credits":5}`, false)
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = do(t, ts, http.MethodPut, "/credits", `{"credits":-1}`, true)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, ts, http.MethodPut, "/credits", `{"credits":5}`, true)
	require.Equal(t, http.StatusOK, status)

	_, body = do(t, ts, http.MethodGet, "/credits", "", false)
	require.EqualValues(t, 5, body["credits"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrPromptRequired, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", service.ErrUnknownPlan), http.StatusBadRequest},
		{service.ErrNotAuthenticated, http.StatusUnauthorized},
		{&backend.APIError{Status: http.StatusUnauthorized}, http.StatusUnauthorized},
		{service.ErrCreditsRequired, http.StatusPaymentRequired},
		{service.ErrGenerationInProgress, http.StatusConflict},
		{fmt.Errorf("poll: %w", poller.ErrTimeout), http.StatusGatewayTimeout},
		{&poller.FailedError{ID: "j", Message: "nope"}, http.StatusBadGateway},
		{&backend.APIError{Status: http.StatusInternalServerError}, http.StatusBadGateway},
		{&gemini.APIError{StatusCode: http.StatusBadRequest, Message: "bad"}, http.StatusBadGateway},
		{fmt.Errorf("generate: %w", gemini.ErrUnavailable), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestWriteErrorHidesProviderTransportDetail(t *testing.T) {
	s := NewServer(":0", "", "", nil, Deps{})
	raw := errors.New(`Post "http://gemini.local/models/m:generateContent?key=SECRET-KEY-123": connection refused`)
	err := fmt.Errorf("generate images: %w", fmt.Errorf("%w: %w", gemini.ErrUnavailable, raw))

	rec := httptest.NewRecorder()
	s.writeError(rec, err)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.NotContains(t, rec.Body.String(), "SECRET-KEY-123")
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, service.ProviderMessage(err), body["error"])
}

func TestStripDataURL(t *testing.T) {
	require.Equal(t, "AAA", stripDataURL("data:image/png;base64,AAA"))
	require.Equal(t, "AAA", stripDataURL("AAA"))
}
