package service

import (
	"context"
	"sync"
	"time"

	"github.com/digkill/ProduktStudio/internal/config"
	"github.com/digkill/ProduktStudio/internal/models"
)

func testConfig() config.Config {
	return config.Config{
		Mode:                   config.ModeBackend,
		GenerationCost:         4,
		CombineCost:            4,
		BaseDimension:          1024,
		GenerationPollInterval: 2 * time.Second,
		GenerationPollAttempts: 30,
		PaymentPollInterval:    2 * time.Second,
		PaymentPollAttempts:    10,
		PollBackoff:            1,
	}
}

// instantClock fires every timer immediately and records the waits.
type instantClock struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (c *instantClock) Waits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waits)
}

type fakeAccount struct {
	token     string
	user      *models.User
	refreshes int
	refresh   error
}

func loggedIn(credits int) *fakeAccount {
	return &fakeAccount{token: "tok", user: &models.User{ID: "u1", Email: "a@b.de", Credits: credits}}
}

func (a *fakeAccount) Token() string { return a.token }

func (a *fakeAccount) User() *models.User {
	if a.user == nil {
		return nil
	}
	u := *a.user
	return &u
}

func (a *fakeAccount) Refresh(context.Context) error {
	a.refreshes++
	return a.refresh
}

// fakeBackend scripts status reads; once the script runs out the last
// entry repeats.
type fakeBackend struct {
	mu sync.Mutex

	calls []string

	submitErr  error
	jobStatus  []*models.GenerationJob
	statusErr  error
	statusRead int
	gallery    []models.GenerationJob
	analyzed   string

	lastParams  models.GenerationParams
	lastCombine []string

	plans       []models.SubscriptionPlan
	plansErr    error
	checkoutErr error
	payStatus   []*models.PaymentStatus
	payRead     int
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) GenerateImage(_ context.Context, _ string, params models.GenerationParams) (string, error) {
	f.record("generate")
	f.lastParams = params
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "job-1", nil
}

func (f *fakeBackend) CombineImages(_ context.Context, _ string, images []string, _ string) (string, error) {
	f.record("combine")
	f.lastCombine = images
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "job-2", nil
}

func (f *fakeBackend) ImageStatus(context.Context, string, string) (*models.GenerationJob, error) {
	f.record("status")
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	i := min(f.statusRead, len(f.jobStatus)-1)
	f.statusRead++
	job := *f.jobStatus[i]
	return &job, nil
}

func (f *fakeBackend) UserImages(context.Context, string) ([]models.GenerationJob, error) {
	f.record("gallery")
	return f.gallery, nil
}

func (f *fakeBackend) AnalyzeImage(context.Context, string, string) (string, error) {
	f.record("analyze")
	return f.analyzed, nil
}

func (f *fakeBackend) Plans(context.Context) ([]models.SubscriptionPlan, error) {
	f.record("plans")
	return f.plans, f.plansErr
}

func (f *fakeBackend) Checkout(_ context.Context, _ string, planID string) (*models.Checkout, error) {
	f.record("checkout")
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	return &models.Checkout{URL: "https://pay.example/" + planID, SessionID: "cs_1"}, nil
}

func (f *fakeBackend) SubscriptionStatus(context.Context, string, string) (*models.PaymentStatus, error) {
	f.record("payment-status")
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	i := min(f.payRead, len(f.payStatus)-1)
	f.payRead++
	st := *f.payStatus[i]
	return &st, nil
}

func job(status models.JobStatus) *models.GenerationJob {
	return &models.GenerationJob{ID: "job-1", Status: status}
}

func count(calls []string, name string) int {
	n := 0
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}
