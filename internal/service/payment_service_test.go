package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/digkill/ProduktStudio/internal/models"
	"github.com/digkill/ProduktStudio/internal/notify"
	"github.com/digkill/ProduktStudio/internal/poller"
)

var testPlans = []models.SubscriptionPlan{
	{ID: "basic", Name: "Basic", Price: decimal.RequireFromString("9.99"), Currency: "eur", MonthlyCredits: 30},
	{ID: "pro", Name: "Pro", Price: decimal.RequireFromString("29.99"), Currency: "eur", MonthlyCredits: 90},
}

func newPayment(api *fakeBackend, account *fakeAccount) (*PaymentService, *notify.Recorder, *instantClock) {
	rec := &notify.Recorder{}
	clock := &instantClock{}
	return NewPaymentService(testConfig(), nil, api, account, rec, nil, clock), rec, clock
}

func unpaid() *models.PaymentStatus {
	return &models.PaymentStatus{PaymentStatus: models.PaymentUnpaid, Status: "open"}
}

func TestActivatePaid(t *testing.T) {
	api := &fakeBackend{payStatus: []*models.PaymentStatus{unpaid(), unpaid(), {PaymentStatus: models.PaymentPaid, Status: "complete"}}}
	account := loggedIn(0)
	s, rec, clock := newPayment(api, account)

	status, err := s.Activate(context.Background(), "cs_1")

	require.NoError(t, err)
	require.Equal(t, models.PaymentPaid, status.PaymentStatus)
	require.Equal(t, 3, count(api.Calls(), "payment-status"))
	require.Equal(t, 2, clock.Waits())
	require.Equal(t, 1, account.refreshes)
	require.Equal(t, []notify.Message{{Level: notify.LevelSuccess, Text: MsgSubscriptionActivated}}, rec.Messages())
}

func TestActivateExpired(t *testing.T) {
	api := &fakeBackend{payStatus: []*models.PaymentStatus{unpaid(), {PaymentStatus: models.PaymentUnpaid, Status: models.CheckoutSessionExpired}}}
	account := loggedIn(0)
	s, rec, _ := newPayment(api, account)

	_, err := s.Activate(context.Background(), "cs_1")

	var failed *poller.FailedError
	require.ErrorAs(t, err, &failed)
	require.Zero(t, account.refreshes)
	require.Equal(t, []notify.Message{{Level: notify.LevelError, Text: MsgPaymentExpired}}, rec.Messages())
}

func TestActivateTimesOutAfterTenReads(t *testing.T) {
	api := &fakeBackend{payStatus: []*models.PaymentStatus{unpaid()}}
	s, rec, clock := newPayment(api, loggedIn(0))

	_, err := s.Activate(context.Background(), "cs_1")

	require.ErrorIs(t, err, poller.ErrTimeout)
	require.Equal(t, 10, count(api.Calls(), "payment-status"))
	require.Equal(t, 9, clock.Waits())
	last, _ := rec.Last()
	require.Equal(t, MsgPaymentTimedOut, last.Text)
}

func TestActivateTransportError(t *testing.T) {
	api := &fakeBackend{statusErr: errors.New("dial tcp: refused")}
	s, rec, _ := newPayment(api, loggedIn(0))

	_, err := s.Activate(context.Background(), "cs_1")

	require.Error(t, err)
	require.Equal(t, 1, count(api.Calls(), "payment-status"))
	last, _ := rec.Last()
	require.Equal(t, MsgPaymentCheckFailed, last.Text)
}

func TestActivatePreconditions(t *testing.T) {
	s, _, _ := newPayment(&fakeBackend{}, &fakeAccount{})
	_, err := s.Activate(context.Background(), "cs_1")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	s, _, _ = newPayment(&fakeBackend{}, loggedIn(0))
	_, err = s.Activate(context.Background(), " ")
	require.ErrorIs(t, err, ErrSessionIDRequired)
}

func TestCheckoutRejectsUnknownPlan(t *testing.T) {
	api := &fakeBackend{plans: testPlans}
	s, rec, _ := newPayment(api, loggedIn(0))

	_, err := s.Checkout(context.Background(), "enterprise")

	require.ErrorIs(t, err, ErrUnknownPlan)
	require.Equal(t, []string{"plans"}, api.Calls())
	last, _ := rec.Last()
	require.Contains(t, last.Text, "enterprise")
}

func TestCheckoutKnownPlan(t *testing.T) {
	api := &fakeBackend{plans: testPlans}
	s, _, _ := newPayment(api, loggedIn(0))

	checkout, err := s.Checkout(context.Background(), "pro")

	require.NoError(t, err)
	require.Equal(t, "https://pay.example/pro", checkout.URL)
	require.Equal(t, "cs_1", checkout.SessionID)
}

func TestCheckoutWithoutPlanList(t *testing.T) {
	api := &fakeBackend{plansErr: errors.New("plans down")}
	s, _, _ := newPayment(api, loggedIn(0))

	_, err := s.Checkout(context.Background(), "basic")

	require.NoError(t, err)
	require.Equal(t, []string{"plans", "checkout"}, api.Calls())
}

func TestCheckoutFailureMessage(t *testing.T) {
	api := &fakeBackend{plans: testPlans, checkoutErr: errors.New("stripe unavailable")}
	s, rec, _ := newPayment(api, loggedIn(0))

	_, err := s.Checkout(context.Background(), "basic")
	require.Error(t, err)
	last, _ := rec.Last()
	require.Equal(t, MsgCheckoutFailed, last.Text)
}

func TestPlanServiceCaches(t *testing.T) {
	api := &fakeBackend{plans: testPlans}
	plans := NewPlanService(api)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	plans.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := plans.List(ctx)
	require.NoError(t, err)
	plan, err := plans.Get(ctx, "pro")
	require.NoError(t, err)
	require.Equal(t, 90, plan.MonthlyCredits)
	require.Equal(t, 1, count(api.Calls(), "plans"))

	now = now.Add(planCacheTTL)
	_, err = plans.List(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count(api.Calls(), "plans"))

	plans.Invalidate()
	_, err = plans.List(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, count(api.Calls(), "plans"))
}
