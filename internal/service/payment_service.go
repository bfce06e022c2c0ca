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
)

const (
	MsgSubscriptionActivated = "Subscription activated successfully!"
	MsgPaymentExpired        = "Payment session expired."
	MsgPaymentTimedOut       = "Payment verification timed out. Please contact support."
	MsgPaymentCheckFailed    = "Failed to verify payment status."
	MsgCheckoutFailed        = "Failed to create checkout session"
)

var ErrSessionIDRequired = errors.New("checkout session id required")

type PaymentBackend interface {
	PlanSource
	Checkout(ctx context.Context, token, planID string) (*models.Checkout, error)
	SubscriptionStatus(ctx context.Context, token, sessionID string) (*models.PaymentStatus, error)
}

type PaymentService struct {
	cfg      config.Config
	log      *slog.Logger
	api      PaymentBackend
	account  Account
	notifier notify.Notifier
	plans    *PlanService
	payments *poller.Poller[*models.PaymentStatus]
}

func NewPaymentService(cfg config.Config, log *slog.Logger, api PaymentBackend, account Account, notifier notify.Notifier, plans *PlanService, clock poller.Clock) *PaymentService {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if plans == nil {
		plans = NewPlanService(api)
	}
	if clock == nil {
		clock = poller.RealClock()
	}
	s := &PaymentService{
		cfg:      cfg,
		log:      log,
		api:      api,
		account:  account,
		notifier: notifier,
		plans:    plans,
	}
	s.payments = poller.New("payment",
		poller.Config{
			Interval:    cfg.PaymentPollInterval,
			MaxAttempts: cfg.PaymentPollAttempts,
			Backoff:     cfg.PollBackoff,
			MaxInterval: 4 * cfg.PaymentPollInterval,
		},
		func(ctx context.Context, id string) (*models.PaymentStatus, error) {
			return s.api.SubscriptionStatus(ctx, s.account.Token(), id)
		},
		classifyPayment,
		poller.WithClock[*models.PaymentStatus](clock),
		poller.WithLogger[*models.PaymentStatus](log),
	)
	return s
}

func classifyPayment(status *models.PaymentStatus) (poller.Outcome, string) {
	switch {
	case status.PaymentStatus == models.PaymentPaid:
		return poller.Succeeded, ""
	case status.Status == models.CheckoutSessionExpired:
		return poller.Failed, MsgPaymentExpired
	default:
		return poller.Pending, ""
	}
}

func (s *PaymentService) Plans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	return s.plans.List(ctx)
}

// Checkout opens a payment session. The plan id is checked against the plan
// list when that list can be fetched.
func (s *PaymentService) Checkout(ctx context.Context, planID string) (*models.Checkout, error) {
	token := s.account.Token()
	if token == "" {
		s.notifier.Error(ctx, MsgLoginRequired)
		return nil, ErrNotAuthenticated
	}
	planID = strings.TrimSpace(planID)
	if _, err := s.plans.Get(ctx, planID); err != nil {
		if errors.Is(err, ErrUnknownPlan) {
			s.notifier.Error(ctx, fmt.Sprintf("Unknown subscription plan: %s", planID))
			return nil, err
		}
		s.log.Warn("plan list unavailable, skipping plan check", "plan_id", planID, "err", err)
	}

	checkout, err := s.api.Checkout(ctx, token, planID)
	if err != nil {
		s.notifier.Error(ctx, backend.Detail(err, MsgCheckoutFailed))
		return nil, fmt.Errorf("checkout %s: %w", planID, err)
	}
	s.log.Info("checkout session created", "plan_id", planID, "session_id", checkout.SessionID)
	return checkout, nil
}

// Activate waits for the checkout session to be paid, then refreshes the
// profile so the new credits are visible.
func (s *PaymentService) Activate(ctx context.Context, sessionID string) (*models.PaymentStatus, error) {
	if s.account.Token() == "" {
		s.notifier.Error(ctx, MsgLoginRequired)
		return nil, ErrNotAuthenticated
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}

	status, err := s.payments.Poll(ctx, sessionID)
	if err != nil {
		var failed *poller.FailedError
		switch {
		case errors.As(err, &failed):
			s.notifier.Error(ctx, failed.Message)
		case errors.Is(err, poller.ErrTimeout):
			s.notifier.Error(ctx, MsgPaymentTimedOut)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.notifier.Info(ctx, MsgCancelled)
		default:
			s.notifier.Error(ctx, MsgPaymentCheckFailed)
		}
		return nil, fmt.Errorf("activate %s: %w", sessionID, err)
	}

	if err := s.account.Refresh(ctx); err != nil {
		s.log.Warn("refresh after payment failed", "session_id", sessionID, "err", err)
	}
	s.notifier.Success(ctx, MsgSubscriptionActivated)
	return status, nil
}
