package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/digkill/ProduktStudio/internal/models"
)

const planCacheTTL = 5 * time.Minute

var ErrUnknownPlan = errors.New("unknown subscription plan")

type PlanSource interface {
	Plans(ctx context.Context) ([]models.SubscriptionPlan, error)
}

// PlanService caches the public plan list; plans change rarely and the
// checkout path looks them up on every call.
type PlanService struct {
	source PlanSource
	now    func() time.Time

	mu        sync.Mutex
	plans     []models.SubscriptionPlan
	fetchedAt time.Time
}

func NewPlanService(source PlanSource) *PlanService {
	return &PlanService{source: source, now: time.Now}
}

// List returns the plans ordered by price.
func (s *PlanService) List(ctx context.Context) ([]models.SubscriptionPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plans != nil && s.now().Sub(s.fetchedAt) < planCacheTTL {
		return append([]models.SubscriptionPlan(nil), s.plans...), nil
	}
	plans, err := s.source.Plans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	s.plans = plans
	s.fetchedAt = s.now()
	return append([]models.SubscriptionPlan(nil), plans...), nil
}

func (s *PlanService) Get(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	plans, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		if plans[i].ID == id {
			return &plans[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, id)
}

// Invalidate drops the cached list.
func (s *PlanService) Invalidate() {
	s.mu.Lock()
	s.plans = nil
	s.mu.Unlock()
}
