package usecase

import (
	"context"

	"immo-subscriptions/internal/domain"
	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/domain/ports/repository"
)

// PlanUseCase exposes the plan catalogue. Prices here are the only prices
// a payment is checked against.
type PlanUseCase struct {
	repo repository.PlanRepository
}

// NewPlanUseCase constructs a PlanUseCase.
func NewPlanUseCase(repo repository.PlanRepository) *PlanUseCase {
	return &PlanUseCase{repo: repo}
}

// Create saves or updates a plan.
func (uc *PlanUseCase) Create(ctx context.Context, plan *model.Plan) error {
	if plan == nil || plan.ID == "" || plan.Price <= 0 || plan.DurationDays <= 0 {
		return domain.ErrInvalidArgument
	}
	return uc.repo.Save(ctx, repository.NoTX, plan)
}

// Get retrieves a plan by ID.
func (uc *PlanUseCase) Get(ctx context.Context, id string) (*model.Plan, error) {
	return uc.repo.FindByID(ctx, repository.NoTX, id)
}

// List returns all plans.
func (uc *PlanUseCase) List(ctx context.Context) ([]*model.Plan, error) {
	return uc.repo.ListAll(ctx, repository.NoTX)
}
