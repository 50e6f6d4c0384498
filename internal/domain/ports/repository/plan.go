package repository

import (
	"context"

	"immo-subscriptions/internal/domain/model"
)

// PlanRepository is the port for the plan catalogue.
type PlanRepository interface {
	Save(ctx context.Context, tx Tx, plan *model.Plan) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Plan, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.Plan, error)
	Delete(ctx context.Context, tx Tx, id string) error
}
