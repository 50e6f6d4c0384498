package repository

import (
	"context"
	"time"

	"immo-subscriptions/internal/domain/model"
)

// SubscriptionRepository is the port for user subscriptions.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	// FindCurrentByUser returns the user's Trial or Active subscription.
	FindCurrentByUser(ctx context.Context, tx Tx, userID string) (*model.Subscription, error)
	CountByUser(ctx context.Context, tx Tx, userID string) (int, error)
	// ListLapsed returns Trial/Active subscriptions whose period ended before now.
	ListLapsed(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)

	// LockUser serializes activation for one user until tx ends. It requires a
	// live transaction.
	LockUser(ctx context.Context, tx Tx, userID string) error
}
