package assignment

import "context"

type Repository interface {
	Create(ctx context.Context, a *Assignment) error
	Get(ctx context.Context, id string) (*Assignment, error)
	List(ctx context.Context, workerID, taskID string, status Status) ([]*Assignment, error)
	Update(ctx context.Context, a *Assignment) error
}
