package worker

import "context"

type Repository interface {
	Create(ctx context.Context, c *Capability) error
	Get(ctx context.Context, id string) (*Capability, error)
	List(ctx context.Context) ([]*Capability, error)
	Update(ctx context.Context, c *Capability) error
	Exists(ctx context.Context, id string) (bool, error)
}
