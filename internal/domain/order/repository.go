package order

import "context"

type Repository interface {
	// Insert stores a new order and assigns its Number.
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	FindByIdempotency(ctx context.Context, email, key string) (*Order, error)
}
