package payment

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	// SaveTransaction stores t and p, which already reflects t, atomically.
	SaveTransaction(ctx context.Context, p *Payment, t *Transaction) error
	ListByOrder(ctx context.Context, orderID string) ([]*Payment, error)
}

// Locker serialises gateway operations on a single payment, like a row lock.
type Locker interface {
	Lock(ctx context.Context, paymentID string, ttl time.Duration) (unlock func(), err error)
}
