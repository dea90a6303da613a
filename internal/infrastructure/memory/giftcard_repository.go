package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/Zhima-Mochi/storefront/internal/domain/giftcard"
)

type GiftCardRepository struct {
	mu    sync.RWMutex
	cards map[string]*domain.GiftCard
}

func NewGiftCardRepository() *GiftCardRepository {
	return &GiftCardRepository{cards: make(map[string]*domain.GiftCard)}
}

func (r *GiftCardRepository) Insert(ctx context.Context, g *domain.GiftCard) error {
	_ = ctx
	if g == nil || g.ID == "" {
		return fmt.Errorf("gift card repository: id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cards[g.ID] = g.Clone()
	return nil
}

func (r *GiftCardRepository) Get(ctx context.Context, id string) (*domain.GiftCard, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.cards[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return g.Clone(), nil
}

func (r *GiftCardRepository) Update(ctx context.Context, g *domain.GiftCard) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cards[g.ID]; !ok {
		return domain.ErrNotFound
	}
	r.cards[g.ID] = g.Clone()
	return nil
}
