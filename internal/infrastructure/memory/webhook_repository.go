package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	domain "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
)

// WebhookRepository stores webhooks, deliveries and attempts.
type WebhookRepository struct {
	mu         sync.RWMutex
	webhooks   map[string]*domain.Webhook
	deliveries map[string]*domain.EventDelivery
	attempts   map[string][]*domain.EventDeliveryAttempt
}

func NewWebhookRepository() *WebhookRepository {
	return &WebhookRepository{
		webhooks:   make(map[string]*domain.Webhook),
		deliveries: make(map[string]*domain.EventDelivery),
		attempts:   make(map[string][]*domain.EventDeliveryAttempt),
	}
}

func (r *WebhookRepository) Insert(ctx context.Context, w *domain.Webhook) error {
	_ = ctx
	if w == nil || w.ID == "" {
		return fmt.Errorf("webhook repository: id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhooks[w.ID] = w.Clone()
	return nil
}

func (r *WebhookRepository) Get(ctx context.Context, id string) (*domain.Webhook, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.webhooks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return w.Clone(), nil
}

func (r *WebhookRepository) List(ctx context.Context) ([]*domain.Webhook, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Webhook, 0, len(r.webhooks))
	for _, w := range r.webhooks {
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *WebhookRepository) ListSubscribed(ctx context.Context, e domain.EventType) ([]*domain.Webhook, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, w := range all {
		if w.Subscribes(e) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *WebhookRepository) Delete(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.webhooks[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.webhooks, id)
	return nil
}

func (r *WebhookRepository) InsertDelivery(ctx context.Context, d *domain.EventDelivery) error {
	_ = ctx
	if d == nil || d.ID == "" {
		return fmt.Errorf("webhook repository: delivery id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries[d.ID] = d.Clone()
	return nil
}

func (r *WebhookRepository) GetDelivery(ctx context.Context, id string) (*domain.EventDelivery, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deliveries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d.Clone(), nil
}

func (r *WebhookRepository) UpdateDeliveryStatus(ctx context.Context, id string, status domain.DeliveryStatus) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.Status = status
	return nil
}

func (r *WebhookRepository) InsertAttempt(ctx context.Context, a *domain.EventDeliveryAttempt) error {
	_ = ctx
	if a == nil {
		return fmt.Errorf("webhook repository: attempt is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.attempts[a.DeliveryID] = append(r.attempts[a.DeliveryID], &c)
	return nil
}

func (r *WebhookRepository) ListAttempts(ctx context.Context, deliveryID string) ([]*domain.EventDeliveryAttempt, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.attempts[deliveryID]
	out := make([]*domain.EventDeliveryAttempt, 0, len(src))
	for _, a := range src {
		c := *a
		out = append(out, &c)
	}
	return out, nil
}
