package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	domain "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
)

// GormWebhookRepository stores webhooks and their delivery log.
type GormWebhookRepository struct {
	db *gorm.DB
}

func NewGormWebhookRepository(db *gorm.DB) *GormWebhookRepository {
	return &GormWebhookRepository{db: db}
}

func (r *GormWebhookRepository) Insert(ctx context.Context, w *domain.Webhook) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("webhook repository: id is required")
	}
	return r.db.WithContext(ctx).Save(webhookFromDomain(w)).Error
}

func (r *GormWebhookRepository) Get(ctx context.Context, id string) (*domain.Webhook, error) {
	var m webhookModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *GormWebhookRepository) List(ctx context.Context) ([]*domain.Webhook, error) {
	return r.list(r.db.WithContext(ctx))
}

// ListSubscribed filters in Go since the event list is a json column whose
// query syntax differs between drivers.
func (r *GormWebhookRepository) ListSubscribed(ctx context.Context, e domain.EventType) ([]*domain.Webhook, error) {
	all, err := r.list(r.db.WithContext(ctx).Where("is_active = ?", true))
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

func (r *GormWebhookRepository) list(q *gorm.DB) ([]*domain.Webhook, error) {
	var models []webhookModel
	if err := q.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Webhook, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

func (r *GormWebhookRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&webhookModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormWebhookRepository) InsertDelivery(ctx context.Context, d *domain.EventDelivery) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("webhook repository: delivery id is required")
	}
	return r.db.WithContext(ctx).Create(deliveryFromDomain(d)).Error
}

func (r *GormWebhookRepository) GetDelivery(ctx context.Context, id string) (*domain.EventDelivery, error) {
	var m deliveryModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *GormWebhookRepository) UpdateDeliveryStatus(ctx context.Context, id string, status domain.DeliveryStatus) error {
	res := r.db.WithContext(ctx).
		Model(&deliveryModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormWebhookRepository) InsertAttempt(ctx context.Context, a *domain.EventDeliveryAttempt) error {
	if a == nil {
		return fmt.Errorf("webhook repository: attempt is required")
	}
	return r.db.WithContext(ctx).Create(attemptFromDomain(a)).Error
}

func (r *GormWebhookRepository) ListAttempts(ctx context.Context, deliveryID string) ([]*domain.EventDeliveryAttempt, error) {
	var models []attemptModel
	err := r.db.WithContext(ctx).
		Where("delivery_id = ?", deliveryID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.EventDeliveryAttempt, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}
