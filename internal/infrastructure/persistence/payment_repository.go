package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/Zhima-Mochi/storefront/internal/domain/payment"
)

type GormPaymentRepository struct {
	db *gorm.DB
}

func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// Insert stores p together with any transactions it already carries.
func (r *GormPaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}
	m := paymentFromDomain(p)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&paymentModel{}).Where("id = ?", p.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrConflict
		}
		if err := tx.Omit(clause.Associations).Create(m).Error; err != nil {
			return err
		}
		for i := range p.Transactions {
			if err := tx.Create(transactionFromDomain(&p.Transactions[i])).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormPaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	var m paymentModel
	err := r.db.WithContext(ctx).
		Preload("Transactions", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&m, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return m.toDomain(), nil
}

// Update writes the payment row only. Transactions are appended through
// SaveTransaction.
func (r *GormPaymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}
	res := updatePayment(r.db.WithContext(ctx), p)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveTransaction appends t and writes p in one database transaction. The
// payment row is locked FOR UPDATE until commit; sqlite ignores the clause.
// Appending is idempotent on the transaction id.
func (r *GormPaymentRepository) SaveTransaction(ctx context.Context, p *domain.Payment, t *domain.Transaction) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}
	if t == nil {
		return fmt.Errorf("payment repository: transaction is required")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked paymentModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&locked, "id = ?", p.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		err = tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
			Create(transactionFromDomain(t)).Error
		if err != nil {
			return err
		}
		return updatePayment(tx, p).Error
	})
}

func updatePayment(db *gorm.DB, p *domain.Payment) *gorm.DB {
	return db.Model(&paymentModel{ID: p.ID}).
		Select("*").
		Omit("id", "created_at", clause.Associations).
		Updates(paymentFromDomain(p))
}

func (r *GormPaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	var models []paymentModel
	err := r.db.WithContext(ctx).
		Preload("Transactions", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Payment, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}
