package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/core/datamodel/order"
	paymentpkg "github.com/frahmantamala/storefront-payments/internal/payment"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

var _ paymentpkg.Repository = (*OrderRepository)(nil)

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	var o order.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return &o, nil
}

// GetByGatewayPaymentID resolves the current session first, then any
// superseded session of the order.
func (r *OrderRepository) GetByGatewayPaymentID(ctx context.Context, paymentID string) (*order.Order, error) {
	var o order.Order
	err := r.db.WithContext(ctx).Select("id").Where("gateway_payment_id = ?", paymentID).First(&o).Error
	if err == nil {
		return r.GetByID(ctx, o.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find order by payment %s: %w", paymentID, err)
	}

	var session order.PaymentSession
	err = r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payment session %s: %w", paymentID, err)
	}
	return r.GetByID(ctx, session.OrderID)
}

func (r *OrderRepository) Save(ctx context.Context, o *order.Order, expectedVersion int64, history []order.StatusEntry, session *order.PaymentSession) error {
	now := time.Now()
	next := expectedVersion + 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"payment_status":     o.PaymentStatus,
			"order_status":       o.OrderStatus,
			"gateway_payment_id": o.GatewayPaymentID,
			"executed":           o.Executed,
			"payment_attempts":   o.PaymentAttempts,
			"payment_details":    o.PaymentDetails,
			"version":            next,
			"updated_at":         now,
		}

		res := tx.Model(&order.Order{}).
			Where("id = ? AND version = ?", o.ID, expectedVersion).
			UpdateColumns(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return paymentpkg.ErrVersionConflict
		}

		for i := range history {
			history[i].OrderID = o.ID
			if history[i].CreatedAt.IsZero() {
				history[i].CreatedAt = now
			}
		}
		if len(history) > 0 {
			if err := tx.Create(&history).Error; err != nil {
				return fmt.Errorf("append status history: %w", err)
			}
		}

		if session != nil {
			session.OrderID = o.ID
			session.CreatedAt = now
			if err := tx.Create(session).Error; err != nil {
				return fmt.Errorf("record payment session: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.Version = next
	o.UpdatedAt = now
	o.StatusHistory = append(o.StatusHistory, history...)
	return nil
}

func (r *OrderRepository) ListStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]*order.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var orders []*order.Order
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND executed = ? AND gateway_payment_id IS NOT NULL AND updated_at < ?",
			order.PaymentStatusPending, false, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list stale pending orders: %w", err)
	}
	return orders, nil
}

// Create inserts a new order with its items. Used by the seeder and tests.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if o.Version == 0 {
		o.Version = 1
	}
	return r.db.WithContext(ctx).Create(o).Error
}
