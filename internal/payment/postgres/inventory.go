package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/storefront-payments/internal/core/datamodel/order"
	paymentpkg "github.com/frahmantamala/storefront-payments/internal/payment"
)

const historyStockReserved = "stock_reserved"

type InventoryRepository struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

var _ paymentpkg.Inventory = (*InventoryRepository)(nil)

// RestoreStock returns the order's line items to stock at most once.
func (r *InventoryRepository) RestoreStock(ctx context.Context, orderID int64) (bool, error) {
	return r.adjust(ctx, orderID, false, true, "+", order.HistoryStockRestored)
}

// ReserveStock takes stock again for an order that was restocked.
func (r *InventoryRepository) ReserveStock(ctx context.Context, orderID int64) (bool, error) {
	return r.adjust(ctx, orderID, true, false, "-", historyStockReserved)
}

func (r *InventoryRepository) adjust(ctx context.Context, orderID int64, from, to bool, op, historyStatus string) (bool, error) {
	changed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&order.Order{}).
			Where("id = ? AND inventory_restored = ?", orderID, from).
			UpdateColumn("inventory_restored", to)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		var items []order.OrderItem
		if err := tx.Where("order_id = ?", orderID).Find(&items).Error; err != nil {
			return fmt.Errorf("load order items: %w", err)
		}

		units := 0
		for _, item := range items {
			err := tx.Model(&order.Product{}).
				Where("id = ?", item.ProductID).
				UpdateColumn("stock", gorm.Expr("stock "+op+" ?", item.Quantity)).Error
			if err != nil {
				return fmt.Errorf("adjust stock of product %d: %w", item.ProductID, err)
			}
			units += item.Quantity
		}

		entry := order.StatusEntry{
			OrderID:   orderID,
			Status:    historyStatus,
			Note:      fmt.Sprintf("%d line items, %d units", len(items), units),
			CreatedAt: time.Now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("append status history: %w", err)
		}

		changed = true
		return nil
	})
	return changed, err
}

// DecrementStock reserves stock for a newly placed order. Used by the seeder.
func (r *InventoryRepository) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	return r.db.WithContext(ctx).Model(&order.Product{}).
		Where("id = ?", productID).
		UpdateColumn("stock", gorm.Expr("stock - ?", quantity)).Error
}

func (r *InventoryRepository) GetProduct(ctx context.Context, productID int64) (*order.Product, error) {
	var p order.Product
	if err := r.db.WithContext(ctx).First(&p, productID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
