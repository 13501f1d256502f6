package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/storefront-payments/internal/core/events"
)

// StockCompensator returns line items to stock when a payment fails, is
// cancelled or refunded, and reserves them again if a late success completes
// an order that was already restocked. Failures are logged and never undo
// the payment transition.
type StockCompensator struct {
	inventory Inventory
	logger    *slog.Logger
}

func NewStockCompensator(inventory Inventory, logger *slog.Logger) *StockCompensator {
	return &StockCompensator{inventory: inventory, logger: logger}
}

func (c *StockCompensator) HandleRestore(ctx context.Context, event events.Event) error {
	ev, ok := event.(*events.PaymentTransitionEvent)
	if !ok {
		return fmt.Errorf("expected PaymentTransitionEvent, got %T", event)
	}

	restored, err := c.inventory.RestoreStock(ctx, ev.OrderID)
	if err != nil {
		c.logger.Error("stock restore failed, inventory may drift",
			"order_id", ev.OrderID,
			"payment_status", ev.ToStatus,
			"error", err)
		return fmt.Errorf("restore stock for order %d: %w", ev.OrderID, err)
	}

	if restored {
		c.logger.Info("stock restored", "order_id", ev.OrderID, "payment_status", ev.ToStatus)
	} else {
		c.logger.Debug("stock already restored", "order_id", ev.OrderID)
	}
	return nil
}

func (c *StockCompensator) HandleReserve(ctx context.Context, event events.Event) error {
	ev, ok := event.(*events.PaymentTransitionEvent)
	if !ok {
		return fmt.Errorf("expected PaymentTransitionEvent, got %T", event)
	}

	reserved, err := c.inventory.ReserveStock(ctx, ev.OrderID)
	if err != nil {
		c.logger.Error("stock re-reservation failed, inventory may drift",
			"order_id", ev.OrderID,
			"error", err)
		return fmt.Errorf("reserve stock for order %d: %w", ev.OrderID, err)
	}

	if reserved {
		c.logger.Warn("late completion of a restocked order, stock reserved again",
			"order_id", ev.OrderID,
			"from_status", ev.FromStatus)
	}
	return nil
}

func (c *StockCompensator) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentFailed, c.HandleRestore)
	eventBus.Subscribe(events.EventTypePaymentCancelled, c.HandleRestore)
	eventBus.Subscribe(events.EventTypePaymentRefunded, c.HandleRestore)
	eventBus.Subscribe(events.EventTypePaymentCompleted, c.HandleReserve)

	c.logger.Info("stock compensator registered",
		"handlers", []string{
			events.EventTypePaymentFailed,
			events.EventTypePaymentCancelled,
			events.EventTypePaymentRefunded,
			events.EventTypePaymentCompleted,
		})
}
