package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/frahmantamala/storefront-payments/internal/core/datamodel/order"
	"github.com/frahmantamala/storefront-payments/internal/payment/postgres"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with demo products and pending wallet orders for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		if clearData {
			for _, table := range []string{"order_payment_sessions", "order_status_history", "order_items", "orders", "products", "webhook_events"} {
				if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing orders, products and webhook events")
		}

		products := []struct {
			SKU   string
			Name  string
			Stock int
		}{
			{"TEE-BLK-M", "Black tee, medium", 25},
			{"TEE-WHT-L", "White tee, large", 25},
			{"MUG-LOGO", "Logo mug", 40},
			{"CAP-NAVY", "Navy cap", 10},
		}

		productIDs := make(map[string]int64, len(products))
		for _, p := range products {
			var id int64
			err := db.GetContext(ctx, &id, "SELECT id FROM products WHERE sku = $1", p.SKU)
			if errors.Is(err, sql.ErrNoRows) {
				err = db.GetContext(ctx, &id,
					"INSERT INTO products (sku, name, stock, updated_at) VALUES ($1, $2, $3, now()) RETURNING id",
					p.SKU, p.Name, p.Stock)
				if err == nil {
					fmt.Printf("Seeded product: %s\n", p.SKU)
				}
			}
			if err != nil {
				log.Fatalf("failed to seed product %s: %v", p.SKU, err)
			}
			productIDs[p.SKU] = id
		}

		gormDB, err := openGorm(db)
		if err != nil {
			log.Fatalf("failed to open gorm session: %v", err)
		}
		orders := postgres.NewOrderRepository(gormDB)

		demoOrders := []struct {
			Number string
			Amount string
			Items  map[string]int
		}{
			{"DEMO-1001", "1250.00", map[string]int{"TEE-BLK-M": 1, "MUG-LOGO": 2}},
			{"DEMO-1002", "480.50", map[string]int{"CAP-NAVY": 1}},
			{"DEMO-1003", "2999.99", map[string]int{"TEE-WHT-L": 3}},
		}

		for _, d := range demoOrders {
			var exists int
			err := db.GetContext(ctx, &exists, "SELECT 1 FROM orders WHERE order_number = $1", d.Number)
			if err == nil {
				fmt.Println("order already exists:", d.Number)
				continue
			}
			if !errors.Is(err, sql.ErrNoRows) {
				log.Fatalf("failed to lookup order %s: %v", d.Number, err)
			}

			o := &order.Order{
				OrderNumber:   d.Number,
				TotalAmount:   decimal.RequireFromString(d.Amount),
				PaymentMethod: order.PaymentMethodWallet,
				PaymentStatus: order.PaymentStatusPending,
				OrderStatus:   order.OrderStatusPending,
			}
			for sku, qty := range d.Items {
				o.Items = append(o.Items, order.OrderItem{ProductID: productIDs[sku], Quantity: qty})
			}
			if err := orders.Create(ctx, o); err != nil {
				log.Fatalf("failed to insert order %s: %v", d.Number, err)
			}
			fmt.Printf("Seeded order %s (id %d, total %s)\n", d.Number, o.ID, o.TotalAmount.StringFixed(2))
		}

		fmt.Println("Demo data seeded successfully")
	},
}
