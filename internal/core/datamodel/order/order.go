package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusRefunded  = "refunded"

	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"

	// PaymentMethodWallet marks orders paid through the tokenized mobile wallet checkout.
	PaymentMethodWallet = "mobile_wallet"
)

// Audit statuses that are not payment statuses.
const (
	HistorySessionCreated = "session_created"
	HistoryPaymentReview  = "payment_review"
	HistoryStockRestored  = "stock_restored"
)

type Order struct {
	ID                int64           `gorm:"primaryKey"`
	OrderNumber       string          `gorm:"column:order_number;not null;uniqueIndex"`
	TotalAmount       decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2);not null"`
	PaymentMethod     string          `gorm:"column:payment_method;not null"`
	PaymentStatus     string          `gorm:"column:payment_status;not null"`
	OrderStatus       string          `gorm:"column:order_status;not null"`
	GatewayPaymentID  *string         `gorm:"column:gateway_payment_id;index"`
	Executed          bool            `gorm:"column:executed;not null"`
	PaymentAttempts   int             `gorm:"column:payment_attempts;not null"`
	PayerReference    string          `gorm:"column:payer_reference"`
	InventoryRestored bool            `gorm:"column:inventory_restored;not null"`
	PaymentDetails    PaymentDetails  `gorm:"column:payment_details;type:text"`
	Version           int64           `gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time       `gorm:"column:created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at"`

	Items         []OrderItem   `gorm:"foreignKey:OrderID"`
	StatusHistory []StatusEntry `gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string { return "orders" }

// PaymentIDValue returns the current gateway session id or "".
func (o *Order) PaymentIDValue() string {
	if o.GatewayPaymentID == nil {
		return ""
	}
	return *o.GatewayPaymentID
}

type OrderItem struct {
	ID        int64 `gorm:"primaryKey"`
	OrderID   int64 `gorm:"column:order_id;not null;index"`
	ProductID int64 `gorm:"column:product_id;not null"`
	Quantity  int   `gorm:"column:quantity;not null"`
}

func (OrderItem) TableName() string { return "order_items" }

// StatusEntry is one row of the append-only audit trail.
type StatusEntry struct {
	ID        int64     `gorm:"primaryKey"`
	OrderID   int64     `gorm:"column:order_id;not null;index"`
	Status    string    `gorm:"column:status;not null"`
	Note      string    `gorm:"column:note"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (StatusEntry) TableName() string { return "order_status_history" }

// PaymentSession records every checkout session minted for an order so late
// notifications for a superseded paymentID still resolve to the order.
type PaymentSession struct {
	ID        int64     `gorm:"primaryKey"`
	OrderID   int64     `gorm:"column:order_id;not null;index"`
	PaymentID string    `gorm:"column:payment_id;not null;uniqueIndex"`
	Attempt   int       `gorm:"column:attempt;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (PaymentSession) TableName() string { return "order_payment_sessions" }

type Product struct {
	ID        int64     `gorm:"primaryKey"`
	SKU       string    `gorm:"column:sku;not null;uniqueIndex"`
	Name      string    `gorm:"column:name;not null"`
	Stock     int       `gorm:"column:stock;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Product) TableName() string { return "products" }
