package payment_test

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/core/datamodel/order"
	"github.com/frahmantamala/storefront-payments/internal/core/events"
	"github.com/frahmantamala/storefront-payments/internal/dedup"
	"github.com/frahmantamala/storefront-payments/internal/gateway"
	"github.com/frahmantamala/storefront-payments/internal/payment"
	"github.com/frahmantamala/storefront-payments/pkg/logger"
)

// memoryStore implements payment.Repository and payment.Inventory with the
// same version semantics as the gorm repository.
type memoryStore struct {
	mu        sync.Mutex
	nextID    int64
	orders    map[int64]*order.Order
	sessions  map[string]int64
	products  map[int64]*order.Product
	conflicts int
	saves     int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders:   make(map[int64]*order.Order),
		sessions: make(map[string]int64),
		products: make(map[int64]*order.Product),
	}
}

func (m *memoryStore) addProduct(id int64, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = &order.Product{ID: id, SKU: "SKU", Name: "product", Stock: stock}
}

func (m *memoryStore) stock(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

// placeOrder stores a pending wallet order and takes its items from stock.
func (m *memoryStore) placeOrder(total string, items ...order.OrderItem) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	for i := range items {
		items[i].OrderID = id
		m.products[items[i].ProductID].Stock -= items[i].Quantity
	}
	m.orders[id] = &order.Order{
		ID:            id,
		OrderNumber:   fmt.Sprintf("ORD-%d", id),
		TotalAmount:   decimal.RequireFromString(total),
		PaymentMethod: order.PaymentMethodWallet,
		PaymentStatus: order.PaymentStatusPending,
		OrderStatus:   order.OrderStatusPending,
		Version:       1,
		Items:         items,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	return id
}

// mutate edits a stored order directly, bypassing the state machine.
func (m *memoryStore) mutate(id int64, fn func(o *order.Order)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.orders[id])
}

func (m *memoryStore) injectConflicts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = n
}

func (m *memoryStore) snapshot(id int64) *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.orders[id])
}

func (m *memoryStore) historyCount(id int64, status string) int {
	n := 0
	for _, h := range m.snapshot(id).StatusHistory {
		if h.Status == status {
			n++
		}
	}
	return n
}

func (m *memoryStore) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, errors.ErrOrderNotFound
	}
	return clone(o), nil
}

func (m *memoryStore) GetByGatewayPaymentID(ctx context.Context, paymentID string) (*order.Order, error) {
	m.mu.Lock()
	id, ok := m.sessions[paymentID]
	m.mu.Unlock()
	if !ok {
		return nil, errors.ErrPaymentNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *memoryStore) Save(ctx context.Context, o *order.Order, expectedVersion int64, history []order.StatusEntry, session *order.PaymentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.orders[o.ID]
	if m.conflicts > 0 {
		m.conflicts--
		stored.Version++
	}
	if stored.Version != expectedVersion {
		return payment.ErrVersionConflict
	}
	m.saves++

	now := time.Now()
	for i := range history {
		history[i].OrderID = o.ID
		history[i].CreatedAt = now
	}
	if session != nil {
		session.OrderID = o.ID
		m.sessions[session.PaymentID] = o.ID
	}

	next := clone(o)
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	next.InventoryRestored = stored.InventoryRestored
	next.StatusHistory = append(slices.Clone(stored.StatusHistory), history...)
	m.orders[o.ID] = next

	o.Version = next.Version
	o.StatusHistory = slices.Clone(next.StatusHistory)
	return nil
}

func (m *memoryStore) ListStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*order.Order
	for _, o := range m.orders {
		if o.PaymentStatus == order.PaymentStatusPending && !o.Executed && o.GatewayPaymentID != nil && o.UpdatedAt.Before(updatedBefore) {
			out = append(out, clone(o))
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) RestoreStock(ctx context.Context, orderID int64) (bool, error) {
	return m.adjust(orderID, false, true, 1, order.HistoryStockRestored)
}

func (m *memoryStore) ReserveStock(ctx context.Context, orderID int64) (bool, error) {
	return m.adjust(orderID, true, false, -1, "stock_reserved")
}

func (m *memoryStore) adjust(orderID int64, from, to bool, sign int, status string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[orderID]
	if o.InventoryRestored != from {
		return false, nil
	}
	o.InventoryRestored = to
	for _, item := range o.Items {
		m.products[item.ProductID].Stock += sign * item.Quantity
	}
	o.StatusHistory = append(o.StatusHistory, order.StatusEntry{OrderID: orderID, Status: status, CreatedAt: time.Now()})
	return true, nil
}

func clone(o *order.Order) *order.Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	cp.StatusHistory = slices.Clone(o.StatusHistory)
	if o.GatewayPaymentID != nil {
		id := *o.GatewayPaymentID
		cp.GatewayPaymentID = &id
	}
	return &cp
}

// fixture wires the state machine the way the server does, over fakes.
type fixture struct {
	store      *memoryStore
	gateway    *gateway.MockClient
	bus        *events.EventBus
	dedup      *dedup.MemoryStore
	service    *payment.Service
	reconciler *payment.Reconciler
	ctx        context.Context
}

func newFixture() *fixture {
	log := logger.Discard()
	f := &fixture{
		store:   newMemoryStore(),
		gateway: gateway.NewMockClient("http://localhost/api/v1/payment/callback", log),
		bus:     events.NewEventBus(log),
		dedup:   dedup.NewMemoryStore(time.Hour),
		ctx:     context.Background(),
	}
	payment.NewStockCompensator(f.store, log).RegisterEventHandlers(f.bus)
	f.service = payment.NewService(f.store, f.gateway, f.bus, log)
	f.reconciler = payment.NewReconciler(f.service, f.store, f.gateway, f.dedup, log)
	return f
}

// contextAwareGateway fails status queries on a finished context, the way the
// HTTP client does.
type contextAwareGateway struct {
	*gateway.MockClient
	sawDeadline bool
}

func (g *contextAwareGateway) QueryPayment(ctx context.Context, paymentID string) (*gateway.TransactionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &gateway.TransportError{Op: "query", Err: err}
	}
	_, g.sawDeadline = ctx.Deadline()
	return g.MockClient.QueryPayment(ctx, paymentID)
}
