package order

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/google/uuid"
)

// MockPublisher is a mock implementation of events.Publisher for testing
type MockPublisher struct {
	mu          sync.Mutex
	published   []event.Change
	PublishFunc func(ctx context.Context, topic string, msg []byte) error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, msg)
	}
	var change event.Change
	if err := json.Unmarshal(msg, &change); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, change)
	return nil
}

// Transitions returns the status transitions published so far.
func (m *MockPublisher) Transitions() []event.StatusTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.StatusTransition
	for _, c := range m.published {
		if c.Transition != nil {
			out = append(out, *c.Transition)
		}
	}
	return out
}

func (m *MockPublisher) OnTopic(topic string) []event.Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Change
	for _, c := range m.published {
		if c.Topic == topic {
			out = append(out, c)
		}
	}
	return out
}

// MockOrderRepo is a mock implementation of OrderRepo for testing.
// It stores copies so callers cannot mutate stored state without a write.
type MockOrderRepo struct {
	mu               sync.RWMutex
	orders           map[uuid.UUID]Order
	CreateFunc       func(ctx context.Context, order *Order) error
	GetFunc          func(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByTableFunc  func(ctx context.Context, tableID uuid.UUID) ([]*Order, error)
	UpdateStatusFunc func(ctx context.Context, id uuid.UUID, from, to, actor string) (bool, error)
}

func NewMockOrderRepo() *MockOrderRepo {
	return &MockOrderRepo{
		orders: make(map[uuid.UUID]Order),
	}
}

func (m *MockOrderRepo) Create(ctx context.Context, order *Order) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, order)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = *order
	return nil
}

func (m *MockOrderRepo) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (m *MockOrderRepo) List(ctx context.Context) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Order
	for _, o := range m.orders {
		o := o
		result = append(result, &o)
	}
	return result, nil
}

func (m *MockOrderRepo) ListByTable(ctx context.Context, tableID uuid.UUID) ([]*Order, error) {
	if m.ListByTableFunc != nil {
		return m.ListByTableFunc(ctx, tableID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Order
	for _, o := range m.orders {
		if o.TableID == tableID {
			o := o
			result = append(result, &o)
		}
	}
	return result, nil
}

func (m *MockOrderRepo) ListByStatus(ctx context.Context, status string) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Order
	for _, o := range m.orders {
		if o.Status == status {
			o := o
			result = append(result, &o)
		}
	}
	return result, nil
}

func (m *MockOrderRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to, actor string) (bool, error) {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, from, to, actor)
	}
	return m.cas(id, from, to, actor)
}

func (m *MockOrderRepo) cas(id uuid.UUID, from, to, actor string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedBy = actor
	o.UpdatedAt = time.Now()
	m.orders[id] = o
	return true, nil
}

// Status returns the stored status of an order.
func (m *MockOrderRepo) Status(id uuid.UUID) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orders[id].Status
}

// ForceStatus simulates a write from another process.
func (m *MockOrderRepo) ForceStatus(id uuid.UUID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	o.Status = status
	m.orders[id] = o
}

// MockOrderItemRepo is a mock implementation of OrderItemRepo for testing
type MockOrderItemRepo struct {
	mu         sync.RWMutex
	items      map[uuid.UUID]*OrderItem
	CreateFunc func(ctx context.Context, item *OrderItem) error
}

func NewMockOrderItemRepo() *MockOrderItemRepo {
	return &MockOrderItemRepo{
		items: make(map[uuid.UUID]*OrderItem),
	}
}

func (m *MockOrderItemRepo) Create(ctx context.Context, item *OrderItem) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, item)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *MockOrderItemRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*OrderItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*OrderItem
	for _, item := range m.items {
		if item.OrderID == orderID {
			result = append(result, item)
		}
	}
	return result, nil
}

// MockPaymentRepo is a mock implementation of PaymentRepo for testing
type MockPaymentRepo struct {
	mu               sync.RWMutex
	payments         map[uuid.UUID]Payment
	GetByOrderFunc   func(ctx context.Context, orderID uuid.UUID) (*Payment, error)
	ListByStatusFunc func(ctx context.Context, status string) ([]*Payment, error)
	UpdateStatusFunc func(ctx context.Context, id uuid.UUID, from, to, refundRef, actor string) (bool, error)
}

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{
		payments: make(map[uuid.UUID]Payment),
	}
}

func (m *MockPaymentRepo) Create(ctx context.Context, payment *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[payment.ID] = *payment
	return nil
}

func (m *MockPaymentRepo) GetByOrder(ctx context.Context, orderID uuid.UUID) (*Payment, error) {
	if m.GetByOrderFunc != nil {
		return m.GetByOrderFunc(ctx, orderID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payments {
		if p.OrderID == orderID {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (m *MockPaymentRepo) ListByStatus(ctx context.Context, status string) ([]*Payment, error) {
	if m.ListByStatusFunc != nil {
		return m.ListByStatusFunc(ctx, status)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Payment
	for _, p := range m.payments {
		if p.Status == status {
			p := p
			result = append(result, &p)
		}
	}
	return result, nil
}

func (m *MockPaymentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to, refundRef, actor string) (bool, error) {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, from, to, refundRef, actor)
	}
	return m.cas(id, from, to, refundRef)
}

func (m *MockPaymentRepo) cas(id uuid.UUID, from, to, refundRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	if refundRef != "" {
		p.RefundRef = refundRef
	}
	m.payments[id] = p
	return true, nil
}

func (m *MockPaymentRepo) ByOrder(orderID uuid.UUID) Payment {
	p, _ := m.GetByOrder(context.Background(), orderID)
	if p == nil {
		return Payment{}
	}
	return *p
}

// MockTableRepo is a mock implementation of TableRepo for testing
type MockTableRepo struct {
	mu            sync.RWMutex
	tables        map[uuid.UUID]Table
	writes        int32
	SetStatusFunc func(ctx context.Context, id uuid.UUID, status string) error
}

func NewMockTableRepo() *MockTableRepo {
	return &MockTableRepo{
		tables: make(map[uuid.UUID]Table),
	}
}

func (m *MockTableRepo) Get(ctx context.Context, id uuid.UUID) (*Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MockTableRepo) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	atomic.AddInt32(&m.writes, 1)
	if m.SetStatusFunc != nil {
		return m.SetStatusFunc(ctx, id, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tables[id]
	t.ID = id
	t.Status = status
	m.tables[id] = t
	return nil
}

func (m *MockTableRepo) Status(id uuid.UUID) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tables[id].Status
}

// MockMenu is a mock implementation of MenuCatalog for testing
type MockMenu struct {
	items       map[uuid.UUID]*MenuItem
	ResolveFunc func(ctx context.Context, id uuid.UUID) (*MenuItem, error)
}

func NewMockMenu(items ...*MenuItem) *MockMenu {
	m := &MockMenu{items: make(map[uuid.UUID]*MenuItem)}
	for _, item := range items {
		m.items[item.ID] = item
	}
	return m
}

func (m *MockMenu) Resolve(ctx context.Context, id uuid.UUID) (*MenuItem, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, id)
	}
	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("menu item %s not found", id)
	}
	return item, nil
}

// MockGateway is a mock implementation of PaymentGateway for testing
type MockGateway struct {
	calls      int32
	RefundFunc func(ctx context.Context, req RefundRequest) (string, error)
}

func (m *MockGateway) Refund(ctx context.Context, req RefundRequest) (string, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, req)
	}
	return "re_" + req.PaymentRef, nil
}

func (m *MockGateway) Calls() int {
	return int(atomic.LoadInt32(&m.calls))
}

// fixture wires a Service over in-memory mocks.
type fixture struct {
	orders    *MockOrderRepo
	items     *MockOrderItemRepo
	payments  *MockPaymentRepo
	tables    *MockTableRepo
	menu      *MockMenu
	gateway   *MockGateway
	publisher *MockPublisher
	service   *Service
}

func newFixture() *fixture {
	f := &fixture{
		orders:    NewMockOrderRepo(),
		items:     NewMockOrderItemRepo(),
		payments:  NewMockPaymentRepo(),
		tables:    NewMockTableRepo(),
		menu:      NewMockMenu(),
		gateway:   &MockGateway{},
		publisher: NewMockPublisher(),
	}
	f.service = NewService(ServiceDeps{
		Repos:     f.repos(),
		Menu:      f.menu,
		Payments:  f.gateway,
		Publisher: f.publisher,
	}, nil)
	f.service.canceller.settleBackoff = time.Millisecond
	f.service.backoff = time.Millisecond
	return f
}

func (f *fixture) repos() Repos {
	return Repos{
		OrderRepo:     f.orders,
		OrderItemRepo: f.items,
		PaymentRepo:   f.payments,
		TableRepo:     f.tables,
	}
}

// seed stores an order in status with a payment and returns both.
// A non-empty ref makes it a card order.
func (f *fixture) seed(tableID uuid.UUID, status, ref, paymentStatus string) (*Order, *Payment) {
	o := NewOrder()
	o.TableID = tableID
	o.Status = status
	o.ExternalPaymentRef = ref
	o.BeforeCreate()
	_ = f.orders.Create(context.Background(), o)

	if paymentStatus == "" {
		return o, nil
	}
	method := "cash"
	if ref != "" {
		method = "card"
	}
	p := &Payment{ID: uuid.New(), OrderID: o.ID, Method: method, Status: paymentStatus}
	_ = f.payments.Create(context.Background(), p)
	return o, p
}
