package order

import (
	"context"

	"github.com/google/uuid"
)

// Get methods return nil, nil when the record does not exist.

type OrderRepo interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	List(ctx context.Context) ([]*Order, error)
	ListByTable(ctx context.Context, tableID uuid.UUID) ([]*Order, error)
	ListByStatus(ctx context.Context, status string) ([]*Order, error)
	// UpdateStatus writes to only if the stored status is still from.
	// It reports false when another writer got there first.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to, actor string) (bool, error)
}

type OrderItemRepo interface {
	Create(ctx context.Context, item *OrderItem) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*OrderItem, error)
}

type PaymentRepo interface {
	Create(ctx context.Context, payment *Payment) error
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*Payment, error)
	ListByStatus(ctx context.Context, status string) ([]*Payment, error)
	// UpdateStatus is a compare-and-swap on the payment status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to, refundRef, actor string) (bool, error)
}

type TableRepo interface {
	Get(ctx context.Context, id uuid.UUID) (*Table, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
}

type Repos struct {
	OrderRepo     OrderRepo
	OrderItemRepo OrderItemRepo
	PaymentRepo   PaymentRepo
	TableRepo     TableRepo
}
