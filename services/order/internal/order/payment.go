package order

import (
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentmethod"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentstatus"
	"github.com/google/uuid"
)

type Payment struct {
	ID        uuid.UUID  `json:"id" bson:"_id"`
	OrderID   uuid.UUID  `json:"order_id" bson:"order_id"`
	Method    string     `json:"method" bson:"method"`
	Status    string     `json:"status" bson:"status"`
	Amount    Money      `json:"amount" bson:"amount"`
	RefundRef string     `json:"refund_ref,omitempty" bson:"refund_ref,omitempty"`
	SettledAt *time.Time `json:"settled_at,omitempty" bson:"settled_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
	UpdatedBy string     `json:"updated_by" bson:"updated_by"`
}

func (p *Payment) GetID() uuid.UUID {
	return p.ID
}

func (p *Payment) ResourceType() string {
	return "payment"
}

func (p *Payment) SetID(id uuid.UUID) {
	p.ID = id
}

func NewPayment(orderID uuid.UUID, method paymentmethod.Method) *Payment {
	return &Payment{
		ID:      apt.GenerateNewID(),
		OrderID: orderID,
		Method:  method.Code(),
		Status:  paymentstatus.Statuses.Pending.Code(),
	}
}

func (p *Payment) EnsureID() {
	if p.ID == uuid.Nil {
		p.ID = apt.GenerateNewID()
	}
}

func (p *Payment) BeforeCreate() {
	p.EnsureID()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
}

func (p *Payment) BeforeUpdate() {
	p.UpdatedAt = time.Now()
}

// IsPaid is the effective paid predicate of the owning order.
func (p *Payment) IsPaid() bool {
	return p != nil && p.Status == paymentstatus.Statuses.Completed.Code()
}
