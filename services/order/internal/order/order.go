package order

import (
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/google/uuid"
)

// SystemActor is recorded on transitions the service performs on its own.
const SystemActor = "system"

type Order struct {
	ID                 uuid.UUID `json:"id" bson:"_id"`
	Number             string    `json:"number" bson:"number"`
	RestaurantID       string    `json:"restaurant_id,omitempty" bson:"restaurant_id,omitempty"`
	TableID            uuid.UUID `json:"table_id" bson:"table_id"`
	Status             string    `json:"status" bson:"status"`
	Subtotal           Money     `json:"subtotal" bson:"subtotal"`
	Tax                Money     `json:"tax" bson:"tax"`
	Tip                Money     `json:"tip" bson:"tip"`
	Total              Money     `json:"total" bson:"total"`
	CustomerName       string    `json:"customer_name,omitempty" bson:"customer_name,omitempty"`
	Notes              string    `json:"notes,omitempty" bson:"notes,omitempty"`
	ExternalPaymentRef string    `json:"external_payment_ref,omitempty" bson:"external_payment_ref,omitempty"`
	CreatedAt          time.Time `json:"created_at" bson:"created_at"`
	CreatedBy          string    `json:"created_by" bson:"created_by"`
	UpdatedAt          time.Time `json:"updated_at" bson:"updated_at"`
	UpdatedBy          string    `json:"updated_by" bson:"updated_by"`
}

func (o *Order) GetID() uuid.UUID {
	return o.ID
}

func (o *Order) ResourceType() string {
	return "order"
}

func (o *Order) SetID(id uuid.UUID) {
	o.ID = id
}

func NewOrder() *Order {
	id := apt.GenerateNewID()
	return &Order{
		ID:     id,
		Number: NumberFor(id),
		Status: orderstatus.Statuses.Pending.Code(),
	}
}

func (o *Order) EnsureID() {
	if o.ID == uuid.Nil {
		o.ID = apt.GenerateNewID()
	}
	if o.Number == "" {
		o.Number = NumberFor(o.ID)
	}
}

func (o *Order) BeforeCreate() {
	o.EnsureID()
	o.CreatedAt = time.Now()
	o.UpdatedAt = time.Now()
}

func (o *Order) BeforeUpdate() {
	o.UpdatedAt = time.Now()
}

// IsCard reports whether the order was paid by card up front.
func (o *Order) IsCard() bool {
	return o.ExternalPaymentRef != ""
}

func (o *Order) IsTerminal() bool {
	return orderstatus.IsTerminalCode(o.Status)
}

// IsActive reports whether the order still holds its table.
func (o *Order) IsActive() bool {
	return !o.IsTerminal()
}

// NumberFor derives the human readable order number shown to guests.
func NumberFor(id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	return "#" + strings.ToUpper(hex[:6])
}
