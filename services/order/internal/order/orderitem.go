package order

import (
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
)

// OrderItem is a line item. Name, price and preparation time are
// snapshots of the menu item taken when the order was placed.
type OrderItem struct {
	ID              uuid.UUID `json:"id" bson:"_id"`
	OrderID         uuid.UUID `json:"order_id" bson:"order_id"`
	MenuItemID      uuid.UUID `json:"menu_item_id" bson:"menu_item_id"`
	DishName        string    `json:"dish_name" bson:"dish_name"`
	Price           Money     `json:"price" bson:"price"`
	PreparationTime string    `json:"preparation_time,omitempty" bson:"preparation_time,omitempty"`
	Quantity        int       `json:"quantity" bson:"quantity"`
	Modifiers       []string  `json:"modifiers,omitempty" bson:"modifiers,omitempty"`
	Notes           string    `json:"notes,omitempty" bson:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
	CreatedBy       string    `json:"created_by" bson:"created_by"`
}

func (oi *OrderItem) GetID() uuid.UUID {
	return oi.ID
}

func (oi *OrderItem) ResourceType() string {
	return "order-item"
}

func (oi *OrderItem) SetID(id uuid.UUID) {
	oi.ID = id
}

func NewOrderItem(orderID uuid.UUID) *OrderItem {
	return &OrderItem{
		ID:       apt.GenerateNewID(),
		OrderID:  orderID,
		Quantity: 1,
	}
}

func (oi *OrderItem) EnsureID() {
	if oi.ID == uuid.Nil {
		oi.ID = apt.GenerateNewID()
	}
}

func (oi *OrderItem) BeforeCreate() {
	oi.EnsureID()
	oi.CreatedAt = time.Now()
}

// LineTotal is price times quantity.
func (oi *OrderItem) LineTotal() Money {
	return oi.Price.Times(oi.Quantity)
}
