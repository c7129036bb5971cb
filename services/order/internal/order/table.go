package order

import (
	"time"

	"github.com/google/uuid"
)

// Table is the occupancy view of a dining table. Status is only ever
// written by the TableProjector.
type Table struct {
	ID           uuid.UUID `json:"id" bson:"_id"`
	Number       string    `json:"number" bson:"number"`
	RestaurantID string    `json:"restaurant_id,omitempty" bson:"restaurant_id,omitempty"`
	Status       string    `json:"status" bson:"status"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

func (t *Table) GetID() uuid.UUID {
	return t.ID
}

func (t *Table) ResourceType() string {
	return "table"
}
