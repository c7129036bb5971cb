package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewChange builds a change envelope for record on topic.
func NewChange(topic, changeType string, record, old interface{}) (Change, error) {
	change := Change{
		ID:         uuid.NewString(),
		Topic:      topic,
		Type:       changeType,
		OccurredAt: time.Now().UTC(),
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return Change{}, err
	}
	change.Record = raw

	if old != nil {
		prev, err := json.Marshal(old)
		if err != nil {
			return Change{}, err
		}
		change.Old = prev
	}

	return change, nil
}

// TableOccupancy is the record published on the tables topic after a projection.
type TableOccupancy struct {
	TableID      string    `json:"id"`
	Number       string    `json:"number,omitempty"`
	RestaurantID string    `json:"restaurant_id,omitempty"`
	Status       string    `json:"status"`
	Previous     string    `json:"previous_status,omitempty"`
	ActiveOrders int       `json:"active_orders"`
	ProjectedAt  time.Time `json:"projected_at"`
}
