package event

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// Change is the row-level notification delivered on every change topic.
// Record carries the full post-change row; Old the pre-change row when known.
type Change struct {
	ID         string            `json:"id"`
	Topic      string            `json:"topic"`
	Type       string            `json:"type"`
	Record     json.RawMessage   `json:"record"`
	Old        json.RawMessage   `json:"old,omitempty"`
	Transition *StatusTransition `json:"transition,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// StatusTransition is the domain event attached to order status changes.
type StatusTransition struct {
	OrderID    string `json:"order_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	TableID    string `json:"table_id"`
	Actor      string `json:"actor,omitempty"`
	Synthetic  bool   `json:"synthetic,omitempty"`
}

// Decode unmarshals the post-change record into v.
func (c Change) Decode(v interface{}) error {
	if len(c.Record) == 0 {
		return fmt.Errorf("change %s has no record", c.ID)
	}
	return json.Unmarshal(c.Record, v)
}

// Field returns a top-level record field rendered as a string.
func (c Change) Field(key string) (string, bool) {
	var fields map[string]interface{}
	if err := json.Unmarshal(c.Record, &fields); err != nil {
		return "", false
	}
	value, ok := fields[key]
	if !ok || value == nil {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, true
	default:
		return fmt.Sprint(v), true
	}
}
