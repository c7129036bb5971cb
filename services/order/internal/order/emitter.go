package order

import (
	"context"
	"encoding/json"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/orderflow/pkg"
	"github.com/appetiteclub/orderflow/pkg/event"
)

// Emitter publishes row-level change envelopes after writes have landed.
// Publishing is best effort: a failed publish is logged and the write stands.
type Emitter struct {
	publisher events.Publisher
	logger    apt.Logger
}

func NewEmitter(publisher events.Publisher, logger apt.Logger) *Emitter {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Emitter{
		publisher: publisher,
		logger:    logger.With("component", "emitter"),
	}
}

// OrderTransitioned emits the update carrying the status transition event.
func (e *Emitter) OrderTransitioned(ctx context.Context, o *Order, from, actor string, synthetic bool) {
	if e == nil {
		return
	}
	prev := *o
	prev.Status = from

	change, err := event.NewChange(pkg.OrdersTopic, event.ChangeUpdate, o, &prev)
	if err != nil {
		e.logger.Error("cannot build order change", "error", err, "order_id", o.ID.String())
		return
	}
	change.Transition = &event.StatusTransition{
		OrderID:    o.ID.String(),
		FromStatus: from,
		ToStatus:   o.Status,
		TableID:    o.TableID.String(),
		Actor:      actor,
		Synthetic:  synthetic,
	}
	e.publish(ctx, change)
}

func (e *Emitter) OrderCreated(ctx context.Context, o *Order) {
	e.emit(ctx, pkg.OrdersTopic, event.ChangeInsert, o, nil)
}

func (e *Emitter) ItemCreated(ctx context.Context, item *OrderItem) {
	e.emit(ctx, pkg.OrderItemsTopic, event.ChangeInsert, item, nil)
}

func (e *Emitter) PaymentCreated(ctx context.Context, p *Payment) {
	e.emit(ctx, pkg.PaymentsTopic, event.ChangeInsert, p, nil)
}

func (e *Emitter) PaymentChanged(ctx context.Context, p *Payment, from string) {
	prev := *p
	prev.Status = from
	e.emit(ctx, pkg.PaymentsTopic, event.ChangeUpdate, p, &prev)
}

func (e *Emitter) TableProjected(ctx context.Context, occupancy event.TableOccupancy) {
	e.emit(ctx, pkg.TablesTopic, event.ChangeUpdate, occupancy, nil)
}

func (e *Emitter) emit(ctx context.Context, topic, changeType string, record, old interface{}) {
	if e == nil {
		return
	}
	change, err := event.NewChange(topic, changeType, record, old)
	if err != nil {
		e.logger.Error("cannot build change", "error", err, "topic", topic)
		return
	}
	e.publish(ctx, change)
}

func (e *Emitter) publish(ctx context.Context, change event.Change) {
	if e == nil || e.publisher == nil {
		return
	}
	payload, err := json.Marshal(change)
	if err != nil {
		e.logger.Error("cannot marshal change", "error", err, "topic", change.Topic)
		return
	}
	if err := e.publisher.Publish(ctx, change.Topic, payload); err != nil {
		e.logger.Error("cannot publish change", "error", err, "topic", change.Topic, "change_id", change.ID)
	}
}
