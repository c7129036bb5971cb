package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/orderflow/pkg"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/appetiteclub/orderflow/services/order/internal/order"
	"github.com/appetiteclub/orderflow/services/order/internal/realtime"
)

const DefaultReplayLimit = 1000

// Source is the part of the realtime Manager the projections consume.
type Source interface {
	Subscribe(topic string, predicate realtime.Predicate, callback realtime.Callback) func()
	State() realtime.State
	Err() error
}

// Replayer returns retained change events oldest first.
type Replayer interface {
	Fetch(ctx context.Context, limit int) ([]events.StreamMessage, error)
}

// Snapshot lists current orders when no replay is available.
type Snapshot interface {
	List(ctx context.Context) ([]*order.Order, error)
}

type OrderCard struct {
	ID           string    `json:"id"`
	Number       string    `json:"number"`
	TableID      string    `json:"table_id"`
	RestaurantID string    `json:"restaurant_id,omitempty"`
	Status       string    `json:"status"`
	StatusLabel  string    `json:"status_label"`
	Total        string    `json:"total"`
	CustomerName string    `json:"customer_name,omitempty"`
	ItemCount    int       `json:"item_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type TimelineEntry struct {
	Status    string    `json:"status"`
	Label     string    `json:"label"`
	At        time.Time `json:"at"`
	Actor     string    `json:"actor,omitempty"`
	Synthetic bool      `json:"synthetic,omitempty"`
}

type KitchenColumns struct {
	Pending   []OrderCard `json:"pending"`
	Preparing []OrderCard `json:"preparing"`
	Ready     []OrderCard `json:"ready"`
}

type Tracking struct {
	Order    OrderCard       `json:"order"`
	Timeline []TimelineEntry `json:"timeline"`
	ETA      *int            `json:"eta_minutes,omitempty"`
}

type entry struct {
	card     OrderCard
	items    map[string]struct{}
	timeline []TimelineEntry
}

// Board holds the staff, kitchen and tracking read views. Changes are applied
// in status rank order so a late or replayed event never moves an order back.
type Board struct {
	source Source
	logger apt.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	// items seen before their order
	orphans map[string]map[string]struct{}

	unsubscribe []func()
}

func NewBoard(source Source, logger apt.Logger) *Board {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Board{
		source:  source,
		logger:  logger.With("component", "board"),
		entries: make(map[string]*entry),
		orphans: make(map[string]map[string]struct{}),
	}
}

// Warm rebuilds state from the replay stream, or from the snapshot when the
// replay is missing or fails.
func (b *Board) Warm(ctx context.Context, replay Replayer, snapshot Snapshot) error {
	if replay != nil {
		messages, err := replay.Fetch(ctx, DefaultReplayLimit)
		if err == nil {
			for _, msg := range messages {
				b.applyRaw(msg.Data)
			}
			b.logger.Info("board warmed from replay", "events", len(messages))
			return nil
		}
		b.logger.Error("replay failed, falling back to snapshot", "error", err)
	}

	if snapshot == nil {
		return nil
	}

	orders, err := snapshot.List(ctx)
	if err != nil {
		return fmt.Errorf("cannot warm board: %w", err)
	}
	for _, o := range orders {
		b.applyOrder(o, nil, o.UpdatedAt)
	}
	b.logger.Info("board warmed from snapshot", "orders", len(orders))
	return nil
}

func (b *Board) Start(ctx context.Context) error {
	if b.source == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.unsubscribe) > 0 {
		return nil
	}
	b.unsubscribe = append(b.unsubscribe,
		b.source.Subscribe(pkg.OrdersTopic, nil, b.Apply),
		b.source.Subscribe(pkg.OrderItemsTopic, nil, b.Apply),
	)
	return nil
}

func (b *Board) Stop(ctx context.Context) error {
	b.mu.Lock()
	subs := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
	return nil
}

// Stale reports whether the realtime channel is offline.
func (b *Board) Stale() bool {
	return b.source != nil && b.source.Err() != nil
}

// Apply folds one realtime change into the views.
func (b *Board) Apply(evt realtime.Event) {
	if evt.State != "" {
		// Staleness is read from the source state.
		return
	}
	b.applyChange(evt.Change)
}

func (b *Board) applyRaw(data []byte) {
	var change event.Change
	if err := json.Unmarshal(data, &change); err != nil {
		b.logger.Debug("skipping malformed replay event", "error", err)
		return
	}
	b.applyChange(change)
}

func (b *Board) applyChange(change event.Change) {
	switch change.Topic {
	case pkg.OrdersTopic:
		var o order.Order
		if err := change.Decode(&o); err != nil {
			b.logger.Debug("skipping undecodable order change", "change_id", change.ID, "error", err)
			return
		}
		at := change.OccurredAt
		if at.IsZero() {
			at = o.UpdatedAt
		}
		b.applyOrder(&o, change.Transition, at)

	case pkg.OrderItemsTopic:
		if change.Type != event.ChangeInsert {
			return
		}
		var item order.OrderItem
		if err := change.Decode(&item); err != nil {
			b.logger.Debug("skipping undecodable item change", "change_id", change.ID, "error", err)
			return
		}
		b.applyItem(item.OrderID.String(), item.ID.String())
	}
}

func (b *Board) applyOrder(o *order.Order, transition *event.StatusTransition, at time.Time) {
	id := o.ID.String()

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok {
		e = &entry{items: make(map[string]struct{})}
		for itemID := range b.orphans[id] {
			e.items[itemID] = struct{}{}
		}
		delete(b.orphans, id)
		b.entries[id] = e
		if o.Status != orderstatus.Statuses.Pending.Code() {
			e.timeline = append(e.timeline, timelineEntry(orderstatus.Statuses.Pending.Code(), o.CreatedAt, o.CreatedBy, false))
		}
	} else if rank(o.Status) < rank(e.card.Status) {
		return
	}

	itemCount := len(e.items)
	e.card = OrderCard{
		ID:           id,
		Number:       o.Number,
		TableID:      o.TableID.String(),
		RestaurantID: o.RestaurantID,
		Status:       o.Status,
		StatusLabel:  label(o.Status),
		Total:        o.Total.StringFixed(2),
		CustomerName: o.CustomerName,
		ItemCount:    itemCount,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}

	if n := len(e.timeline); n > 0 && e.timeline[n-1].Status == o.Status {
		return
	}
	actor, synthetic := o.UpdatedBy, false
	if transition != nil {
		actor, synthetic = transition.Actor, transition.Synthetic
	}
	if len(e.timeline) == 0 {
		at, actor = o.CreatedAt, o.CreatedBy
	}
	e.timeline = append(e.timeline, timelineEntry(o.Status, at, actor, synthetic))
}

func (b *Board) applyItem(orderID, itemID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[orderID]
	if !ok {
		if b.orphans[orderID] == nil {
			b.orphans[orderID] = make(map[string]struct{})
		}
		b.orphans[orderID][itemID] = struct{}{}
		return
	}
	e.items[itemID] = struct{}{}
	e.card.ItemCount = len(e.items)
}

// Orders is the staff list: every non-terminal order, oldest first.
func (b *Board) Orders() []OrderCard {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]OrderCard, 0, len(b.entries))
	for _, e := range b.entries {
		if !orderstatus.IsTerminalCode(e.card.Status) {
			out = append(out, e.card)
		}
	}
	sortCards(out)
	return out
}

// Kitchen groups orders the kitchen still has to act on.
func (b *Board) Kitchen() KitchenColumns {
	cols := KitchenColumns{
		Pending:   []OrderCard{},
		Preparing: []OrderCard{},
		Ready:     []OrderCard{},
	}
	for _, card := range b.Orders() {
		switch card.Status {
		case orderstatus.Statuses.Pending.Code():
			cols.Pending = append(cols.Pending, card)
		case orderstatus.Statuses.Preparing.Code():
			cols.Preparing = append(cols.Preparing, card)
		case orderstatus.Statuses.Ready.Code():
			cols.Ready = append(cols.Ready, card)
		}
	}
	return cols
}

// Tracking returns one order with its status history.
func (b *Board) Tracking(orderID string) (*Tracking, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[orderID]
	if !ok {
		return nil, false
	}
	return &Tracking{
		Order:    e.card,
		Timeline: append([]TimelineEntry(nil), e.timeline...),
	}, true
}

func timelineEntry(status string, at time.Time, actor string, synthetic bool) TimelineEntry {
	return TimelineEntry{
		Status:    status,
		Label:     label(status),
		At:        at,
		Actor:     actor,
		Synthetic: synthetic,
	}
}

func rank(status string) int {
	for i, s := range orderstatus.All {
		if s.Code() == status {
			return i
		}
	}
	return -1
}

func label(status string) string {
	if s := orderstatus.ByName(status); s != nil {
		return s.Label()
	}
	return status
}

func sortCards(cards []OrderCard) {
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].ID < cards[j].ID
		}
		return cards[i].CreatedAt.Before(cards[j].CreatedAt)
	})
}
