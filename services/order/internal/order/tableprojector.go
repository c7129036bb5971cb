package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/pkg/enums/tablestatus"
	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/google/uuid"
)

const DefaultRepairInterval = 30 * time.Second

// TableProjector derives table occupancy from the current set of orders.
// It always recomputes; it never patches the previous value.
type TableProjector struct {
	orders   OrderRepo
	tables   TableRepo
	emitter  *Emitter
	logger   apt.Logger
	interval time.Duration

	mu    sync.Mutex
	dirty map[uuid.UUID]time.Time

	stop chan struct{}
	done chan struct{}
}

func NewTableProjector(orders OrderRepo, tables TableRepo, emitter *Emitter, interval time.Duration, logger apt.Logger) *TableProjector {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if interval <= 0 {
		interval = DefaultRepairInterval
	}
	return &TableProjector{
		orders:   orders,
		tables:   tables,
		emitter:  emitter,
		logger:   logger.With("component", "table-projector"),
		interval: interval,
		dirty:    make(map[uuid.UUID]time.Time),
	}
}

// Occupancy computes the status a table should have right now.
func (p *TableProjector) Occupancy(ctx context.Context, tableID uuid.UUID) (string, int, error) {
	orders, err := p.orders.ListByTable(ctx, tableID)
	if err != nil {
		return "", 0, fmt.Errorf("cannot list orders for table: %w", err)
	}

	active := 0
	for _, o := range orders {
		if o.IsActive() {
			active++
		}
	}

	if active > 0 {
		return tablestatus.Statuses.Occupied.Code(), active, nil
	}
	return tablestatus.Statuses.Available.Code(), 0, nil
}

// Project recomputes and stores the occupancy of tableID. Failures are logged
// and queued for repair; they never propagate to the order transition that
// triggered the projection.
func (p *TableProjector) Project(ctx context.Context, tableID uuid.UUID) string {
	if tableID == uuid.Nil {
		return ""
	}

	status, active, err := p.Occupancy(ctx, tableID)
	if err != nil {
		p.markDirty(tableID)
		p.logger.Error("cannot compute table occupancy, queued for repair", "error", err, "table_id", tableID.String())
		return ""
	}

	var previous *Table
	if p.tables != nil {
		previous, err = p.tables.Get(ctx, tableID)
		if err != nil {
			p.logger.Debug("cannot load table before projection", "error", err, "table_id", tableID.String())
		}
	}

	if p.tables != nil {
		if err := p.tables.SetStatus(ctx, tableID, status); err != nil {
			p.markDirty(tableID)
			p.logger.Error("cannot write table occupancy, queued for repair", "error", err, "table_id", tableID.String(), "status", status)
			return status
		}
	}
	p.clearDirty(tableID)

	occupancy := event.TableOccupancy{
		TableID:      tableID.String(),
		Status:       status,
		ActiveOrders: active,
		ProjectedAt:  time.Now().UTC(),
	}
	if previous != nil {
		occupancy.Number = previous.Number
		occupancy.RestaurantID = previous.RestaurantID
		occupancy.Previous = previous.Status
	}
	if previous == nil || previous.Status != status {
		p.emitter.TableProjected(ctx, occupancy)
	}

	return status
}

// Repair re-projects every table whose last write failed and returns how many
// are still pending.
func (p *TableProjector) Repair(ctx context.Context) int {
	for _, tableID := range p.Pending() {
		if ctx.Err() != nil {
			break
		}
		p.Project(ctx, tableID)
	}
	return len(p.Pending())
}

// Pending lists tables waiting for repair.
func (p *TableProjector) Pending() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(p.dirty))
	for id := range p.dirty {
		ids = append(ids, id)
	}
	return ids
}

// Start runs the repair loop until Stop is called.
func (p *TableProjector) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return nil
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stop, p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if left := p.Repair(context.Background()); left > 0 {
					p.logger.Info("table occupancy repair incomplete", "pending", left)
				}
			}
		}
	}()

	p.logger.Info("table projector repair loop started", "interval", p.interval.String())
	return nil
}

func (p *TableProjector) Stop(ctx context.Context) error {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop = nil
	p.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *TableProjector) markDirty(tableID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.dirty[tableID]; !ok {
		p.dirty[tableID] = time.Now()
	}
}

func (p *TableProjector) clearDirty(tableID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.dirty, tableID)
}
