package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/orderflow/pkg/enums/paymentstatus"
	"github.com/google/uuid"
)

// unsettledRefund is an order whose refund went through while its local
// cancellation writes did not.
type unsettledRefund struct {
	refundRef string
	actor     string
	since     time.Time
}

// Unsettled lists orders whose refund is still waiting for its local writes.
func (c *Canceller) Unsettled() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(c.unsettled))
	for id := range c.unsettled {
		ids = append(ids, id)
	}
	return ids
}

// Recover rebuilds the unsettled set from storage: a refunded payment whose
// order is still active means the process stopped before the order write.
func (c *Canceller) Recover(ctx context.Context) (int, error) {
	payments, err := c.payments.ListByStatus(ctx, paymentstatus.Statuses.Refunded.Code())
	if err != nil {
		return 0, fmt.Errorf("cannot list refunded payments: %w", err)
	}

	found := 0
	for _, p := range payments {
		o, err := c.orders.Get(ctx, p.OrderID)
		if err != nil {
			return found, fmt.Errorf("cannot load order: %w", err)
		}
		if o == nil || o.Status == cancelled {
			continue
		}
		if o.Status == completed {
			c.logger.Error("refunded order is completed, repair by hand", "order_id", o.ID.String(), "refund_ref", p.RefundRef)
			continue
		}
		actor := p.UpdatedBy
		if actor == "" {
			actor = SystemActor
		}
		c.queue(o.ID, p.RefundRef, actor)
		found++
	}
	return found, nil
}

// Repair retries the local writes of every unsettled refund once and returns
// how many are still pending.
func (c *Canceller) Repair(ctx context.Context) int {
	for _, id := range c.Unsettled() {
		if ctx.Err() != nil {
			break
		}
		c.repairOne(ctx, id)
	}
	return len(c.Unsettled())
}

func (c *Canceller) repairOne(ctx context.Context, id uuid.UUID) {
	c.mu.Lock()
	entry, ok := c.unsettled[id]
	c.mu.Unlock()
	if !ok {
		return
	}

	release, err := c.locks.acquire(ctx, id)
	if err != nil {
		return
	}
	defer release()

	log := c.logger.With("order_id", id.String(), "refund_ref", entry.refundRef)

	o, err := c.orders.Get(ctx, id)
	if err != nil {
		log.Debug("cannot load order for refund repair", "error", err)
		return
	}
	if o == nil {
		c.forget(id)
		log.Error("unsettled refund for a missing order, dropped")
		return
	}
	p, err := c.payments.GetByOrder(ctx, id)
	if err != nil {
		log.Debug("cannot load payment for refund repair", "error", err)
		return
	}

	err = c.settle(ctx, o, p, entry.refundRef, entry.actor, 1)
	switch {
	case err == nil:
		c.forget(id)
		log.Info("refunded order cancelled by repair", "waited", time.Since(entry.since).String())
	case errors.Is(err, errCompletedAfterRefund):
		c.forget(id)
		log.Error("refunded order is completed, repair by hand", "error", err)
	default:
		log.Debug("refund repair incomplete", "error", err)
	}
}

// Start rebuilds the unsettled set and runs the repair loop until Stop.
func (c *Canceller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return nil
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	c.mu.Unlock()

	found, err := c.Recover(ctx)
	recovered := err == nil
	if err != nil {
		c.logger.Error("cannot recover unsettled refunds, retrying on the next tick", "error", err)
	} else if found > 0 {
		c.logger.Info("recovered unsettled refunds", "count", found)
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !recovered {
					_, err := c.Recover(context.Background())
					recovered = err == nil
				}
				if left := c.Repair(context.Background()); left > 0 {
					c.logger.Info("refund settlement repair incomplete", "pending", left)
				}
			}
		}
	}()

	c.logger.Info("refund settlement repair loop started", "interval", c.interval.String())
	return nil
}

func (c *Canceller) Stop(ctx context.Context) error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop = nil
	c.mu.Unlock()

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

func (c *Canceller) queue(id uuid.UUID, refundRef, actor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.unsettled[id]; !ok {
		c.unsettled[id] = unsettledRefund{refundRef: refundRef, actor: actor, since: time.Now()}
	}
}

func (c *Canceller) forget(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.unsettled, id)
}
