package order

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
)

var (
	pending   = orderstatus.Statuses.Pending.Code()
	preparing = orderstatus.Statuses.Preparing.Code()
	ready     = orderstatus.Statuses.Ready.Code()
	served    = orderstatus.Statuses.Served.Code()
	completed = orderstatus.Statuses.Completed.Code()
	cancelled = orderstatus.Statuses.Cancelled.Code()
)

// AllowedTransitions is the order lifecycle graph. Terminal statuses have no
// outgoing edges. Cancelled edges are only taken by the Canceller.
var AllowedTransitions = map[string][]string{
	pending:   {preparing, cancelled},
	preparing: {ready, cancelled},
	ready:     {served, cancelled},
	served:    {completed, cancelled},
	completed: {},
	cancelled: {},
}

var allowedTransitionSet = buildTransitionSet(AllowedTransitions)

func buildTransitionSet(transitions map[string][]string) map[string]map[string]struct{} {
	set := make(map[string]map[string]struct{}, len(transitions))
	for from, tos := range transitions {
		next := make(map[string]struct{}, len(tos))
		for _, to := range tos {
			next[to] = struct{}{}
		}
		set[from] = next
	}
	return set
}

// CanTransition checks if from -> to is a single edge of the graph.
func CanTransition(from, to string) bool {
	next, ok := allowedTransitionSet[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// NextStatuses lists the statuses reachable in one step, cancellation included.
func NextStatuses(from string) []string {
	next := AllowedTransitions[from]
	out := make([]string, len(next))
	copy(out, next)
	return out
}

// checkTerminal rejects any action on an order that can no longer move.
func checkTerminal(o *Order) error {
	switch o.Status {
	case cancelled:
		return fmt.Errorf("%w: order %s", ErrAlreadyCancelled, o.ID)
	case completed:
		return fmt.Errorf("%w: order %s is %s", ErrAlreadyTerminal, o.ID, o.Status)
	}
	return nil
}

// Machine is the single authority for order status writes.
type Machine struct {
	orders    OrderRepo
	payments  PaymentRepo
	projector *TableProjector
	emitter   *Emitter
	logger    apt.Logger
	// locks is shared with the Canceller and the payment path so every status
	// writer in this process sees one order at a time.
	locks *keyedLock
}

func NewMachine(orders OrderRepo, payments PaymentRepo, projector *TableProjector, emitter *Emitter, logger apt.Logger) *Machine {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Machine{
		orders:    orders,
		payments:  payments,
		projector: projector,
		emitter:   emitter,
		logger:    logger.With("component", "state-machine"),
		locks:     newKeyedLock(),
	}
}

// Transition moves o to target and runs the side effects. o is updated in
// place. Cancellation is rejected here; it carries refund obligations and
// goes through the Canceller.
func (m *Machine) Transition(ctx context.Context, o *Order, target, actor string) (*Order, error) {
	if o == nil {
		return nil, ErrOrderNotFound
	}
	if err := checkTerminal(o); err != nil {
		return o, err
	}
	if target == cancelled {
		return o, fmt.Errorf("%w: cancellation must go through the cancel workflow", ErrInvalidTransition)
	}
	if !CanTransition(o.Status, target) {
		return o, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
	}

	release, err := m.locks.acquire(ctx, o.ID)
	if err != nil {
		return o, fmt.Errorf("cannot lock order: %w", err)
	}
	defer release()

	if err := m.apply(ctx, o, target, actor, false); err != nil {
		return o, err
	}

	if target == served {
		m.autoComplete(ctx, o)
	}

	return o, nil
}

// Settle completes a served order whose payment has just been marked paid.
func (m *Machine) Settle(ctx context.Context, o *Order, p *Payment, actor string) error {
	if o == nil {
		return ErrOrderNotFound
	}
	release, err := m.locks.acquire(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("cannot lock order: %w", err)
	}
	defer release()
	return m.settle(ctx, o, p, actor)
}

// settle is Settle for callers already holding the order lock.
func (m *Machine) settle(ctx context.Context, o *Order, p *Payment, actor string) error {
	if Reconcile(o, p, IntentSettle).Action != AutoComplete {
		return nil
	}
	return m.apply(ctx, o, completed, actor, true)
}

func (m *Machine) autoComplete(ctx context.Context, o *Order) {
	p, err := m.payments.GetByOrder(ctx, o.ID)
	if err != nil {
		m.logger.Error("cannot load payment for auto completion", "error", err, "order_id", o.ID.String())
		return
	}

	decision := Reconcile(o, p, IntentServe)
	if decision.Action != AutoComplete {
		return
	}

	// The served write already stands; losing this race only means another
	// writer moved the order first.
	if err := m.apply(ctx, o, completed, SystemActor, true); err != nil {
		m.logger.Info("auto completion skipped", "order_id", o.ID.String(), "error", err)
	}
}

// apply performs the compare-and-swap and fires the side effects exactly once
// per successful write.
func (m *Machine) apply(ctx context.Context, o *Order, to, actor string, synthetic bool) error {
	from := o.Status
	ok, err := m.orders.UpdateStatus(ctx, o.ID, from, to, actor)
	if err != nil {
		return fmt.Errorf("cannot update order status: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: order %s is no longer %s", ErrConcurrentModification, o.ID, from)
	}

	o.Status = to
	o.UpdatedAt = time.Now()
	o.UpdatedBy = actor

	m.logger.Info("order transitioned", "order_id", o.ID.String(), "from", from, "to", to, "actor", actor, "synthetic", synthetic)

	m.emitter.OrderTransitioned(ctx, o, from, actor, synthetic)
	if m.projector != nil {
		m.projector.Project(ctx, o.TableID)
	}
	return nil
}
