package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentmethod"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentstatus"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultRetries = 3

type ServiceDeps struct {
	Repos          Repos
	Menu           MenuCatalog
	Payments       PaymentGateway
	Publisher      events.Publisher
	RefundTimeout  time.Duration
	RepairInterval time.Duration
}

// Service is the entry point for every order action. Transient failures are
// retried with fresh state before they reach the caller.
type Service struct {
	repos     Repos
	menu      MenuCatalog
	emitter   *Emitter
	projector *TableProjector
	machine   *Machine
	canceller *Canceller
	logger    apt.Logger
	retries   int
	backoff   time.Duration
}

func NewService(deps ServiceDeps, logger apt.Logger) *Service {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	emitter := NewEmitter(deps.Publisher, logger)
	projector := NewTableProjector(deps.Repos.OrderRepo, deps.Repos.TableRepo, emitter, deps.RepairInterval, logger)
	machine := NewMachine(deps.Repos.OrderRepo, deps.Repos.PaymentRepo, projector, emitter, logger)
	canceller := NewCanceller(deps.Repos.OrderRepo, deps.Repos.PaymentRepo, machine, deps.Payments, projector, emitter, deps.RefundTimeout, deps.RepairInterval, logger)

	return &Service{
		repos:     deps.Repos,
		menu:      deps.Menu,
		emitter:   emitter,
		projector: projector,
		machine:   machine,
		canceller: canceller,
		logger:    logger.With("component", "order-service"),
		retries:   defaultRetries,
		backoff:   20 * time.Millisecond,
	}
}

// Projector exposes the table projector so its repair loop can join the
// service lifecycle.
func (s *Service) Projector() *TableProjector {
	return s.projector
}

// Canceller exposes the cancellation workflow so its refund settlement loop
// can join the service lifecycle.
func (s *Service) Canceller() *Canceller {
	return s.canceller
}

// OrderView is an order with everything a client needs to render it.
type OrderView struct {
	Order   *Order       `json:"order"`
	Items   []*OrderItem `json:"items"`
	Payment *Payment     `json:"payment,omitempty"`
	ETA     int          `json:"eta_minutes"`
	Next    []string     `json:"next_statuses"`
}

func (v *OrderView) GetID() uuid.UUID {
	return v.Order.ID
}

func (v *OrderView) ResourceType() string {
	return "order"
}

type PlaceOrderItem struct {
	MenuItemID uuid.UUID `json:"menu_item_id"`
	Quantity   int       `json:"quantity"`
	Modifiers  []string  `json:"modifiers,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

type PlaceOrderRequest struct {
	TableID      uuid.UUID        `json:"table_id"`
	RestaurantID string           `json:"restaurant_id,omitempty"`
	Items        []PlaceOrderItem `json:"items"`
	CustomerName string           `json:"customer_name,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	// PaymentMethod is card or cash. Card orders carry the reference of an
	// already captured charge.
	PaymentMethod      string `json:"payment_method"`
	ExternalPaymentRef string `json:"external_payment_ref,omitempty"`
	TaxRate            string `json:"tax_rate,omitempty"`
	Tip                string `json:"tip,omitempty"`
	Actor              string `json:"-"`
}

func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderView, error) {
	method, err := validatePlaceOrder(req)
	if err != nil {
		return nil, err
	}
	if s.menu == nil {
		return nil, fmt.Errorf("menu catalog not configured")
	}

	o := NewOrder()
	o.TableID = req.TableID
	o.RestaurantID = req.RestaurantID
	o.CustomerName = strings.TrimSpace(req.CustomerName)
	o.Notes = strings.TrimSpace(req.Notes)
	o.CreatedBy = req.Actor
	o.UpdatedBy = req.Actor
	if method == paymentmethod.Methods.Card {
		o.ExternalPaymentRef = req.ExternalPaymentRef
	}

	items := make([]*OrderItem, 0, len(req.Items))
	subtotal := NewMoney(decimal.Zero)
	for _, line := range req.Items {
		menuItem, err := s.menu.Resolve(ctx, line.MenuItemID)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve menu item %s: %w", line.MenuItemID, err)
		}
		item := NewOrderItem(o.ID)
		item.MenuItemID = menuItem.ID
		item.DishName = menuItem.Name
		item.Price = menuItem.Price
		item.PreparationTime = menuItem.PreparationTime
		item.Quantity = line.Quantity
		item.Modifiers = line.Modifiers
		item.Notes = line.Notes
		item.CreatedBy = req.Actor
		subtotal = subtotal.Plus(item.LineTotal())
		items = append(items, item)
	}

	taxRate, tip, err := parseCharges(req.TaxRate, req.Tip)
	if err != nil {
		return nil, err
	}
	o.Subtotal = subtotal
	o.Tax = NewMoney(subtotal.Decimal.Mul(taxRate).Round(2))
	o.Tip = NewMoney(tip)
	o.Total = o.Subtotal.Plus(o.Tax).Plus(o.Tip)
	o.BeforeCreate()

	if err := s.repos.OrderRepo.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("cannot create order: %w", err)
	}
	for _, item := range items {
		item.BeforeCreate()
		if err := s.repos.OrderItemRepo.Create(ctx, item); err != nil {
			return nil, fmt.Errorf("cannot create order item: %w", err)
		}
	}

	p := NewPayment(o.ID, method)
	p.Amount = o.Total
	p.UpdatedBy = req.Actor
	if method == paymentmethod.Methods.Card {
		// Card capture happens before the order reaches the kitchen.
		now := time.Now()
		p.Status = paymentstatus.Statuses.Completed.Code()
		p.SettledAt = &now
	}
	p.BeforeCreate()
	if err := s.repos.PaymentRepo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("cannot create payment: %w", err)
	}

	s.emitter.OrderCreated(ctx, o)
	for _, item := range items {
		s.emitter.ItemCreated(ctx, item)
	}
	s.emitter.PaymentCreated(ctx, p)
	s.projector.Project(ctx, o.TableID)

	s.logger.Info("order placed", "order_id", o.ID.String(), "table_id", o.TableID.String(), "items", len(items), "method", method.Code())

	return s.view(o, items, p), nil
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*OrderView, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repos.OrderItemRepo.ListByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cannot list order items: %w", err)
	}
	p, err := s.repos.PaymentRepo.GetByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cannot load payment: %w", err)
	}
	return s.view(o, items, p), nil
}

// ETA returns the promised ready time of an order in minutes.
func (s *Service) ETA(ctx context.Context, id uuid.UUID) (int, error) {
	if _, err := s.load(ctx, id); err != nil {
		return 0, err
	}
	items, err := s.repos.OrderItemRepo.ListByOrder(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("cannot list order items: %w", err)
	}
	return EstimateItems(items), nil
}

// TableOccupancy computes occupancy from the orders rather than the stored
// projection, so it is correct even while a repair is pending.
func (s *Service) TableOccupancy(ctx context.Context, tableID uuid.UUID) (string, int, error) {
	return s.projector.Occupancy(ctx, tableID)
}

// DefaultStatusReason is logged for cancellations that arrive as a plain
// status update without a reason.
const DefaultStatusReason = "status update"

// Transition moves an order to target. Cancellation is routed to the
// cancellation workflow with reason, or DefaultStatusReason when empty.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target, actor, reason string) (*Order, error) {
	if target == cancelled {
		if reason == "" {
			reason = DefaultStatusReason
		}
		res, err := s.Cancel(ctx, CancelRequest{OrderID: id, Reason: reason, Actor: actor})
		if res == nil {
			return nil, err
		}
		return res.Order, err
	}

	var out *Order
	err := s.retry(ctx, func() error {
		o, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		out, err = s.machine.Transition(ctx, o, target, actor)
		return err
	})
	return out, err
}

func (s *Service) Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	var out *CancelResult
	err := s.retry(ctx, func() error {
		var err error
		out, err = s.canceller.Cancel(ctx, req)
		return err
	})
	return out, err
}

// CompletePayment marks a pending payment paid. A served order completes with
// it. The order lock is held across the payment write so a cancellation in
// this process cannot slip between the order check and the write.
func (s *Service) CompletePayment(ctx context.Context, orderID uuid.UUID, actor string) (*OrderView, error) {
	err := s.retry(ctx, func() error {
		release, err := s.machine.locks.acquire(ctx, orderID)
		if err != nil {
			return fmt.Errorf("cannot lock order: %w", err)
		}
		defer release()

		o, err := s.load(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == cancelled {
			return fmt.Errorf("%w: order %s", ErrAlreadyCancelled, orderID)
		}
		p, err := s.repos.PaymentRepo.GetByOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("cannot load payment: %w", err)
		}
		if p == nil {
			return fmt.Errorf("%w: order %s has no payment", ErrInvalidOrder, orderID)
		}

		if !p.IsPaid() {
			from := p.Status
			if from != paymentstatus.Statuses.Pending.Code() {
				return fmt.Errorf("%w: payment is %s", ErrInvalidTransition, from)
			}
			to := paymentstatus.Statuses.Completed.Code()
			ok, err := s.repos.PaymentRepo.UpdateStatus(ctx, p.ID, from, to, "", actor)
			if err != nil {
				return fmt.Errorf("cannot update payment status: %w", err)
			}
			if !ok {
				return fmt.Errorf("%w: payment %s is no longer %s", ErrConcurrentModification, p.ID, from)
			}
			now := time.Now()
			p.Status = to
			p.SettledAt = &now
			p.UpdatedAt = now
			p.UpdatedBy = actor
			s.emitter.PaymentChanged(ctx, p, from)
		}

		return s.machine.settle(ctx, o, p, actor)
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, orderID)
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repos.OrderRepo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cannot load order: %w", err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return o, nil
}

func (s *Service) view(o *Order, items []*OrderItem, p *Payment) *OrderView {
	if items == nil {
		items = []*OrderItem{}
	}
	return &OrderView{
		Order:   o,
		Items:   items,
		Payment: p,
		ETA:     EstimateItems(items),
		Next:    NextStatuses(o.Status),
	}
}

func (s *Service) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.retries; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		s.logger.Debug("retrying after concurrent modification", "attempt", attempt, "error", err)
		if attempt == s.retries {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	return err
}

func validatePlaceOrder(req PlaceOrderRequest) (paymentmethod.Method, error) {
	if req.TableID == uuid.Nil {
		return paymentmethod.Method{}, fmt.Errorf("%w: table_id is required", ErrInvalidOrder)
	}
	if len(req.Items) == 0 {
		return paymentmethod.Method{}, fmt.Errorf("%w: at least one item is required", ErrInvalidOrder)
	}
	for i, item := range req.Items {
		if item.MenuItemID == uuid.Nil {
			return paymentmethod.Method{}, fmt.Errorf("%w: item %d has no menu_item_id", ErrInvalidOrder, i)
		}
		if item.Quantity < 1 {
			return paymentmethod.Method{}, fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidOrder, i)
		}
	}

	method := paymentmethod.ByName(req.PaymentMethod)
	if method == nil {
		return paymentmethod.Method{}, fmt.Errorf("%w: unknown payment method %q", ErrInvalidOrder, req.PaymentMethod)
	}
	if *method == paymentmethod.Methods.Card && req.ExternalPaymentRef == "" {
		return paymentmethod.Method{}, fmt.Errorf("%w: card orders need external_payment_ref", ErrInvalidOrder)
	}
	return *method, nil
}

func parseCharges(taxRate, tip string) (decimal.Decimal, decimal.Decimal, error) {
	rate := decimal.Zero
	if taxRate != "" {
		r, err := decimal.NewFromString(taxRate)
		if err != nil || r.IsNegative() {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w: invalid tax_rate %q", ErrInvalidOrder, taxRate)
		}
		rate = r
	}
	amount := decimal.Zero
	if tip != "" {
		t, err := decimal.NewFromString(tip)
		if err != nil || t.IsNegative() {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w: invalid tip %q", ErrInvalidOrder, tip)
		}
		amount = t
	}
	return rate, amount, nil
}
