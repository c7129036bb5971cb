package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentmethod"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentstatus"
	"github.com/google/uuid"
)

const (
	DefaultRefundTimeout  = 10 * time.Second
	defaultSettleAttempts = 5
	defaultSettleBackoff  = 200 * time.Millisecond
)

var errCompletedAfterRefund = errors.New("order completed while its refund was in flight")

type CancelRequest struct {
	OrderID uuid.UUID
	Reason  string
	Actor   string
	// RefundTimeout bounds the gateway call. Zero uses the configured default.
	RefundTimeout time.Duration
}

type CancelResult struct {
	Order     *Order   `json:"order"`
	Payment   *Payment `json:"payment,omitempty"`
	Decision  Decision `json:"decision"`
	RefundRef string   `json:"refund_ref,omitempty"`
}

// Canceller runs the cancellation workflow. A paid order is never marked
// cancelled before its refund has succeeded.
type Canceller struct {
	orders    OrderRepo
	payments  PaymentRepo
	machine   *Machine
	gateway   PaymentGateway
	projector *TableProjector
	emitter   *Emitter
	logger    apt.Logger
	locks     *keyedLock

	refundTimeout  time.Duration
	settleAttempts int
	settleBackoff  time.Duration
	interval       time.Duration

	mu        sync.Mutex
	unsettled map[uuid.UUID]unsettledRefund

	stop chan struct{}
	done chan struct{}
}

func NewCanceller(orders OrderRepo, payments PaymentRepo, machine *Machine, gateway PaymentGateway, projector *TableProjector, emitter *Emitter, refundTimeout, repairInterval time.Duration, logger apt.Logger) *Canceller {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if refundTimeout <= 0 {
		refundTimeout = DefaultRefundTimeout
	}
	if repairInterval <= 0 {
		repairInterval = DefaultRepairInterval
	}
	locks := newKeyedLock()
	if machine != nil {
		locks = machine.locks
	}
	return &Canceller{
		orders:         orders,
		payments:       payments,
		machine:        machine,
		gateway:        gateway,
		projector:      projector,
		emitter:        emitter,
		logger:         logger.With("component", "canceller"),
		locks:          locks,
		refundTimeout:  refundTimeout,
		settleAttempts: defaultSettleAttempts,
		settleBackoff:  defaultSettleBackoff,
		interval:       repairInterval,
		unsettled:      make(map[uuid.UUID]unsettledRefund),
	}
}

func (c *Canceller) Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	release, err := c.locks.acquire(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("cannot lock order: %w", err)
	}
	defer release()

	actor := req.Actor
	if actor == "" {
		actor = SystemActor
	}

	o, err := c.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("cannot load order: %w", err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, req.OrderID)
	}
	if err := checkTerminal(o); err != nil {
		return &CancelResult{Order: o}, err
	}

	p, err := c.payments.GetByOrder(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("cannot load payment: %w", err)
	}

	decision := Reconcile(o, p, IntentCancel)
	result := &CancelResult{Order: o, Payment: p, Decision: decision}
	log := c.logger.With("order_id", o.ID.String(), "status", o.Status, "decision", decision.Action.String())

	if decision.Action != RequireRefund {
		// The payment is closed first. If it was paid in the meantime the
		// caller retries and the reconciler asks for a refund instead.
		from, err := c.voidPayment(ctx, p, actor)
		if err != nil {
			return result, err
		}
		if err := c.machine.apply(ctx, o, cancelled, actor, false); err != nil {
			if from != "" {
				c.restorePayment(ctx, p, from, actor)
			}
			return result, err
		}
		if from != "" {
			c.emitter.PaymentChanged(ctx, p, from)
		}
		log.Info("order cancelled", "reason", req.Reason)
		return result, nil
	}

	refundRef, err := c.refund(ctx, o, decision, req)
	if err != nil {
		log.Error("refund failed, order left unchanged", "error", err)
		return result, err
	}
	result.RefundRef = refundRef

	if err := c.settle(ctx, o, p, refundRef, actor, c.settleAttempts); err != nil {
		if errors.Is(err, errCompletedAfterRefund) {
			log.Error("refund issued for an order that completed meanwhile, repair by hand", "error", err, "refund_ref", refundRef)
			return result, err
		}
		c.queue(o.ID, refundRef, actor)
		log.Error("refund issued but cancellation incomplete, queued for repair", "error", err, "refund_ref", refundRef)
		return result, err
	}

	log.Info("order cancelled and refunded", "method", decision.Method, "refund_ref", refundRef, "reason", req.Reason)
	return result, nil
}

func (c *Canceller) refund(ctx context.Context, o *Order, decision Decision, req CancelRequest) (string, error) {
	if decision.Method == paymentmethod.Methods.Cash.Code() {
		// Staff hand the cash back; only the bookkeeping happens here.
		return "cash-refund-" + apt.GenerateNewID().String(), nil
	}

	if c.gateway == nil {
		return "", fmt.Errorf("%w: payment gateway not configured", ErrRefundFailed)
	}

	timeout := req.RefundTimeout
	if timeout <= 0 {
		timeout = c.refundTimeout
	}
	refundCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		ref string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		ref, err := c.gateway.Refund(refundCtx, RefundRequest{
			PaymentRef:     o.ExternalPaymentRef,
			Reason:         req.Reason,
			IdempotencyKey: "refund-" + o.ID.String(),
		})
		done <- outcome{ref: ref, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("%w: %v", ErrRefundFailed, res.err)
		}
		if res.ref == "" {
			return "", fmt.Errorf("%w: gateway returned no refund reference", ErrRefundFailed)
		}
		return res.ref, nil
	case <-refundCtx.Done():
		select {
		case res := <-done:
			if res.err == nil && res.ref != "" {
				return res.ref, nil
			}
		default:
		}
		return "", fmt.Errorf("%w: %v", ErrRefundFailed, refundCtx.Err())
	}
}

// settle writes the cancellation after a successful refund. Money has already
// moved, so the writes are retried instead of rolled back, and the caller's
// cancellation no longer applies. The payment goes first so storage records
// the refund even while the order write is still pending. A completed order
// is never left; it is reported with errCompletedAfterRefund.
func (c *Canceller) settle(ctx context.Context, o *Order, p *Payment, refundRef, actor string, attempts int) error {
	ctx = context.WithoutCancel(ctx)

	refunded := paymentstatus.Statuses.Refunded.Code()
	orderFrom, paymentFrom := o.Status, ""
	orderDone := o.Status == cancelled
	stuck := o.Status == completed
	paymentDone := p == nil || p.Status == refunded
	var orderWritten, paymentWritten bool
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if !paymentDone {
			expected := p.Status
			ok, err := c.payments.UpdateStatus(ctx, p.ID, expected, refunded, refundRef, actor)
			switch {
			case err != nil:
				lastErr = err
			case ok:
				paymentDone, paymentWritten = true, true
				paymentFrom = expected
			default:
				fresh, err := c.payments.GetByOrder(ctx, o.ID)
				if err != nil {
					lastErr = err
				} else if fresh != nil {
					if fresh.Status == refunded {
						paymentDone = true
					}
					p.Status = fresh.Status
				}
			}
		}

		if !orderDone && !stuck {
			expected := o.Status
			ok, err := c.orders.UpdateStatus(ctx, o.ID, expected, cancelled, actor)
			switch {
			case err != nil:
				lastErr = err
			case ok:
				orderDone, orderWritten = true, true
				orderFrom = expected
			default:
				fresh, err := c.orders.Get(ctx, o.ID)
				if err != nil {
					lastErr = err
				} else if fresh != nil {
					switch fresh.Status {
					case cancelled:
						orderDone = true
					case completed:
						stuck = true
					}
					o.Status = fresh.Status
				}
			}
		}

		if paymentDone && (orderDone || stuck) {
			break
		}
		if attempt < attempts {
			time.Sleep(c.settleBackoff * time.Duration(attempt))
		}
	}

	now := time.Now()
	if orderWritten {
		o.Status = cancelled
		o.UpdatedAt = now
		o.UpdatedBy = actor
		c.emitter.OrderTransitioned(ctx, o, orderFrom, actor, false)
	}
	if paymentWritten {
		p.Status = refunded
		p.RefundRef = refundRef
		p.UpdatedAt = now
		p.UpdatedBy = actor
		p.SettledAt = &now
		c.emitter.PaymentChanged(ctx, p, paymentFrom)
	}
	if c.projector != nil {
		c.projector.Project(ctx, o.TableID)
	}

	if stuck {
		return fmt.Errorf("%w: order %s: %w", ErrRefundUnsettled, o.ID, errCompletedAfterRefund)
	}
	if !orderDone || !paymentDone {
		if lastErr == nil {
			lastErr = errors.New("compare-and-swap kept losing")
		}
		return fmt.Errorf("%w: order %s: %v", ErrRefundUnsettled, o.ID, lastErr)
	}
	return nil
}

// voidPayment closes the pending payment of an order about to be cancelled
// without refund and returns the status it left. It returns no status when
// nothing was pending.
func (c *Canceller) voidPayment(ctx context.Context, p *Payment, actor string) (string, error) {
	if p == nil || p.Status != paymentstatus.Statuses.Pending.Code() {
		return "", nil
	}
	from := p.Status
	to := paymentstatus.Statuses.Cancelled.Code()
	ok, err := c.payments.UpdateStatus(ctx, p.ID, from, to, "", actor)
	if err != nil {
		return "", fmt.Errorf("cannot cancel pending payment: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: payment %s is no longer %s", ErrConcurrentModification, p.ID, from)
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	p.UpdatedBy = actor
	return from, nil
}

// restorePayment reopens a payment voided for an order write that then lost.
func (c *Canceller) restorePayment(ctx context.Context, p *Payment, to, actor string) {
	from := p.Status
	ok, err := c.payments.UpdateStatus(context.WithoutCancel(ctx), p.ID, from, to, "", actor)
	if err != nil || !ok {
		c.logger.Error("cannot reopen payment after lost cancellation", "error", err, "payment_id", p.ID.String(), "order_id", p.OrderID.String())
		return
	}
	p.Status = to
}
