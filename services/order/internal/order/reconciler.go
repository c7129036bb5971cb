package order

import (
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentmethod"
)

// Intent is what the caller is about to do to the order.
type Intent int

const (
	// IntentServe is an order entering served.
	IntentServe Intent = iota
	// IntentCancel is an order being cancelled from any status.
	IntentCancel
	// IntentSettle is a pending payment being marked completed.
	IntentSettle
)

type Action int

const (
	NoAction Action = iota
	AutoComplete
	RequireRefund
)

func (a Action) String() string {
	switch a {
	case AutoComplete:
		return "autoComplete"
	case RequireRefund:
		return "requireRefund"
	default:
		return "noAction"
	}
}

// Decision is the outcome of Reconcile. Method is set for RequireRefund.
type Decision struct {
	Action Action `json:"action"`
	Method string `json:"method,omitempty"`
}

// Reconcile classifies the payment-driven work the caller must perform.
// It never performs I/O.
func Reconcile(o *Order, p *Payment, intent Intent) Decision {
	if o == nil {
		return Decision{Action: NoAction}
	}

	switch intent {
	case IntentServe:
		// Card orders settle before preparation so served is their last milestone.
		// Cash orders wait for payment on delivery.
		if o.IsCard() && p.IsPaid() {
			return Decision{Action: AutoComplete, Method: paymentmethod.Methods.Card.Code()}
		}

	case IntentCancel:
		if p.IsPaid() {
			method := paymentmethod.Methods.Cash.Code()
			if o.IsCard() {
				method = paymentmethod.Methods.Card.Code()
			}
			return Decision{Action: RequireRefund, Method: method}
		}

	case IntentSettle:
		if o.Status == orderstatus.Statuses.Served.Code() && p.IsPaid() {
			return Decision{Action: AutoComplete, Method: p.Method}
		}
	}

	return Decision{Action: NoAction}
}
