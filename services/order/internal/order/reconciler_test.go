package order

import "testing"

func TestReconcile(t *testing.T) {
	card := &Order{Status: "ready", ExternalPaymentRef: "ch_1"}
	cash := &Order{Status: "ready"}
	servedCash := &Order{Status: "served"}
	paid := &Payment{Status: "completed", Method: "cash"}
	unpaid := &Payment{Status: "pending", Method: "cash"}

	tests := []struct {
		name    string
		order   *Order
		payment *Payment
		intent  Intent
		want    Decision
	}{
		{name: "servePaidCard", order: card, payment: paid, intent: IntentServe, want: Decision{Action: AutoComplete, Method: "card"}},
		{name: "serveUnpaidCard", order: card, payment: unpaid, intent: IntentServe, want: Decision{Action: NoAction}},
		{name: "servePaidCash", order: cash, payment: paid, intent: IntentServe, want: Decision{Action: NoAction}},
		{name: "serveWithoutPayment", order: card, payment: nil, intent: IntentServe, want: Decision{Action: NoAction}},
		{name: "cancelPaidCard", order: card, payment: paid, intent: IntentCancel, want: Decision{Action: RequireRefund, Method: "card"}},
		{name: "cancelPaidCash", order: cash, payment: paid, intent: IntentCancel, want: Decision{Action: RequireRefund, Method: "cash"}},
		{name: "cancelUnpaid", order: card, payment: unpaid, intent: IntentCancel, want: Decision{Action: NoAction}},
		{name: "cancelRefunded", order: cash, payment: &Payment{Status: "refunded"}, intent: IntentCancel, want: Decision{Action: NoAction}},
		{name: "settleServedCash", order: servedCash, payment: paid, intent: IntentSettle, want: Decision{Action: AutoComplete, Method: "cash"}},
		{name: "settleBeforeServing", order: cash, payment: paid, intent: IntentSettle, want: Decision{Action: NoAction}},
		{name: "nilOrder", order: nil, payment: paid, intent: IntentCancel, want: Decision{Action: NoAction}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reconcile(tt.order, tt.payment, tt.intent); got != tt.want {
				t.Errorf("Reconcile() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
