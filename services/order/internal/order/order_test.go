package order

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewOrder(t *testing.T) {
	order := NewOrder()

	if order == nil {
		t.Fatal("NewOrder() returned nil")
	}

	if order.ID == uuid.Nil {
		t.Error("NewOrder() should generate a non-nil UUID")
	}

	if order.Status != "pending" {
		t.Errorf("NewOrder() Status = %q, want %q", order.Status, "pending")
	}

	if !strings.HasPrefix(order.Number, "#") || len(order.Number) != 7 {
		t.Errorf("NewOrder() Number = %q, want #XXXXXX", order.Number)
	}
}

func TestOrderGetID(t *testing.T) {
	tests := []struct {
		name  string
		order *Order
		want  uuid.UUID
	}{
		{
			name:  "returnsCorrectID",
			order: &Order{ID: uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")},
			want:  uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		},
		{
			name:  "returnsNilUUIDWhenNotSet",
			order: &Order{},
			want:  uuid.Nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.order.GetID(); got != tt.want {
				t.Errorf("Order.GetID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrderResourceType(t *testing.T) {
	order := &Order{}
	if got := order.ResourceType(); got != "order" {
		t.Errorf("Order.ResourceType() = %q, want %q", got, "order")
	}
}

func TestOrderEnsureID(t *testing.T) {
	tests := []struct {
		name       string
		order      *Order
		keepsValue bool
	}{
		{
			name:  "generatesWhenMissing",
			order: &Order{},
		},
		{
			name:       "keepsExistingID",
			order:      &Order{ID: uuid.MustParse("550e8400-e29b-41d4-a716-446655440002")},
			keepsValue: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.order.ID
			tt.order.EnsureID()

			if tt.order.ID == uuid.Nil {
				t.Fatal("EnsureID() left a nil ID")
			}
			if tt.keepsValue && tt.order.ID != before {
				t.Errorf("EnsureID() changed ID from %v to %v", before, tt.order.ID)
			}
			if tt.order.Number != NumberFor(tt.order.ID) {
				t.Errorf("EnsureID() Number = %q, want %q", tt.order.Number, NumberFor(tt.order.ID))
			}
		})
	}
}

func TestOrderBeforeCreate(t *testing.T) {
	order := &Order{}
	order.BeforeCreate()

	if order.ID == uuid.Nil {
		t.Error("BeforeCreate() should ensure an ID")
	}
	if order.CreatedAt.IsZero() || order.UpdatedAt.IsZero() {
		t.Error("BeforeCreate() should set timestamps")
	}
}

func TestOrderIsCard(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		want bool
	}{
		{name: "cardWithReference", ref: "ch_123", want: true},
		{name: "cashWithoutReference", ref: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &Order{ExternalPaymentRef: tt.ref}
			if got := order.IsCard(); got != tt.want {
				t.Errorf("Order.IsCard() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrderIsActive(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{status: "pending", want: true},
		{status: "preparing", want: true},
		{status: "ready", want: true},
		{status: "served", want: true},
		{status: "completed", want: false},
		{status: "cancelled", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			order := &Order{Status: tt.status}
			if got := order.IsActive(); got != tt.want {
				t.Errorf("Order{Status: %q}.IsActive() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}
