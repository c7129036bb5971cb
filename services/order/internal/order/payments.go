package order

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt"
)

type RefundRequest struct {
	PaymentRef string `json:"payment_ref"`
	Reason     string `json:"reason,omitempty"`
	// IdempotencyKey lets the gateway collapse duplicate refunds for one order.
	IdempotencyKey string `json:"idempotency_key"`
}

// PaymentGateway is the external payment collaborator. Refund returns the
// gateway's refund reference.
type PaymentGateway interface {
	Refund(ctx context.Context, req RefundRequest) (string, error)
}

type PaymentClient struct {
	client *apt.ServiceClient
}

func NewPaymentClient(client *apt.ServiceClient) *PaymentClient {
	return &PaymentClient{client: client}
}

func (c *PaymentClient) Refund(ctx context.Context, req RefundRequest) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("payment client not available")
	}
	if req.PaymentRef == "" {
		return "", fmt.Errorf("missing payment reference")
	}

	resp, err := c.client.Request(ctx, "POST", "/refunds", req)
	if err != nil {
		return "", err
	}

	var out struct {
		RefundRef string `json:"refund_ref"`
		ID        string `json:"id"`
	}
	if err := rehydrate(resp.Data, &out); err != nil {
		return "", fmt.Errorf("cannot decode refund response: %w", err)
	}
	if out.RefundRef != "" {
		return out.RefundRef, nil
	}
	if out.ID != "" {
		return out.ID, nil
	}
	return "", fmt.Errorf("refund response carries no reference")
}
