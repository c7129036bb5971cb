package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/appetiteclub/orderflow/pkg/enums/paymentstatus"
	"github.com/appetiteclub/orderflow/services/order/internal/order"
)

type PaymentRepo struct {
	collection *mongo.Collection
}

func NewPaymentRepo(db *mongo.Database) *PaymentRepo {
	return &PaymentRepo{
		collection: db.Collection(paymentsCollection),
	}
}

func (r *PaymentRepo) Create(ctx context.Context, p *order.Payment) error {
	if p == nil {
		return fmt.Errorf("payment is nil")
	}

	if _, err := r.collection.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("cannot create payment: %w", err)
	}

	return nil
}

func (r *PaymentRepo) GetByOrder(ctx context.Context, orderID uuid.UUID) (*order.Payment, error) {
	var p order.Payment
	err := r.collection.FindOne(ctx, bson.M{"order_id": orderID}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get payment: %w", err)
	}
	return &p, nil
}

func (r *PaymentRepo) ListByStatus(ctx context.Context, status string) ([]*order.Payment, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"status": status})
	if err != nil {
		return nil, fmt.Errorf("cannot list payments by status: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*order.Payment
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode payments: %w", err)
	}
	return result, nil
}

// UpdateStatus is a compare-and-swap on status. Moving to completed or
// refunded stamps settled_at; a non-empty refundRef is stored with the change.
func (r *PaymentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to, refundRef, actor string) (bool, error) {
	now := time.Now().UTC()
	set := bson.M{
		"status":     to,
		"updated_at": now,
		"updated_by": actor,
	}
	if refundRef != "" {
		set["refund_ref"] = refundRef
	}
	if to == paymentstatus.Statuses.Completed.Code() || to == paymentstatus.Statuses.Refunded.Code() {
		set["settled_at"] = now
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id, "status": from}, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("cannot update payment status: %w", err)
	}

	return result.MatchedCount == 1, nil
}
