package order

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyTerminal   = fmt.Errorf("%w: order is already terminal", ErrInvalidTransition)
	ErrAlreadyCancelled  = fmt.Errorf("%w: order is already cancelled", ErrInvalidTransition)

	// ErrConcurrentModification means a compare-and-swap lost against another writer.
	// Callers re-read and decide whether to retry.
	ErrConcurrentModification = errors.New("order was modified concurrently")

	// ErrRefundFailed leaves the order in its prior status.
	ErrRefundFailed = errors.New("refund failed")

	// ErrRefundUnsettled means money moved but the local cancellation writes did
	// not land within the retry budget.
	ErrRefundUnsettled = errors.New("refund issued but cancellation not persisted")

	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidOrder  = errors.New("invalid order")
)

// IsRetryable reports whether err is transient and worth retrying with fresh state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
