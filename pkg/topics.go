package pkg

const (
	// OrdersTopic delivers row-level changes for orders.
	OrdersTopic = "orders"
	// OrderItemsTopic delivers row-level changes for order line items.
	OrderItemsTopic = "order_items"
	// PaymentsTopic delivers row-level changes for payments.
	PaymentsTopic = "payments"
	// TablesTopic delivers table occupancy changes.
	TablesTopic = "tables"

	// PresenceTopicPrefix prefixes best-effort client presence broadcasts.
	PresenceTopicPrefix = "presence."
)

// ChangeTopics lists every topic the channel manager multiplexes.
func ChangeTopics() []string {
	return []string{OrdersTopic, OrderItemsTopic, PaymentsTopic, TablesTopic}
}

// IsChangeTopic reports whether topic is one of the multiplexed change topics.
func IsChangeTopic(topic string) bool {
	for _, t := range ChangeTopics() {
		if t == topic {
			return true
		}
	}
	return false
}
