package realtime

// MatchField keeps changes whose record field key equals value.
func MatchField(key, value string) Predicate {
	return func(evt Event) bool {
		got, ok := evt.Change.Field(key)
		return ok && got == value
	}
}

// MatchOrder keeps changes about a single order. Order rows match on id,
// item and payment rows on order_id.
func MatchOrder(orderID string) Predicate {
	return func(evt Event) bool {
		if evt.Change.Transition != nil && evt.Change.Transition.OrderID == orderID {
			return true
		}
		if id, ok := evt.Change.Field("order_id"); ok {
			return id == orderID
		}
		id, ok := evt.Change.Field("id")
		return ok && id == orderID
	}
}

// All combines predicates; nil entries are ignored.
func All(predicates ...Predicate) Predicate {
	return func(evt Event) bool {
		for _, p := range predicates {
			if p != nil && !p(evt) {
				return false
			}
		}
		return true
	}
}
