package paymentstatus

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

// IsTerminal reports whether the payment has settled one way or another.
func (s Status) IsTerminal() bool {
	return s != Statuses.Pending
}

type Enum struct {
	Pending   Status
	Completed Status
	Refunded  Status
	Cancelled Status
}

var Statuses = Enum{
	Pending:   Status{Name: "pending"},
	Completed: Status{Name: "completed"},
	Refunded:  Status{Name: "refunded"},
	Cancelled: Status{Name: "cancelled"},
}

var All = []Status{
	Statuses.Pending,
	Statuses.Completed,
	Statuses.Refunded,
	Statuses.Cancelled,
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}
