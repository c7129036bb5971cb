package tablestatus

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

type Enum struct {
	Available Status
	Occupied  Status
}

var Statuses = Enum{
	Available: Status{Name: "available"},
	Occupied:  Status{Name: "occupied"},
}
