package paymentmethod

type Method struct {
	Name string
}

func (m Method) Code() string {
	return m.Name
}

type Enum struct {
	Card Method
	Cash Method
}

var Methods = Enum{
	Card: Method{Name: "card"},
	Cash: Method{Name: "cash"},
}

var All = []Method{
	Methods.Card,
	Methods.Cash,
}

// ByName returns the method for a given name, or nil if not found
func ByName(name string) *Method {
	for _, m := range All {
		if m.Name == name {
			return &m
		}
	}
	return nil
}
