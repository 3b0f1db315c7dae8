package dao

// Parameter is a single named filter applied by Service.List, e.g.
// {Name: "State", Value: "running"} to list only running processes.
type Parameter struct {
	Name  string
	Value interface{}
}

// NewParameter builds a Parameter, collapsing a single value to a scalar
// and multiple values to a slice.
func NewParameter(name string, values ...string) *Parameter {
	if len(values) == 1 {
		return &Parameter{Name: name, Value: values[0]}
	}
	return &Parameter{Name: name, Value: values}
}
