package modkit

// Built is a plain struct with the fields modules care about
type Built struct {
	Name  string
	Ports []any
}

// Build applies Option funcs to an internal buildCfg and returns a plain struct
func Build(opts ...Option) Built {
	var c buildCfg
	for _, o := range opts {
		if o != nil {
			o(&c)
		}
	}
	return Built{
		Name:  c.name,
		Ports: append([]any(nil), c.ports...),
	}
}

// PortOf returns the first injected value of type T
func PortOf[T any](b Built) (T, bool) {
	for _, p := range b.Ports {
		if v, ok := p.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}
