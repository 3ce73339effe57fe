// Package module composes pipeline modules and resolves their ports by name
package module

import "reflect"

// Module is the surface the composition root sees
type Module interface {
	Ports() any
	Name() string
}

// PortsOf returns the first value in m's port bundle that satisfies T.
// The bundle itself is tried before its exported struct fields
func PortsOf[T any](m Module) (T, bool) {
	var zero T
	p := m.Ports()
	if p == nil {
		return zero, false
	}
	if v, ok := p.(T); ok {
		return v, true
	}
	rv := reflect.ValueOf(p)
	if rv.Kind() != reflect.Struct {
		return zero, false
	}
	for i := range rv.NumField() {
		f := rv.Field(i)
		if !f.CanInterface() || isNilField(f) {
			continue
		}
		if v, ok := f.Interface().(T); ok {
			return v, true
		}
	}
	return zero, false
}

func isNilField(f reflect.Value) bool {
	switch f.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return f.IsNil()
	}
	return false
}
