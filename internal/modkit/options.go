package modkit

// Option mutates build configuration for a module
type Option func(*buildCfg)

// buildCfg is internal wiring state for options
type buildCfg struct {
	name  string
	ports []any
}

// WithName overrides the module name used in logs and the registry
func WithName(name string) Option {
	return func(c *buildCfg) { c.name = name }
}

// WithPorts injects values owned by another module or by main (capabilities, ports)
// repeated calls accumulate
func WithPorts[T any](p T) Option {
	return func(c *buildCfg) { c.ports = append(c.ports, p) }
}
