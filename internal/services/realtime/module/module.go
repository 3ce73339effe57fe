// Package module wires the realtime path from configuration
package module

import (
	"cardbatch/internal/adapters/deck"
	"cardbatch/internal/adapters/gcp"
	"cardbatch/internal/adapters/vertex"
	"cardbatch/internal/modkit"
	"cardbatch/internal/services/realtime/service"
)

// Ports defines the realtime module ports
type Ports struct {
	Runner service.RunnerPort
}

// Module implements the realtime module
type Module struct {
	name  string
	opts  Options
	gen   *vertex.Client
	ports Ports
}

// New constructs the realtime module from deps.Cfg
func New(deps modkit.Deps, opts ...modkit.Option) *Module {
	built := modkit.Build(opts...)
	o := FromConfig(deps.Cfg)

	gen := vertex.New(vertex.Options{
		Project:  o.Project,
		Location: o.Location,
		Model:    o.Model,
		// the service owns the retry budget; the SDK retries 429/5xx once
		Conn: gcp.Conn{Endpoint: o.VertexEndpoint, TokenSource: deps.Google, Timeout: o.Timeout, MaxRetries: 1},
	})

	svc := service.New(gen, deck.NewWriter(o.OutputDir), service.Config{
		Prompt:     o.Prompt,
		MaxRetries: o.MaxRetries,
		EmptyWait:  o.EmptyWait,
		ErrorWait:  o.ErrorWait,
		Workers:    o.Workers,
		Pace:       o.APIWait,
		DeckName:   o.DeckName,
	})

	m := &Module{name: "realtime", opts: o, gen: gen, ports: Ports{Runner: svc}}
	if built.Name != "" {
		m.name = built.Name
	}
	return m
}

// Options returns the resolved settings
func (m *Module) Options() Options { return m.opts }

// Close releases the Vertex clients
func (m *Module) Close() error { return m.gen.Close() }

// Name returns the module name
func (m *Module) Name() string { return m.name }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }
