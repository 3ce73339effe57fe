// Package module wires the batch pipeline from configuration
package module

import (
	"context"
	"errors"

	"cardbatch/internal/adapters/deck"
	"cardbatch/internal/adapters/gcp"
	"cardbatch/internal/adapters/objectstore"
	"cardbatch/internal/adapters/vertex"
	"cardbatch/internal/modkit"
	"cardbatch/internal/services/batch/domain"
	"cardbatch/internal/services/batch/guardrails"
	"cardbatch/internal/services/batch/repo"
	"cardbatch/internal/services/batch/service"
)

// Ports defines the batch module ports
type Ports struct {
	Runner   domain.RunnerPort
	Registry domain.Registry
}

// Module implements the batch module
type Module struct {
	name  string
	deps  modkit.Deps
	opts  Options
	pg    *repo.PG
	store *objectstore.GCS
	jobs  *vertex.Client
	ports Ports
}

// New constructs the batch module from deps.Cfg.
// Capabilities are injected with modkit.WithPorts; absent means no batch and no CLI status
func New(deps modkit.Deps, opts ...modkit.Option) *Module {
	built := modkit.Build(opts...)
	caps, _ := modkit.PortOf[domain.Capabilities](built)
	o := FromConfig(deps.Cfg)

	store := objectstore.NewGCS(objectstore.Options{
		Project: o.Project,
		Conn:    gcp.Conn{Endpoint: o.StorageEndpoint, TokenSource: deps.Google, MaxRetries: o.APIRetries},
	})
	jobs := vertex.New(vertex.Options{
		Project:  o.Project,
		Location: o.Location,
		Model:    o.Model,
		Conn:     gcp.Conn{Endpoint: o.VertexEndpoint, TokenSource: deps.Google, MaxRetries: o.APIRetries},
	})

	m := &Module{name: "batch", deps: deps, opts: o, store: store, jobs: jobs}
	if built.Name != "" {
		m.name = built.Name
	}

	var reg domain.Registry
	if o.RegistryBackend == BackendPG {
		if deps.PG == nil {
			panic("batch module: REGISTRY_BACKEND=pg requires an open postgres pool")
		}
		m.pg = repo.NewPG(deps.PG)
		reg = m.pg
	} else {
		reg = repo.NewFile(o.RegistryFile)
	}

	var status domain.StatusReader
	if caps.CLIStatus {
		status = vertex.NewGCloud(o.Project, o.Location)
	}

	svc := service.New(store, jobs, status, reg, deck.NewWriter(o.OutputDir), caps, service.Config{
		Bucket:            o.Bucket,
		Location:          o.Location,
		Model:             o.Model,
		Prompt:            o.Prompt,
		SyncCreate:        o.SyncCreate,
		SettleDelay:       o.SettleDelay,
		ResolveAttempts:   o.ResolveAttempts,
		ResolveBackoff:    o.ResolveBackoff,
		WaitForCompletion: o.WaitForCompletion,
		PollInterval:      o.PollInterval,
		PollTimeout:       o.PollTimeout,
		UploadWorkers:     o.UploadWorkers,
		DeckName:          o.DeckName,
		Timeouts: guardrails.Timeouts{
			Upload: o.UploadTimeout,
			Submit: o.SubmitTimeout,
			Fetch:  o.FetchTimeout,
		},
	})

	m.ports = Ports{Runner: svc, Registry: reg}
	return m
}

// Start prepares storage that needs a context, i.e. the postgres registry table
func (m *Module) Start(ctx context.Context) error {
	if m.pg == nil {
		return nil
	}
	return m.pg.Migrate(ctx)
}

// Close releases the storage and Vertex clients
func (m *Module) Close() error { return errors.Join(m.store.Close(), m.jobs.Close()) }

// Options returns the resolved settings
func (m *Module) Options() Options { return m.opts }

// Name returns the module name
func (m *Module) Name() string { return m.name }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }
