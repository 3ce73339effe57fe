package modkit

import (
	"testing"

	"cardbatch/internal/platform/config"
)

// stub module that satisfies Module
type stub struct{ ports any }

func (s *stub) Ports() any   { return s.ports }
func (s *stub) Name() string { return "stub" }

var _ Module = (*stub)(nil)

func TestBuilder_TypeSignatureAndUse(t *testing.T) {
	t.Parallel()

	var b Builder = func(_ Deps, opts ...Option) Module {
		built := Build(opts...)
		return &stub{ports: built.Name}
	}
	m := b(Deps{}, WithName("ok"))
	if m == nil {
		t.Fatal("builder returned nil module")
	}
	if p := m.Ports(); p != "ok" {
		t.Fatalf("ports = %v, want ok", p)
	}
}

func TestDeps_ZeroOK(t *testing.T) {
	t.Parallel()
	var d Deps
	if !d.ZeroOK() {
		t.Fatal("zero-value Deps should be safe in tests")
	}
	d = Deps{Cfg: config.New()}
	if !d.ZeroOK() || d.PG != nil || d.Google != nil {
		t.Fatal("optional deps must stay nil unless wired")
	}
}

func TestBuild_DefaultsAndOptions(t *testing.T) {
	t.Parallel()

	b := Build()
	if b.Name != "" || len(b.Ports) != 0 {
		t.Fatalf("defaults = %+v", b)
	}

	type caps struct{ Batch bool }
	b = Build(WithName("batch"), WithPorts(caps{Batch: true}), nil, WithPorts("extra"))
	if b.Name != "batch" || len(b.Ports) != 2 {
		t.Fatalf("built = %+v", b)
	}
	c, ok := PortOf[caps](b)
	if !ok || !c.Batch {
		t.Fatalf("PortOf caps = %+v %v", c, ok)
	}
	if s, ok := PortOf[string](b); !ok || s != "extra" {
		t.Fatalf("PortOf string = %q %v", s, ok)
	}
	if _, ok := PortOf[int](b); ok {
		t.Fatal("PortOf must miss absent types")
	}
}
