// Package modkit provides module wiring and core deps
package modkit

import (
	"cardbatch/internal/platform/config"
	"cardbatch/internal/platform/logger"
	"cardbatch/internal/platform/store/pg"

	"golang.org/x/oauth2"
)

// Deps holds core dependencies passed to modules
// this is wiring only and does not introduce new abstractions
type Deps struct {
	Log logger.Logger
	Cfg config.Conf

	// PG is set only when the registry backend is postgres
	PG *pg.PG

	// Google authorizes the storage and inference clients; nil sends unauthenticated requests
	Google oauth2.TokenSource
}

// ZeroOK returns true when deps are safe to use with zero values in tests
// consumers should still nil check for optional stores
func (d Deps) ZeroOK() bool { return true }
