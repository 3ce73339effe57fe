// Package pg provides a Postgres client using pgxpool with optional query tracing
package pg

import (
	"context"
	"errors"
	"time"

	perr "cardbatch/internal/platform/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config configures pgxpool for pg
type Config struct {
	URL      string
	MaxConns int32
	SlowMs   int
}

// PG is a postgres client with pool and optional tracer
type PG struct {
	Pool   *pgxpool.Pool
	Tracer QueryTracer
	SlowMs int
}

var newPool = pgxpool.NewWithConfig

// Open creates a new PG client with the given config, optional tracer, and optional pool config mutator
func Open(ctx context.Context, cfg Config, tracer QueryTracer, poolCfgMut func(*pgxpool.Config)) (*PG, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeConfiguration, "parse registry database url")
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if poolCfgMut != nil {
		poolCfgMut(pcfg)
	}
	pool, err := newPool(ctx, pcfg)
	if err != nil {
		return nil, perr.FromPostgres(err, "open registry pool")
	}
	return &PG{
		Pool:   pool,
		Tracer: tracer,
		SlowMs: cfg.SlowMs,
	}, nil
}

// Close closes the pool
func (p *PG) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}

// Ping runs a trivial query against the pool
func (p *PG) Ping(ctx context.Context) error {
	var one int
	return p.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// Querier is the subset of pgx shared by pools, conns and transactions
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Exec runs sql on the pool and traces it
func (p *PG) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return traced{q: p.Pool, p: p}.Exec(ctx, sql, args...)
}

// Query runs sql on the pool and traces it
func (p *PG) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return traced{q: p.Pool, p: p}.Query(ctx, sql, args...)
}

// QueryRow runs sql on the pool; the trace is emitted after Scan
func (p *PG) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return traced{q: p.Pool, p: p}.QueryRow(ctx, sql, args...)
}

// Tx runs fn inside a transaction, committing on nil and rolling back otherwise
// Queries issued through the passed Querier are traced like pool queries
func (p *PG) Tx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return perr.FromPostgres(err, "begin tx")
	}
	if err := fn(traced{q: tx, p: p}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return perr.FromPostgres(err, "commit tx")
	}
	return nil
}

// TryAdvisoryLock takes a session-level advisory lock on a dedicated connection
// ok=false means another session holds the key; release must be called when ok is true
func (p *PG) TryAdvisoryLock(ctx context.Context, key int64) (release func(), ok bool, err error) {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, false, perr.FromPostgres(err, "acquire lock conn")
	}
	q := traced{q: conn, p: p}
	if err := q.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, perr.FromPostgres(err, "try advisory lock")
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return func() {
		// unlock on a fresh context so a cancelled caller still frees the key
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var unlocked bool
		_ = q.QueryRow(uctx, "SELECT pg_advisory_unlock($1)", key).Scan(&unlocked)
		conn.Release()
	}, true, nil
}

// traced wraps a Querier and emits query events to the PG tracer
type traced struct {
	q Querier
	p *PG
}

func (t traced) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	start := time.Now()
	ct, err := t.q.Exec(ctx, sql, args...)
	t.emit(ctx, sql, args, start, err)
	return ct, err
}

func (t traced) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	start := time.Now()
	rs, err := t.q.Query(ctx, sql, args...)
	t.emit(ctx, sql, args, start, err)
	return rs, err
}

func (t traced) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	start := time.Now()
	return row{
		r: t.q.QueryRow(ctx, sql, args...),
		after: func(scanErr error) {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				scanErr = nil
			}
			t.emit(ctx, sql, args, start, scanErr)
		},
	}
}

func (t traced) emit(ctx context.Context, sql string, args []any, start time.Time, err error) {
	if t.p == nil || t.p.Tracer == nil {
		return
	}
	elapsedUS := time.Since(start).Microseconds()
	t.p.Tracer.OnQuery(ctx, QueryEvent{
		SQL:       sql,
		Args:      args,
		ElapsedUS: elapsedUS,
		Err:       err,
		Slow:      t.p.SlowMs >= 0 && elapsedUS >= int64(t.p.SlowMs)*1000,
	})
}

type row struct {
	r     pgx.Row
	after func(error)
}

func (x row) Scan(dst ...any) error {
	err := x.r.Scan(dst...)
	if x.after != nil {
		x.after(err)
	}
	return err
}
