package repo

import (
	"context"
	"hash/fnv"
	"time"

	perr "cardbatch/internal/platform/errors"
	pgstore "cardbatch/internal/platform/store/pg"
	"cardbatch/internal/services/batch/domain"
)

// Schema creates the registry table; seq preserves insertion order
const Schema = `
	CREATE TABLE IF NOT EXISTS batch_jobs (
		seq           BIGSERIAL PRIMARY KEY,
		job_id        TEXT NOT NULL UNIQUE,
		submitted_at  TIMESTAMPTZ NOT NULL,
		image_paths   TEXT[] NOT NULL DEFAULT '{}',
		status        TEXT NOT NULL,
		output_prefix TEXT NOT NULL DEFAULT ''
	)
`

// LockKey is the advisory lock key guarding registry passes
var LockKey = lockKey("cardbatch:batch_jobs")

func lockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

type (
	// PG is a Postgres backed domain.Registry
	PG      struct{ db *pgstore.PG }
	queries struct{ q pgstore.Querier }
)

var _ domain.Registry = (*PG)(nil)

// NewPG binds a registry to an open pool
func NewPG(db *pgstore.PG) *PG { return &PG{db: db} }

// Migrate creates the registry table when missing
func (r *PG) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, Schema)
	return perr.FromPostgres(err, "migrate batch_jobs")
}

// Append inserts one job; re-appending a known id refreshes its row
func (r *PG) Append(ctx context.Context, job domain.Job) error {
	return perr.FromPostgres(queries{q: r.db}.insert(ctx, job), "append batch job")
}

// ListPending returns every registered job in insertion order
func (r *PG) ListPending(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, `
		SELECT job_id, submitted_at, image_paths, status, output_prefix
		FROM batch_jobs
		ORDER BY seq
	`)
	if err != nil {
		return nil, perr.FromPostgres(err, "list batch jobs")
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		var (
			id, status, prefix string
			at                 time.Time
			paths              []string
		)
		if err := rows.Scan(&id, &at, &paths, &status, &prefix); err != nil {
			return nil, perr.FromPostgres(err, "scan batch job")
		}
		imgs := make([]domain.ImageRef, 0, len(paths))
		for _, p := range paths {
			imgs = append(imgs, domain.NewImageRef(p))
		}
		out = append(out, domain.Job{
			ID:           id,
			SubmittedAt:  at,
			OutputPrefix: prefix,
			Images:       imgs,
			Status:       domain.NormalizeStatus(status),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, perr.FromPostgres(err, "iterate batch jobs")
	}
	return out, nil
}

// Replace swaps the whole registry for jobs in one transaction
func (r *PG) Replace(ctx context.Context, jobs []domain.Job) error {
	return r.db.Tx(ctx, func(q pgstore.Querier) error {
		if _, err := q.Exec(ctx, `DELETE FROM batch_jobs`); err != nil {
			return perr.FromPostgres(err, "clear batch jobs")
		}
		w := queries{q: q}
		for _, j := range jobs {
			if err := w.insert(ctx, j); err != nil {
				return perr.FromPostgres(err, "reinsert batch job "+j.ID)
			}
		}
		return nil
	})
}

// WithLock runs fn while holding the registry advisory lock
func (r *PG) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	release, ok, err := r.db.TryAdvisoryLock(ctx, LockKey)
	if err != nil {
		return err
	}
	if !ok {
		return perr.Busyf("registry table batch_jobs is locked by another pass")
	}
	defer release()
	return fn(ctx)
}

func (w queries) insert(ctx context.Context, job domain.Job) error {
	paths := make([]string, 0, len(job.Images))
	for _, im := range job.Images {
		paths = append(paths, im.Path)
	}
	st := job.Status
	if st == "" {
		st = domain.StatusSubmitted
	}
	_, err := w.q.Exec(ctx, `
		INSERT INTO batch_jobs (job_id, submitted_at, image_paths, status, output_prefix)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status, output_prefix = EXCLUDED.output_prefix
	`, job.ID, job.SubmittedAt.UTC(), paths, string(st), job.OutputPrefix)
	return err
}
