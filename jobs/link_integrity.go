package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plumeworks/plume/internal/platform/db"
)

// LinkIntegrityJob sweeps the association tables for rows whose role or
// permission no longer exists. The foreign keys make such rows impossible
// through the API; the sweep guards against out-of-band writes and restores.
type LinkIntegrityJob struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
	clock  func() time.Time
}

// NewLinkIntegrityJob initialises the integrity sweep handler.
func NewLinkIntegrityJob(pool *pgxpool.Pool, logger *slog.Logger) *LinkIntegrityJob {
	return &LinkIntegrityJob{
		Pool:   pool,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep.
func (j *LinkIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("link integrity: handler not configured")
	}
	var payload LinkIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	logger := j.logger().With(slog.Bool("repair", payload.Repair))
	logger.Info("starting link integrity sweep")

	orphanGrants, orphanAssignments, err := j.count(ctx)
	if err != nil {
		logger.Error("sweep failed", slog.Any("error", err))
		return err
	}

	repaired := int64(0)
	if payload.Repair && (orphanGrants > 0 || orphanAssignments > 0) {
		repaired, err = j.repair(ctx)
		if err != nil {
			logger.Error("repair failed", slog.Any("error", err))
			return err
		}
	}

	logger.Info("link integrity sweep complete",
		slog.Int64("orphaned_grants", orphanGrants),
		slog.Int64("orphaned_assignments", orphanAssignments),
		slog.Int64("repaired", repaired),
		slog.Duration("elapsed", j.now().Sub(start)),
	)
	return nil
}

func (j *LinkIntegrityJob) count(ctx context.Context) (int64, int64, error) {
	var grants int64
	err := j.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM role_permissions rp
		WHERE NOT EXISTS (SELECT 1 FROM roles r WHERE r.id = rp.role_id)
		   OR NOT EXISTS (SELECT 1 FROM permissions p WHERE p.id = rp.permission_id)`).Scan(&grants)
	if err != nil {
		return 0, 0, err
	}

	var assignments int64
	err = j.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM user_roles ur
		WHERE NOT EXISTS (SELECT 1 FROM roles r WHERE r.id = ur.role_id)`).Scan(&assignments)
	if err != nil {
		return 0, 0, err
	}
	return grants, assignments, nil
}

func (j *LinkIntegrityJob) repair(ctx context.Context) (int64, error) {
	var repaired int64
	err := db.WithTx(ctx, j.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM role_permissions rp
			WHERE NOT EXISTS (SELECT 1 FROM roles r WHERE r.id = rp.role_id)
			   OR NOT EXISTS (SELECT 1 FROM permissions p WHERE p.id = rp.permission_id)`)
		if err != nil {
			return err
		}
		repaired += tag.RowsAffected()

		tag, err = tx.Exec(ctx, `
			DELETE FROM user_roles ur
			WHERE NOT EXISTS (SELECT 1 FROM roles r WHERE r.id = ur.role_id)`)
		if err != nil {
			return err
		}
		repaired += tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return repaired, nil
}

func (j *LinkIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *LinkIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
