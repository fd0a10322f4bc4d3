package postgres

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
)

// JobRepo persists and loads jobs from PostgreSQL using a minimal pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

const jobColumns = `id, user_id, file_id, status, prompts_config, total_rows, rows_processed,
	current_row, lease_expires_at, enriched_file_path, error_message,
	error_details, finished_at, created_at`

// Create inserts a new job and returns its id.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	prompts, err := json.Marshal(j.Prompts)
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	status := j.Status
	if status == "" {
		status = domain.JobQueued
	}
	q := `INSERT INTO jobs (id, user_id, file_id, status, prompts_config, total_rows, rows_processed, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err = r.Pool.Exec(ctx, q, id, j.UserID, j.FileID, status, prompts, j.TotalRows, j.RowsProcessed, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	row := r.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// ClaimNext atomically claims one job: a queued job first, else a processing
// job whose lease expired. The UPDATE re-checks the status predicate so two
// claimers racing on the same row cannot both succeed; SKIP LOCKED keeps
// concurrent claimers from serializing on one candidate.
func (r *JobRepo) ClaimNext(ctx domain.Context, lease time.Duration) (domain.Job, bool, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ClaimNext")
	defer span.End()

	now := time.Now().UTC()
	expires := now.Add(lease)

	claimQueued := `
		WITH candidate AS (
			SELECT id FROM jobs
			WHERE status = 'queued'
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs j SET status = 'processing', lease_expires_at = $1
		FROM candidate
		WHERE j.id = candidate.id AND j.status = 'queued'
		RETURNING `

	row := r.Pool.QueryRow(ctx, rewriteReturning(claimQueued), expires)
	j, err := scanJob(row)
	if err == nil {
		return j, true, nil
	}
	if err != pgx.ErrNoRows {
		return domain.Job{}, false, fmt.Errorf("op=job.claim_next: %w", err)
	}

	// A NULL lease on a processing job means it was resumed without ever
	// having been claimed; treat it like an expired lease.
	claimExpired := `
		WITH candidate AS (
			SELECT id FROM jobs
			WHERE status = 'processing' AND (lease_expires_at IS NULL OR lease_expires_at < $2)
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs j SET lease_expires_at = $1
		FROM candidate
		WHERE j.id = candidate.id AND j.status = 'processing' AND (j.lease_expires_at IS NULL OR j.lease_expires_at < $2)
		RETURNING `

	row = r.Pool.QueryRow(ctx, rewriteReturning(claimExpired), expires, now)
	j, err = scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("op=job.claim_next: %w", err)
	}
	return j, true, nil
}

// rewriteReturning appends the job column list qualified for the UPDATE alias.
func rewriteReturning(q string) string {
	cols := strings.Split(jobColumns, ",")
	qualified := make([]string, len(cols))
	for i, c := range cols {
		qualified[i] = "j." + strings.TrimSpace(c)
	}
	idx := strings.Index(q, "RETURNING")
	return q[:idx] + "RETURNING " + strings.Join(qualified, ", ")
}

// Heartbeat extends the lease on a processing job.
func (r *JobRepo) Heartbeat(ctx domain.Context, id string, lease time.Duration) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Heartbeat")
	defer span.End()
	q := `UPDATE jobs SET lease_expires_at = $2 WHERE id = $1 AND status = 'processing'`
	if _, err := r.Pool.Exec(ctx, q, id, time.Now().UTC().Add(lease)); err != nil {
		return fmt.Errorf("op=job.heartbeat: %w", err)
	}
	return nil
}

// UpdateProgress applies the unconditional bookkeeping fields.
func (r *JobRepo) UpdateProgress(ctx domain.Context, id string, upd domain.ProgressUpdate) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateProgress")
	defer span.End()

	sets := make([]string, 0, 5)
	args := []any{id}
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if upd.RowsProcessed != nil {
		add("rows_processed = $%d", *upd.RowsProcessed)
	}
	if upd.CurrentRow != nil {
		add("current_row = $%d", *upd.CurrentRow)
	} else if upd.ClearCurrentRow {
		sets = append(sets, "current_row = NULL")
	}
	if upd.TotalRows != nil {
		add("total_rows = $%d", *upd.TotalRows)
	}
	if upd.LeaseExpiresAt != nil {
		add("lease_expires_at = $%d", upd.LeaseExpiresAt.UTC())
	}
	if len(sets) == 0 {
		return nil
	}
	q := `UPDATE jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	if _, err := r.Pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("op=job.update_progress: %w", err)
	}
	return nil
}

// TransitionStatus performs a conditional status update predicated on the
// job's prior status being in from. matched is false when the predicate did
// not hold (another actor transitioned the job first).
func (r *JobRepo) TransitionStatus(ctx domain.Context, id string, from []domain.JobStatus, to domain.JobStatus, extra domain.TransitionExtra) (bool, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.TransitionStatus")
	defer span.End()

	args := []any{id, string(to)}
	sets := []string{"status = $2"}
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if extra.EnrichedFilePath != nil {
		add("enriched_file_path = $%d", *extra.EnrichedFilePath)
	}
	if extra.ErrorMessage != nil {
		add("error_message = $%d", *extra.ErrorMessage)
	}
	if extra.ErrorDetails != nil {
		raw, err := json.Marshal(extra.ErrorDetails)
		if err != nil {
			return false, fmt.Errorf("op=job.transition: %w", err)
		}
		add("error_details = $%d", raw)
	} else if extra.ClearErrorDetails {
		sets = append(sets, "error_details = NULL")
	}
	if extra.FinishedAt != nil {
		add("finished_at = $%d", extra.FinishedAt.UTC())
	}
	if extra.RowsProcessed != nil {
		add("rows_processed = $%d", *extra.RowsProcessed)
	}
	if extra.ClearCurrentRow {
		sets = append(sets, "current_row = NULL")
	}
	if extra.ClearLease {
		sets = append(sets, "lease_expires_at = NULL")
	}

	preds := make([]string, 0, len(from))
	for _, s := range from {
		args = append(args, string(s))
		preds = append(preds, fmt.Sprintf("$%d", len(args)))
	}
	q := `UPDATE jobs SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 AND status IN (` + strings.Join(preds, ",") + `)`
	tag, err := r.Pool.Exec(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("op=job.transition: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountExpiredLeases reports how many processing jobs hold a lease that
// expired before now. Used by the sweeper for observability; reclaim itself
// happens through ClaimNext.
func (r *JobRepo) CountExpiredLeases(ctx domain.Context, now time.Time) (int, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.CountExpiredLeases")
	defer span.End()
	var n int
	q := `SELECT count(*) FROM jobs WHERE status = 'processing' AND lease_expires_at < $1`
	if err := r.Pool.QueryRow(ctx, q, now.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=job.count_expired: %w", err)
	}
	return n, nil
}

// AppendLog inserts one log entry. ULIDs keep ids sortable in insert order as
// a tiebreak when timestamps collide.
func (r *JobRepo) AppendLog(ctx domain.Context, id string, level domain.LogLevel, message string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.AppendLog")
	defer span.End()
	q := `INSERT INTO job_logs (id, job_id, level, message, ts) VALUES ($1,$2,$3,$4,$5)`
	if _, err := r.Pool.Exec(ctx, q, ulid.Make().String(), id, string(level), message, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=job.append_log: %w", err)
	}
	return nil
}

// ListLogs returns all log entries for a job in timestamp order.
func (r *JobRepo) ListLogs(ctx domain.Context, id string) ([]domain.JobLog, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListLogs")
	defer span.End()
	q := `SELECT id, job_id, level, message, ts FROM job_logs WHERE job_id=$1 ORDER BY ts ASC, id ASC`
	rows, err := r.Pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_logs: %w", err)
	}
	defer rows.Close()
	var out []domain.JobLog
	for rows.Next() {
		var l domain.JobLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.Level, &l.Message, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("op=job.list_logs: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_logs: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var prompts []byte
	var details []byte
	if err := row.Scan(&j.ID, &j.UserID, &j.FileID, &j.Status, &prompts, &j.TotalRows, &j.RowsProcessed,
		&j.CurrentRow, &j.LeaseExpiresAt, &j.EnrichedFilePath, &j.ErrorMessage,
		&details, &j.FinishedAt, &j.CreatedAt); err != nil {
		return domain.Job{}, err
	}
	if len(prompts) > 0 {
		if err := json.Unmarshal(prompts, &j.Prompts); err != nil {
			return domain.Job{}, fmt.Errorf("prompts_config: %w", err)
		}
	}
	if len(details) > 0 {
		var d domain.ErrorDetails
		if err := json.Unmarshal(details, &d); err != nil {
			return domain.Job{}, fmt.Errorf("error_details: %w", err)
		}
		j.ErrorDetails = &d
	}
	return j, nil
}
