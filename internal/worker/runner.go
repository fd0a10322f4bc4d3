// Package worker contains the job execution engine: the dispatcher that
// claims jobs through leases, and the runner that drives the per-job row
// loop over prompts with dedupe, checkpointing, and pause/stop/auto-pause
// handling.
//
// The runner touches its collaborators only through the domain ports, so the
// whole loop is exercisable with in-memory fakes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-table-enricher/internal/config"
	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
	"github.com/fairyhunter13/ai-table-enricher/internal/tabular"
)

const (
	promptTemperature = 0.0
	defaultMaxTokens  = 2048
	defaultMaxRetries = 3
	defaultJitterMax  = 150 * time.Millisecond
)

// Config carries the runner knobs; zero values fall back to the documented
// defaults.
type Config struct {
	Lease         time.Duration
	PartialStride int
	DedupeEnabled bool
	DedupeSecret  string
	PauseWait     time.Duration
	Pacing        config.ProvidersConfig
	JitterMax     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Lease <= 0 {
		c.Lease = 60 * time.Second
	}
	if c.PartialStride <= 0 {
		c.PartialStride = 10
	}
	if c.PauseWait <= 0 {
		c.PauseWait = 5 * time.Second
	}
	if c.Pacing.Providers == nil {
		c.Pacing = config.DefaultProvidersConfig()
	}
	if c.JitterMax < 0 {
		c.JitterMax = 0
	}
	return c
}

// ProviderFactory binds a set of per-provider API keys to a provider client.
type ProviderFactory func(keys map[string]string) domain.ProviderClient

// Runner executes one claimed job to its next resting state: completed,
// failed, paused, stopped, or interrupted by shutdown.
type Runner struct {
	Jobs        domain.JobRepository
	Files       domain.FileRepository
	Blobs       domain.BlobStore
	Creds       domain.CredentialsStore
	Events      domain.EventPublisher // optional
	NewProvider ProviderFactory
	Cfg         Config
	Sleep       func(context.Context, time.Duration) error
	JitterFn    func() time.Duration
}

// NewRunner constructs a Runner with defaults applied.
func NewRunner(jobs domain.JobRepository, files domain.FileRepository, blobs domain.BlobStore, creds domain.CredentialsStore, events domain.EventPublisher, factory ProviderFactory, cfg Config) *Runner {
	cfg = cfg.withDefaults()
	jitterMax := cfg.JitterMax
	if jitterMax == 0 {
		jitterMax = defaultJitterMax
	}
	return &Runner{
		Jobs:        jobs,
		Files:       files,
		Blobs:       blobs,
		Creds:       creds,
		Events:      events,
		NewProvider: factory,
		Cfg:         cfg,
		Sleep:       sleepCtx,
		JitterFn: func() time.Duration {
			return time.Duration(rand.Int63n(int64(jitterMax) + 1))
		},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run drives the row loop for one claimed job.
func (r *Runner) Run(ctx context.Context, claimed domain.Job) (err error) {
	tracer := otel.Tracer("worker.runner")
	ctx, span := tracer.Start(ctx, "runner.Run")
	span.SetAttributes(attribute.String("job_id", claimed.ID))
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("runner panic", slog.String("job_id", claimed.ID), slog.Any("panic", rec))
			r.failJob(ctx, claimed, fmt.Sprintf("unexpected worker error: %v", rec))
			err = fmt.Errorf("op=runner.run: panic: %v", rec)
		}
	}()

	// The persisted row is authoritative for rowsProcessed, status, prompts.
	job, err := r.Jobs.Get(ctx, claimed.ID)
	if err != nil {
		return fmt.Errorf("op=runner.run: %w", err)
	}
	if job.Status != domain.JobProcessing {
		slog.Info("claimed job no longer processing, skipping",
			slog.String("job_id", job.ID), slog.String("status", string(job.Status)))
		return nil
	}

	observability.JobsProcessing.Inc()
	defer observability.JobsProcessing.Dec()

	keys, err := r.Creds.GetProviderKeys(ctx, job.UserID)
	if err != nil {
		r.failJob(ctx, job, "credential lookup failed")
		return fmt.Errorf("op=runner.run: %w", err)
	}
	if len(keys) == 0 {
		r.logf(ctx, job.ID, domain.LogError, "No API keys configured")
		r.failJob(ctx, job, "No API keys configured")
		return nil
	}

	file, err := r.Files.Get(ctx, job.FileID)
	if err != nil {
		r.failJob(ctx, job, "input file metadata missing")
		return nil
	}
	raw, err := r.Blobs.Get(ctx, file.Path)
	if err != nil {
		r.failJob(ctx, job, "input table missing")
		return nil
	}
	headers, allRows, err := tabular.Parse(raw)
	if err != nil {
		r.failJob(ctx, job, "input table unreadable")
		return nil
	}

	// Drop rows whose every input cell is empty; they never resurface in
	// outputs or counters.
	rows := make([]map[string]string, 0, len(allRows))
	for _, row := range allRows {
		if !isEmptyRow(row, headers) {
			rows = append(rows, row)
		}
	}
	total := len(rows)
	if removed := len(allRows) - total; removed > 0 {
		if upErr := r.Jobs.UpdateProgress(ctx, job.ID, domain.ProgressUpdate{TotalRows: &total}); upErr != nil {
			slog.Warn("total rows update failed", slog.String("job_id", job.ID), slog.Any("error", upErr))
		}
		r.logf(ctx, job.ID, domain.LogInfo, "Skipping %d empty rows; adjusted totalRows to %d", removed, total)
	} else if job.TotalRows != total {
		if upErr := r.Jobs.UpdateProgress(ctx, job.ID, domain.ProgressUpdate{TotalRows: &total}); upErr != nil {
			slog.Warn("total rows update failed", slog.String("job_id", job.ID), slog.Any("error", upErr))
		}
	}

	opts := loadJobOptions(ctx, r.Blobs, job.UserID, job.ID, r.Sleep)
	r.logf(ctx, job.ID, domain.LogInfo, "options loaded skipIfExistingValue=%t", opts.SkipIfExistingValue)

	declared := make([]string, 0, len(job.Prompts))
	for _, p := range job.Prompts {
		declared = append(declared, p.OutputColumn)
	}
	ws := NewWorkingSet(headers, rows, declared)

	start, err := r.reconcileResume(ctx, job, ws, total)
	if err != nil {
		return err
	}

	provider := r.NewProvider(keys)
	fpr := NewFingerprinter(r.Cfg.DedupeSecret, job.UserID)
	cache := NewDedupeCache(r.Cfg.DedupeEnabled)
	stats := CallStats{PlannedRequests: total * len(job.Prompts)}
	lastPosition := 0

	for rowIndex := start; rowIndex < total; rowIndex++ {
		if ctx.Err() != nil {
			slog.Info("shutdown requested; leaving job for lease reclaim", slog.String("job_id", job.ID))
			return ctx.Err()
		}

		// Check for an externally requested stop or pause before the row runs.
		cur, err := r.Jobs.Get(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("op=runner.run: %w", err)
		}
		switch cur.Status {
		case domain.JobStopped:
			return r.finishStopped(ctx, job, ws, rowIndex)
		case domain.JobPaused:
			resumed, err := r.waitWhilePaused(ctx, job.ID)
			if err != nil {
				return err
			}
			if resumed == domain.JobStopped {
				return r.finishStopped(ctx, job, ws, rowIndex)
			}
			if resumed != domain.JobProcessing {
				slog.Info("job left pause into terminal state", slog.String("job_id", job.ID), slog.String("status", string(resumed)))
				return nil
			}
			opts = loadJobOptions(ctx, r.Blobs, job.UserID, job.ID, r.Sleep)
			r.logf(ctx, job.ID, domain.LogInfo, "resumed; options reloaded skipIfExistingValue=%t", opts.SkipIfExistingValue)
			if hbErr := r.Jobs.Heartbeat(ctx, job.ID, r.Cfg.Lease); hbErr != nil {
				slog.Warn("heartbeat failed after resume", slog.String("job_id", job.ID), slog.Any("error", hbErr))
			}
			rowIndex-- // re-check status for the same row
			continue
		case domain.JobProcessing:
			// proceed
		default:
			slog.Info("job transitioned externally, stopping loop",
				slog.String("job_id", job.ID), slog.String("status", string(cur.Status)))
			return nil
		}

		// Publish the position and extend the lease.
		curRow := rowIndex + 1
		lease := time.Now().UTC().Add(r.Cfg.Lease)
		if upErr := r.Jobs.UpdateProgress(ctx, job.ID, domain.ProgressUpdate{CurrentRow: &curRow, LeaseExpiresAt: &lease}); upErr != nil {
			slog.Warn("position update failed", slog.String("job_id", job.ID), slog.Any("error", upErr))
		}
		if curRow <= lastPosition {
			slog.Warn("out-of-order position_set",
				slog.String("job_id", job.ID), slog.Int("current", curRow), slog.Int("last", lastPosition))
		}
		lastPosition = curRow
		r.logf(ctx, job.ID, domain.LogInfo, "position_set currentRow=%d rowsProcessed=%d totalRows=%d", curRow, rowIndex, total)

		// Run the row's prompts, auto-pausing on critical failures.
		paused, err := r.processRow(ctx, job, ws, provider, fpr, cache, &stats, opts, rowIndex)
		if err != nil {
			return err
		}
		if paused {
			return nil
		}

		// Commit the row and checkpoint on the stride boundary.
		rp := rowIndex + 1
		lease = time.Now().UTC().Add(r.Cfg.Lease)
		if upErr := r.Jobs.UpdateProgress(ctx, job.ID, domain.ProgressUpdate{RowsProcessed: &rp, LeaseExpiresAt: &lease}); upErr != nil {
			r.logf(ctx, job.ID, domain.LogWarn, "row commit failed at row %d: %v", rp, upErr)
		}
		observability.RowsProcessedTotal.Inc()
		if rp%r.Cfg.PartialStride == 0 || rp == total {
			r.uploadPartial(ctx, job, ws, rp)
		}
	}

	return r.complete(ctx, job, ws, total, stats)
}

// reconcileResume decides the starting row from persisted progress and the
// partial-output evidence.
func (r *Runner) reconcileResume(ctx context.Context, job domain.Job, ws *WorkingSet, total int) (int, error) {
	start := job.RowsProcessed
	if start > 0 {
		partialRaw, err := r.Blobs.Get(ctx, PartialPath(job.UserID, job.ID))
		switch {
		case err == nil:
			_, prows, perr := tabular.Parse(partialRaw)
			if perr != nil {
				r.logf(ctx, job.ID, domain.LogWarn, "partial output unparsable; restarting from row 0: %v", perr)
				start = 0
			} else {
				overlayRows := ws.MergePartial(prows)
				if start > overlayRows {
					r.logf(ctx, job.ID, domain.LogWarn, "recorded progress %d exceeds partial rows %d; resuming from %d", start, overlayRows, overlayRows)
					start = overlayRows
				}
			}
		case errors.Is(err, domain.ErrNotFound):
			r.logf(ctx, job.ID, domain.LogWarn, "partial output missing despite rowsProcessed=%d; restarting from row 0", start)
			start = 0
		default:
			return 0, fmt.Errorf("op=runner.resume: %w", err)
		}
	}
	if start > total {
		r.logf(ctx, job.ID, domain.LogWarn, "recorded progress %d exceeds filtered row count %d; clamping", start, total)
		start = total
	}
	return start, nil
}

// processRow runs every prompt of one row. It returns paused=true when a
// critical failure auto-paused the job and the loop should exit cleanly. A
// panic inside prompt processing marks the row's unfilled cells with
// ROW_ERROR and lets the commit proceed.
func (r *Runner) processRow(ctx context.Context, job domain.Job, ws *WorkingSet, provider domain.ProviderClient, fpr *Fingerprinter, cache *DedupeCache, stats *CallStats, opts domain.JobOptions, rowIndex int) (paused bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			for _, col := range ws.OutputColumns() {
				if v, ok := ws.Output(rowIndex, col); !ok || strings.TrimSpace(v) == "" {
					ws.SetOutput(rowIndex, col, domain.CellRowError)
				}
			}
			r.logf(ctx, job.ID, domain.LogError, "row %d failed unexpectedly: %v", rowIndex+1, rec)
			paused, err = false, nil
		}
	}()

	for pi, prompt := range job.Prompts {
		view := ws.RowView(rowIndex)

		if opts.SkipIfExistingValue && isFilledCell(view[prompt.OutputColumn]) {
			stats.Skipped++
			r.logf(ctx, job.ID, domain.LogInfo, "row %d: %s already filled, skipping", rowIndex+1, prompt.OutputColumn)
			continue
		}

		sysText := substitute(prompt.SystemText, view)
		userText := substitute(prompt.PromptText, view)
		fp := fpr.Fingerprint(prompt.OutputColumn, prompt.Provider, prompt.ModelID, sysText, userText, promptTemperature)

		var content string
		var callErr error
		kind, cached, pending := cache.Lookup(prompt.OutputColumn, fp)
		switch kind {
		case lookupResolved:
			content = cached
			stats.CacheHits++
		case lookupInFlight:
			content, callErr = pending.Await()
			stats.InFlightHits++
		default:
			cache.Register(prompt.OutputColumn, fp)
			content, callErr = provider.Generate(ctx, domain.GenerateRequest{
				Provider:   prompt.Provider,
				ModelID:    prompt.ModelID,
				SystemText: sysText,
				UserText:   userText,
				Options: domain.CallOptions{
					TimeoutMs:   timeoutMsFor(len(sysText) + len(userText)),
					MaxTokens:   defaultMaxTokens,
					Temperature: promptTemperature,
					MaxRetries:  defaultMaxRetries,
				},
			})
			stats.LLMCallsMade++
			if callErr != nil {
				cache.Unregister(prompt.OutputColumn, fp, callErr)
			} else {
				cache.Resolve(prompt.OutputColumn, fp, content)
			}
		}

		if callErr == nil {
			ws.SetOutput(rowIndex, prompt.OutputColumn, content)
		} else {
			f := domain.AsCallFailure(callErr)
			ws.SetOutput(rowIndex, prompt.OutputColumn, domain.CellLLMError)
			if f.Category.Critical() {
				if r.attemptAutoPause(ctx, job, f, rowIndex, pi, prompt) {
					return true, nil
				}
				// Another actor owns the transition; the next status check picks it up.
			} else {
				r.logf(ctx, job.ID, domain.LogWarn, "row %d prompt %q failed (%s): %s",
					rowIndex+1, prompt.OutputColumn, f.Category, f.TechnicalMessage)
			}
		}

		// Pacing. A cancelled sleep must not abort the row: the row commit
		// still has to happen before shutdown.
		_ = r.Sleep(ctx, r.Cfg.Pacing.PacingDelay(prompt.Provider)+r.JitterFn())
	}
	return false, nil
}

// attemptAutoPause performs the race-guarded pause transition for a critical
// failure. Returns true when this worker won the transition and the loop
// should exit.
func (r *Runner) attemptAutoPause(ctx context.Context, job domain.Job, f *domain.CallFailure, rowIndex, promptIndex int, prompt domain.PromptSpec) bool {
	details := &domain.ErrorDetails{
		Category:           string(f.Category),
		UserMessage:        f.UserMessage,
		TechnicalMessage:   f.TechnicalMessage,
		RowNumber:          rowIndex + 1,
		PromptIndex:        promptIndex,
		PromptOutputColumn: prompt.OutputColumn,
		Provider:           prompt.Provider,
		ModelID:            prompt.ModelID,
		Timestamp:          time.Now().UTC(),
		Metadata:           f.Metadata,
	}
	matched, err := r.Jobs.TransitionStatus(ctx, job.ID,
		[]domain.JobStatus{domain.JobProcessing, domain.JobQueued}, domain.JobPaused,
		domain.TransitionExtra{ErrorDetails: details})
	if err != nil {
		// Degrade gracefully: the LLM_ERROR marker is already in the overlay.
		r.logf(ctx, job.ID, domain.LogError, "auto-pause update failed, continuing: %v", err)
		return false
	}
	if !matched {
		r.logf(ctx, job.ID, domain.LogInfo, "auto-pause skipped; job already transitioned")
		return false
	}
	observability.JobsAutoPausedTotal.WithLabelValues(string(f.Category)).Inc()
	r.logf(ctx, job.ID, domain.LogWarn, "auto-paused on %s at row %d prompt %q", f.Category, rowIndex+1, prompt.OutputColumn)
	r.publish(ctx, job, domain.JobPaused, rowIndex, job.TotalRows)
	return true
}

// waitWhilePaused polls the job until it leaves paused.
func (r *Runner) waitWhilePaused(ctx context.Context, jobID string) (domain.JobStatus, error) {
	for {
		if err := r.Sleep(ctx, r.Cfg.PauseWait); err != nil {
			return "", err
		}
		if err := r.Jobs.Heartbeat(ctx, jobID, r.Cfg.Lease); err != nil {
			slog.Warn("heartbeat failed during pause wait", slog.String("job_id", jobID), slog.Any("error", err))
		}
		cur, err := r.Jobs.Get(ctx, jobID)
		if err != nil {
			slog.Warn("status read failed during pause wait", slog.String("job_id", jobID), slog.Any("error", err))
			continue
		}
		if cur.Status != domain.JobPaused {
			return cur.Status, nil
		}
	}
}

// finishStopped writes the final partial up to (not including) rowIndex and
// exits cleanly.
func (r *Runner) finishStopped(ctx context.Context, job domain.Job, ws *WorkingSet, upto int) error {
	r.uploadPartial(ctx, job, ws, upto)
	if err := r.Jobs.UpdateProgress(ctx, job.ID, domain.ProgressUpdate{ClearCurrentRow: true}); err != nil {
		slog.Warn("current row clear failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}
	r.logf(ctx, job.ID, domain.LogInfo, "job stopped after %d rows", upto)
	r.publish(ctx, job, domain.JobStopped, upto, ws.Len())
	return nil
}

// complete uploads the final output and log artifact, then performs the
// terminal transition.
func (r *Runner) complete(ctx context.Context, job domain.Job, ws *WorkingSet, total int, stats CallStats) error {
	finalPath := FinalPath(job.UserID, job.ID)
	final := tabular.Serialize(ws.Headers(), ws.MaterializeAll())
	if err := r.putCSV(ctx, finalPath, final); err != nil {
		r.logf(ctx, job.ID, domain.LogError, "final output upload failed: %v", err)
		r.failJob(ctx, job, "failed to store enriched output")
		return nil
	}

	r.logf(ctx, job.ID, domain.LogInfo, "dedupe summary plannedRequests=%d llmCallsMade=%d cacheHits=%d inFlightHits=%d skipped=%d",
		stats.PlannedRequests, stats.LLMCallsMade, stats.CacheHits, stats.InFlightHits, stats.Skipped)

	if logs, err := r.Jobs.ListLogs(ctx, job.ID); err == nil {
		var b strings.Builder
		for _, l := range logs {
			fmt.Fprintf(&b, "[%s] %s: %s\n", l.Timestamp.UTC().Format(time.RFC3339), l.Level, l.Message)
		}
		if putErr := r.Blobs.Put(ctx, LogPath(job.UserID, job.ID), []byte(b.String()), "text/plain"); putErr != nil {
			slog.Warn("log artifact upload failed", slog.String("job_id", job.ID), slog.Any("error", putErr))
		}
	} else {
		slog.Warn("log listing failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}

	now := time.Now().UTC()
	matched, err := r.Jobs.TransitionStatus(ctx, job.ID,
		[]domain.JobStatus{domain.JobProcessing}, domain.JobCompleted,
		domain.TransitionExtra{
			EnrichedFilePath:  &finalPath,
			FinishedAt:        &now,
			RowsProcessed:     &total,
			ClearCurrentRow:   true,
			ClearErrorDetails: true,
			ClearLease:        true,
		})
	if err != nil {
		return fmt.Errorf("op=runner.complete: %w", err)
	}
	if !matched {
		r.logf(ctx, job.ID, domain.LogWarn, "completion transition did not match; job was transitioned externally")
		return nil
	}
	observability.JobsCompletedTotal.Inc()
	r.publish(ctx, job, domain.JobCompleted, total, total)
	slog.Info("job completed",
		slog.String("job_id", job.ID),
		slog.Int("rows", total),
		slog.Int("llm_calls", stats.LLMCallsMade),
		slog.Int("cache_hits", stats.CacheHits))
	return nil
}

// failJob transitions a non-terminal job to failed. A job already observed
// terminal (in particular completed) is never downgraded.
func (r *Runner) failJob(ctx context.Context, job domain.Job, msg string) {
	if cur, err := r.Jobs.Get(ctx, job.ID); err == nil && cur.Status.Terminal() {
		slog.Warn("not downgrading terminal job",
			slog.String("job_id", job.ID), slog.String("status", string(cur.Status)), slog.String("reason", msg))
		return
	}
	now := time.Now().UTC()
	matched, err := r.Jobs.TransitionStatus(ctx, job.ID,
		[]domain.JobStatus{domain.JobQueued, domain.JobProcessing, domain.JobPaused}, domain.JobFailed,
		domain.TransitionExtra{ErrorMessage: &msg, FinishedAt: &now, ClearCurrentRow: true, ClearLease: true})
	if err != nil {
		slog.Error("fail transition errored", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}
	if matched {
		observability.JobsFailedTotal.Inc()
		r.publish(ctx, job, domain.JobFailed, job.RowsProcessed, job.TotalRows)
	}
}

func (r *Runner) uploadPartial(ctx context.Context, job domain.Job, ws *WorkingSet, n int) {
	data := tabular.Serialize(ws.Headers(), ws.MaterializeSlice(n))
	if err := r.putCSV(ctx, PartialPath(job.UserID, job.ID), data); err != nil {
		r.logf(ctx, job.ID, domain.LogWarn, "partial upload failed at row %d: %v", n, err)
	}
}

// putCSV uploads CSV bytes, degrading the content type when the store
// refuses charset parameters.
func (r *Runner) putCSV(ctx context.Context, path string, data []byte) error {
	if err := r.Blobs.Put(ctx, path, data, "text/csv; charset=utf-8"); err == nil {
		return nil
	}
	if err := r.Blobs.Put(ctx, path, data, "text/csv"); err == nil {
		return nil
	}
	return r.Blobs.Put(ctx, path, data, "text/plain")
}

// logf appends to the job log and mirrors to slog.
func (r *Runner) logf(ctx context.Context, jobID string, level domain.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if err := r.Jobs.AppendLog(ctx, jobID, level, msg); err != nil {
		slog.Error("job log append failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
	switch level {
	case domain.LogError:
		slog.Error(msg, slog.String("job_id", jobID))
	case domain.LogWarn:
		slog.Warn(msg, slog.String("job_id", jobID))
	default:
		slog.Info(msg, slog.String("job_id", jobID))
	}
}

func (r *Runner) publish(ctx context.Context, job domain.Job, status domain.JobStatus, rows, total int) {
	if r.Events == nil {
		return
	}
	evt := domain.JobEvent{
		JobID:         job.ID,
		UserID:        job.UserID,
		Status:        status,
		RowsProcessed: rows,
		TotalRows:     total,
		At:            time.Now().UTC(),
	}
	if err := r.Events.PublishJobEvent(ctx, evt); err != nil {
		slog.Warn("job event publish failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}
}

// timeoutMsFor derives the per-call timeout from the combined prompt length.
func timeoutMsFor(n int) int {
	switch {
	case n >= 12000:
		return 45000
	case n >= 8000:
		return 30000
	case n >= 4000:
		return 20000
	default:
		return 15000
	}
}
