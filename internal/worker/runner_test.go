package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
	"github.com/fairyhunter13/ai-table-enricher/internal/tabular"
)

type testEnv struct {
	jobs     *memJobs
	blobs    *memBlobs
	files    *memFiles
	creds    *memCreds
	provider *fakeProvider
	runner   *Runner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		jobs:     newMemJobs(),
		blobs:    newMemBlobs(),
		files:    newMemFiles(),
		creds:    &memCreds{keys: map[string]map[string]string{"u1": {"openai": "sk-test"}}},
		provider: &fakeProvider{},
	}
	env.runner = NewRunner(env.jobs, env.files, env.blobs, env.creds, nil,
		func(map[string]string) domain.ProviderClient { return env.provider },
		Config{
			Lease:         time.Minute,
			PartialStride: 2,
			DedupeEnabled: true,
			DedupeSecret:  "test-secret",
			PauseWait:     time.Millisecond,
		})
	env.runner.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	env.runner.JitterFn = func() time.Duration { return 0 }
	return env
}

// seedJob uploads an input CSV, registers its metadata, and creates a
// processing job as the dispatcher would hand it to the runner.
func (e *testEnv) seedJob(t *testing.T, headers []string, rows []map[string]string, prompts []domain.PromptSpec) domain.Job {
	t.Helper()
	raw := tabular.Serialize(headers, rows)
	require.NoError(t, e.blobs.Put(context.Background(), "inputs/u1/in.csv", raw, "text/csv"))
	fileID, err := e.files.Create(context.Background(), domain.InputFile{
		UserID: "u1", Path: "inputs/u1/in.csv", Filename: "in.csv", MIME: "text/csv", Size: int64(len(raw)),
	})
	require.NoError(t, err)
	lease := time.Now().UTC().Add(time.Minute)
	id := e.jobs.add(domain.Job{
		UserID:         "u1",
		FileID:         fileID,
		Status:         domain.JobProcessing,
		Prompts:        prompts,
		TotalRows:      len(rows),
		LeaseExpiresAt: &lease,
	})
	return e.jobs.snapshot(id)
}

func greetPrompt() []domain.PromptSpec {
	return []domain.PromptSpec{{
		PromptText:   "Greet {{name}}",
		OutputColumn: "greeting",
		Provider:     "openai",
		ModelID:      "gpt-4o-mini",
	}}
}

func parseBlob(t *testing.T, blobs *memBlobs, path string) ([]string, []map[string]string) {
	t.Helper()
	raw, err := blobs.Get(context.Background(), path)
	require.NoError(t, err)
	headers, rows, err := tabular.Parse(raw)
	require.NoError(t, err)
	return headers, rows
}

func TestRunnerCompletesAndDedupes(t *testing.T) {
	env := newTestEnv(t)
	job := env.seedJob(t, []string{"name"}, []map[string]string{
		{"name": "Ada"}, {"name": "Ada"}, {"name": "Bob"},
	}, greetPrompt())

	require.NoError(t, env.runner.Run(context.Background(), job))

	// Identical substituted prompts collapse to one upstream call.
	assert.Equal(t, 2, env.provider.callCount())

	got := env.jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Equal(t, 3, got.RowsProcessed)
	assert.Nil(t, got.CurrentRow)
	assert.Nil(t, got.LeaseExpiresAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, FinalPath("u1", job.ID), got.EnrichedFilePath)

	headers, rows := parseBlob(t, env.blobs, FinalPath("u1", job.ID))
	assert.Equal(t, []string{"name", "greeting"}, headers)
	require.Len(t, rows, 3)
	assert.Equal(t, "ok:Greet Ada", rows[0]["greeting"])
	assert.Equal(t, "ok:Greet Ada", rows[1]["greeting"])
	assert.Equal(t, "ok:Greet Bob", rows[2]["greeting"])

	assert.True(t, env.jobs.hasLog(job.ID, "dedupe summary plannedRequests=3 llmCallsMade=2 cacheHits=1"))
	assert.True(t, env.blobs.has(LogPath("u1", job.ID)))
}

func TestRunnerFinalOutputHasBOM(t *testing.T) {
	env := newTestEnv(t)
	job := env.seedJob(t, []string{"name"}, []map[string]string{{"name": "Ada"}}, greetPrompt())

	require.NoError(t, env.runner.Run(context.Background(), job))

	raw, err := env.blobs.Get(context.Background(), FinalPath("u1", job.ID))
	require.NoError(t, err)
	require.True(t, len(raw) > 3)
	assert.Equal(t, []byte{0xEF, 0xBB, 0xBF}, raw[:3])
}

func TestRunnerAutoPauseOnAuthErrorThenResume(t *testing.T) {
	env := newTestEnv(t)
	env.runner.Cfg.PartialStride = 1
	env.provider.respond = func(req domain.GenerateRequest) (string, error) {
		if req.UserText == "Greet Bob" {
			return "", &domain.CallFailure{
				Category:         domain.CategoryAuth,
				UserMessage:      "Your openai API key was rejected.",
				TechnicalMessage: "401 from upstream",
			}
		}
		return "ok:" + req.UserText, nil
	}
	job := env.seedJob(t, []string{"name"}, []map[string]string{
		{"name": "Ada"}, {"name": "Bob"}, {"name": "Cy"},
	}, greetPrompt())

	require.NoError(t, env.runner.Run(context.Background(), job))

	got := env.jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobPaused, got.Status)
	assert.Equal(t, 1, got.RowsProcessed)
	require.NotNil(t, got.ErrorDetails)
	assert.Equal(t, "AUTH_ERROR", got.ErrorDetails.Category)
	assert.Equal(t, 2, got.ErrorDetails.RowNumber)
	assert.Equal(t, 0, got.ErrorDetails.PromptIndex)
	assert.Equal(t, "greeting", got.ErrorDetails.PromptOutputColumn)

	// Key fixed, job resumed and reclaimed.
	env.provider.respond = nil
	env.jobs.setStatus(job.ID, domain.JobProcessing)
	require.NoError(t, env.runner.Run(context.Background(), env.jobs.snapshot(job.ID)))

	got = env.jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Equal(t, 3, got.RowsProcessed)
	assert.Nil(t, got.ErrorDetails)

	_, rows := parseBlob(t, env.blobs, FinalPath("u1", job.ID))
	require.Len(t, rows, 3)
	assert.Equal(t, "ok:Greet Bob", rows[1]["greeting"])
}

func TestRunnerResumesFromPartial(t *testing.T) {
	env := newTestEnv(t)
	job := env.seedJob(t, []string{"name"}, []map[string]string{
		{"name": "Ada"}, {"name": "Bob"}, {"name": "Cy"},
	}, greetPrompt())

	partial := tabular.Serialize([]string{"name", "greeting"}, []map[string]string{
		{"name": "Ada", "greeting": "hello Ada"},
		{"name": "Bob", "greeting": "hello Bob"},
	})
	require.NoError(t, env.blobs.Put(context.Background(), PartialPath("u1", job.ID), partial, "text/csv"))
	two := 2
	require.NoError(t, env.jobs.UpdateProgress(context.Background(), job.ID, domain.ProgressUpdate{RowsProcessed: &two}))

	require.NoError(t, env.runner.Run(context.Background(), env.jobs.snapshot(job.ID)))

	// Only the uncommitted row reaches the provider.
	assert.Equal(t, 1, env.provider.callCount())
	assert.Equal(t, "Greet Cy", env.provider.call(0).UserText)

	got := env.jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobCompleted, got.Status)

	_, rows := parseBlob(t, env.blobs, FinalPath("u1", job.ID))
	require.Len(t, rows, 3)
	assert.Equal(t, "hello Ada", rows[0]["greeting"])
	assert.Equal(t, "hello Bob", rows[1]["greeting"])
	assert.Equal(t, "ok:Greet Cy", rows[2]["greeting"])
}

func TestRunnerRestartsWhenPartialMissing(t *testing.T) {
	env := newTestEnv(t)
	job := env.seedJob(t, []string{"name"}, []map[string]string{
		{"name": "Ada"}, {"name": "Bob"},
	}, greetPrompt())
	two := 2
	require.NoError(t, env.jobs.UpdateProgress(context.Background(), job.ID, domain.ProgressUpdate{RowsProcessed: &two}))

	require.NoError(t, env.runner.Run(context.Background(), env.jobs.snapshot(job.ID)))

	// No checkpoint evidence, so every row is reprocessed.
	assert.Equal(t, 2, env.provider.callCount())
	assert.True(t, env.jobs.hasLog(job.ID, "partial output missing despite rowsProcessed=2"))
	assert.Equal(t, domain.JobCompleted, env.jobs.snapshot(job.ID).Status)
}

func TestRunnerClampsProgressToPartialEvidence(t *testing.T) {
	env := newTestEnv(t)
	job := env.seedJob(t, []string{"name"}, []map[string]string{
		{"name": "Ada"}, {"name": "Bob"}, {"name": "Cy"},
	}, greetPrompt())

	partial := tabular.Serialize([]string{"name", "greeting"}, []map[string]string{
		{"name": "Ada", "greeting": "hello Ada"},
	})
	require.NoError(t, env.blobs.Put(context.Background(), PartialPath("u1", job.ID), partial, "text/csv"))
	two := 2
	require.NoError(t, env.jobs.UpdateProgress(context.Background(), job.ID, domain.ProgressUpdate{RowsProcessed: &two}))

	require.NoError(t, env.runner.Run(context.Background(), env.jobs.snapshot(job.ID)))

	// Partial only proves one committed row; rows 2 and 3 are reprocessed.
	assert.Equal(t, 2, env.provider.callCount())
	assert.True(t, env.jobs.hasLog(job.ID, "recorded progress 2 exceeds partial rows 1"))
}

func TestRunnerChainedPrompts(t *testing.T) {
	env := newTestEnv(t)
	prompts := []domain.PromptSpec{
		{PromptText: "Greet {{name}}", OutputColumn: "greeting", Provider: "openai", ModelID: "gpt-4o-mini"},
		{PromptText: "Translate: {{greeting}}", OutputColumn: "translated", Provider: "anthropic", ModelID: "claude-3-5-haiku"},
	}
	env.provider.respond = func(req domain.GenerateRequest) (string, error) {
		if req.ModelID == "gpt-4o-mini" {
			return "hello", nil
		}
		return "bonjour", nil
	}
	job := env.seedJob(t, []string{"name"}, []map[string]string{{"name": "Ada"}}, prompts)

	require.NoError(t, env.runner.Run(context.Background(), job))

	require.Equal(t, 2, env.provider.callCount())
	assert.Equal(t, "Translate: hello", env.provider.call(1).UserText)

	headers, rows := parseBlob(t, env.blobs, FinalPath("u1", job.ID))
	assert.Equal(t, []string{"name", "greeting", "translated"}, headers)
	assert.Equal(t, "bonjour", rows[0]["translated"])
}

func TestRunnerStopWritesPartialAndExits(t *testing.T) {
	env := newTestEnv(t)
	env.jobs.onProgress = func(j *domain.Job) {
		if j.RowsProcessed >= 2 {
			j.Status = domain.JobStopped
		}
	}
	job := env.seedJob(t, []string{"name"}, []map[string]string{
		{"name": "Ada"}, {"name": "Bob"}, {"name": "Cy"}, {"name": "Di"},
	}, greetPrompt())

	require.NoError(t, env.runner.Run(context.Background(), job))

	got := env.jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobStopped, got.Status)
	assert.Equal(t, 2, got.RowsProcessed)
	assert.Nil(t, got.CurrentRow)
	assert.False(t, env.blobs.has(FinalPath("u1", job.ID)))

	_, rows := parseBlob(t, env.blobs, PartialPath("u1", job.ID))
	assert.Len(t, rows, 2)
	assert.True(t, env.jobs.hasLog(job.ID, "job stopped after 2 rows"))
}

func TestRunnerSkipsEmptyRows(t *testing.T) {
	env := newTestEnv(t)
	job := env.seedJob(t, []string{"name", "city"}, []map[string]string{
		{"name": "Ada", "city": "Paris"},
		{"name": "", "city": "  "},
		{"name": "Bob", "city": "Oslo"},
		{"name": "", "city": ""},
		{"name": "Cy", "city": "Lima"},
	}, greetPrompt())

	require.NoError(t, env.runner.Run(context.Background(), job))

	assert.Equal(t, 3, env.provider.callCount())
	got := env.jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Equal(t, 3, got.TotalRows)
	assert.Equal(t, 3, got.RowsProcessed)
	assert.True(t, env.jobs.hasLog(job.ID, "Skipping 2 empty rows; adjusted totalRows to 3"))

	_, rows := parseBlob(t, env.blobs, FinalPath("u1", job.ID))
	assert.Len(t, rows, 3)
}

func TestRunnerCompletesImmediatelyWithNoNonEmptyRows(t *testing.T) {
	env := newTestEnv(t)
	job := env.seedJob(t, []string{"name", "city"}, []map[string]string{
		{"name": "", "city": "  "},
		{"name": "", "city": ""},
	}, greetPrompt())

	require.NoError(t, env.runner.Run(context.Background(), job))

	assert.Equal(t, 0, env.provider.callCount())
	got := env.jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Equal(t, 0, got.TotalRows)
	assert.Equal(t, 0, got.RowsProcessed)
	assert.True(t, env.jobs.hasLog(job.ID, "Skipping 2 empty rows; adjusted totalRows to 0"))

	// Final output exists and carries headers only.
	headers, rows := parseBlob(t, env.blobs, FinalPath("u1", job.ID))
	assert.Equal(t, []string{"name", "city", "greeting"}, headers)
	assert.Empty(t, rows)
}

func TestRunnerSkipAllFilledMakesNoCalls(t *testing.T) {
	env := newTestEnv(t)
	job := env.seedJob(t, []string{"name", "greeting"}, []map[string]string{
		{"name": "Ada", "greeting": "hi Ada"},
		{"name": "Bob", "greeting": "hi Bob"},
		{"name": "Cy", "greeting": "hi Cy"},
	}, greetPrompt())
	require.NoError(t, env.blobs.Put(context.Background(), OptionsPath("u1", job.ID),
		[]byte(`{"skipIfExistingValue":true}`), "application/json"))

	require.NoError(t, env.runner.Run(context.Background(), job))

	// Every row commits without a single upstream call.
	assert.Equal(t, 0, env.provider.callCount())
	got := env.jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Equal(t, 3, got.RowsProcessed)
	assert.True(t, env.jobs.hasLog(job.ID, "dedupe summary plannedRequests=3 llmCallsMade=0 cacheHits=0 inFlightHits=0 skipped=3"))

	_, rows := parseBlob(t, env.blobs, FinalPath("u1", job.ID))
	require.Len(t, rows, 3)
	assert.Equal(t, "hi Ada", rows[0]["greeting"])
}

func TestRunnerFailsWithoutCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.creds.keys = map[string]map[string]string{}
	job := env.seedJob(t, []string{"name"}, []map[string]string{{"name": "Ada"}}, greetPrompt())

	require.NoError(t, env.runner.Run(context.Background(), job))

	got := env.jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobFailed, got.Status)
	assert.Equal(t, "No API keys configured", got.ErrorMessage)
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, 0, env.provider.callCount())
	assert.True(t, env.jobs.hasLog(job.ID, "No API keys configured"))
}

func TestRunnerSkipIfExistingValue(t *testing.T) {
	env := newTestEnv(t)
	job := env.seedJob(t, []string{"name", "greeting"}, []map[string]string{
		{"name": "Ada", "greeting": "done"},
		{"name": "Bob", "greeting": "LLM_ERROR"},
		{"name": "Cy", "greeting": ""},
	}, greetPrompt())
	require.NoError(t, env.blobs.Put(context.Background(), OptionsPath("u1", job.ID),
		[]byte(`{"skipIfExistingValue":true}`), "application/json"))

	require.NoError(t, env.runner.Run(context.Background(), job))

	// Placeholder markers do not count as filled.
	assert.Equal(t, 2, env.provider.callCount())
	headers, rows := parseBlob(t, env.blobs, FinalPath("u1", job.ID))
	assert.Equal(t, []string{"name", "greeting"}, headers)
	assert.Equal(t, "done", rows[0]["greeting"])
	assert.Equal(t, "ok:Greet Bob", rows[1]["greeting"])
	assert.Equal(t, "ok:Greet Cy", rows[2]["greeting"])
	assert.True(t, env.jobs.hasLog(job.ID, "row 1: greeting already filled, skipping"))
}

func TestRunnerTransientFailureMarksCellAndContinues(t *testing.T) {
	env := newTestEnv(t)
	env.provider.respond = func(req domain.GenerateRequest) (string, error) {
		if req.UserText == "Greet Bob" {
			return "", &domain.CallFailure{
				Category:         domain.CategoryServer,
				UserMessage:      "The provider had an internal error.",
				TechnicalMessage: "503 after retries",
			}
		}
		return "ok:" + req.UserText, nil
	}
	job := env.seedJob(t, []string{"name"}, []map[string]string{
		{"name": "Ada"}, {"name": "Bob"}, {"name": "Cy"},
	}, greetPrompt())

	require.NoError(t, env.runner.Run(context.Background(), job))

	got := env.jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobCompleted, got.Status)
	_, rows := parseBlob(t, env.blobs, FinalPath("u1", job.ID))
	assert.Equal(t, domain.CellLLMError, rows[1]["greeting"])
	assert.Equal(t, "ok:Greet Cy", rows[2]["greeting"])
}

func TestRunnerAutoPauseLosesRaceToStop(t *testing.T) {
	env := newTestEnv(t)
	env.provider.respond = func(req domain.GenerateRequest) (string, error) {
		return "", &domain.CallFailure{Category: domain.CategoryQuota, UserMessage: "quota", TechnicalMessage: "429"}
	}
	env.jobs.onTransition = func(j *domain.Job, to domain.JobStatus) {
		if to == domain.JobPaused {
			j.Status = domain.JobStopped
		}
	}
	job := env.seedJob(t, []string{"name"}, []map[string]string{
		{"name": "Ada"}, {"name": "Bob"},
	}, greetPrompt())

	require.NoError(t, env.runner.Run(context.Background(), job))

	got := env.jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobStopped, got.Status)
	assert.Nil(t, got.ErrorDetails)
	assert.True(t, env.jobs.hasLog(job.ID, "auto-pause skipped; job already transitioned"))

	// The losing worker still committed the row before observing the stop.
	_, rows := parseBlob(t, env.blobs, PartialPath("u1", job.ID))
	require.Len(t, rows, 1)
	assert.Equal(t, domain.CellLLMError, rows[0]["greeting"])
}

func TestRunnerRowPanicMarksRowError(t *testing.T) {
	env := newTestEnv(t)
	env.provider.respond = func(req domain.GenerateRequest) (string, error) {
		if req.UserText == "Greet Bob" {
			panic("boom")
		}
		return "ok:" + req.UserText, nil
	}
	job := env.seedJob(t, []string{"name"}, []map[string]string{
		{"name": "Ada"}, {"name": "Bob"}, {"name": "Cy"},
	}, greetPrompt())

	require.NoError(t, env.runner.Run(context.Background(), job))

	got := env.jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Equal(t, 3, got.RowsProcessed)

	_, rows := parseBlob(t, env.blobs, FinalPath("u1", job.ID))
	assert.Equal(t, domain.CellRowError, rows[1]["greeting"])
	assert.Equal(t, "ok:Greet Cy", rows[2]["greeting"])
	assert.True(t, env.jobs.hasLog(job.ID, "row 2 failed unexpectedly"))
}

func TestRunnerPauseWaitResumes(t *testing.T) {
	env := newTestEnv(t)
	env.jobs.onProgress = func(j *domain.Job) {
		// External pause lands right after the first committed row.
		if j.RowsProcessed == 1 && j.Status == domain.JobProcessing {
			j.Status = domain.JobPaused
		}
	}
	job := env.seedJob(t, []string{"name"}, []map[string]string{
		{"name": "Ada"}, {"name": "Bob"},
	}, greetPrompt())
	waits := 0
	env.runner.Sleep = func(ctx context.Context, d time.Duration) error {
		if d == env.runner.Cfg.PauseWait {
			waits++
			if waits >= 2 {
				env.jobs.setStatus(job.ID, domain.JobProcessing)
				env.jobs.onProgress = nil
			}
		}
		return ctx.Err()
	}

	require.NoError(t, env.runner.Run(context.Background(), job))

	got := env.jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Equal(t, 2, got.RowsProcessed)
	assert.GreaterOrEqual(t, waits, 2)
	assert.True(t, env.jobs.hasLog(job.ID, "resumed; options reloaded"))
}

func TestRunnerContentTypeFallback(t *testing.T) {
	env := newTestEnv(t)
	env.blobs.rejectCT["text/csv; charset=utf-8"] = true
	job := env.seedJob(t, []string{"name"}, []map[string]string{{"name": "Ada"}}, greetPrompt())

	require.NoError(t, env.runner.Run(context.Background(), job))

	assert.Equal(t, domain.JobCompleted, env.jobs.snapshot(job.ID).Status)
	env.blobs.mu.Lock()
	ct := env.blobs.ctype[FinalPath("u1", job.ID)]
	env.blobs.mu.Unlock()
	assert.Equal(t, "text/csv", ct)
}

func TestRunnerShutdownLeavesJobForReclaim(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	env.jobs.onProgress = func(j *domain.Job) {
		if j.RowsProcessed == 1 {
			cancel()
		}
	}
	job := env.seedJob(t, []string{"name"}, []map[string]string{
		{"name": "Ada"}, {"name": "Bob"}, {"name": "Cy"},
	}, greetPrompt())

	err := env.runner.Run(ctx, job)
	require.ErrorIs(t, err, context.Canceled)

	// The committed row survives; the job stays claimable by lease expiry.
	got := env.jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobProcessing, got.Status)
	assert.Equal(t, 1, got.RowsProcessed)
	assert.Equal(t, 1, env.provider.callCount())
}

func TestTimeoutMsFor(t *testing.T) {
	assert.Equal(t, 15000, timeoutMsFor(0))
	assert.Equal(t, 15000, timeoutMsFor(3999))
	assert.Equal(t, 20000, timeoutMsFor(4000))
	assert.Equal(t, 30000, timeoutMsFor(8000))
	assert.Equal(t, 45000, timeoutMsFor(12000))
	assert.Equal(t, 45000, timeoutMsFor(1_000_000))
}

func TestDispatcherClaimsAndRuns(t *testing.T) {
	env := newTestEnv(t)
	job := env.seedJob(t, []string{"name"}, []map[string]string{{"name": "Ada"}}, greetPrompt())
	env.jobs.setStatus(job.ID, domain.JobQueued)

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(env.jobs, env.runner, 10*time.Millisecond, time.Minute)
	d.Sleep = func(ctx context.Context, _ time.Duration) error {
		// First idle poll means the only job has been drained.
		cancel()
		return ctx.Err()
	}

	err := d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.JobCompleted, env.jobs.snapshot(job.ID).Status)
}
