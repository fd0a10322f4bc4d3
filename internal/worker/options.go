package worker

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
)

// optionsRetryDelay covers the race where a job starts before its controls
// blob finishes uploading; the read is retried once.
const optionsRetryDelay = 250 * time.Millisecond

// loadJobOptions reads the controls blob for a job. A missing blob implies
// defaults; an unreadable blob is logged and treated as defaults rather than
// failing the run.
func loadJobOptions(ctx domain.Context, blobs domain.BlobStore, userID, jobID string, sleep func(domain.Context, time.Duration) error) domain.JobOptions {
	path := OptionsPath(userID, jobID)
	raw, err := blobs.Get(ctx, path)
	if err != nil && errors.Is(err, domain.ErrNotFound) {
		if sleepErr := sleep(ctx, optionsRetryDelay); sleepErr != nil {
			return domain.JobOptions{}
		}
		raw, err = blobs.Get(ctx, path)
	}
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("job options read failed, using defaults", slog.String("job_id", jobID), slog.Any("error", err))
		}
		return domain.JobOptions{}
	}
	var opts domain.JobOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		slog.Warn("job options blob unparsable, using defaults", slog.String("job_id", jobID), slog.Any("error", err))
		return domain.JobOptions{}
	}
	return opts
}
