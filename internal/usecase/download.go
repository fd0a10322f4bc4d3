package usecase

import (
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
	"github.com/fairyhunter13/ai-table-enricher/internal/worker"
)

// Artifact kinds servable per job.
const (
	ArtifactFinal   = "final"
	ArtifactPartial = "partial"
	ArtifactLog     = "log"
)

// Artifact is one downloadable job output.
type Artifact struct {
	Data        []byte
	Filename    string
	ContentType string
}

// DownloadService serves job artifacts from the blob store.
type DownloadService struct {
	Jobs  domain.JobRepository
	Blobs domain.BlobStore
}

// NewDownloadService constructs a DownloadService.
func NewDownloadService(jobs domain.JobRepository, blobs domain.BlobStore) *DownloadService {
	return &DownloadService{Jobs: jobs, Blobs: blobs}
}

// Download fetches one artifact for a job owned by userID. The log artifact is
// assembled live from the job log when the uploaded blob does not exist yet.
func (s *DownloadService) Download(ctx domain.Context, userID, jobID, kind string) (Artifact, error) {
	tracer := otel.Tracer("usecase.download")
	ctx, span := tracer.Start(ctx, "download.Download")
	defer span.End()

	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return Artifact{}, err
	}
	if j.UserID != userID {
		return Artifact{}, fmt.Errorf("op=download: %w", domain.ErrNotFound)
	}

	switch kind {
	case ArtifactFinal:
		if j.Status != domain.JobCompleted || j.EnrichedFilePath == "" {
			return Artifact{}, fmt.Errorf("op=download: %w: job has no final output", domain.ErrNotFound)
		}
		data, err := s.Blobs.Get(ctx, j.EnrichedFilePath)
		if err != nil {
			return Artifact{}, fmt.Errorf("op=download: %w", err)
		}
		return Artifact{Data: data, Filename: jobID + "_enriched.csv", ContentType: "text/csv; charset=utf-8"}, nil

	case ArtifactPartial:
		data, err := s.Blobs.Get(ctx, worker.PartialPath(userID, jobID))
		if err != nil {
			return Artifact{}, fmt.Errorf("op=download: %w", err)
		}
		return Artifact{Data: data, Filename: jobID + "_partial.csv", ContentType: "text/csv; charset=utf-8"}, nil

	case ArtifactLog:
		data, err := s.Blobs.Get(ctx, worker.LogPath(userID, jobID))
		if err == nil {
			return Artifact{Data: data, Filename: jobID + ".txt", ContentType: "text/plain"}, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return Artifact{}, fmt.Errorf("op=download: %w", err)
		}
		logs, lErr := s.Jobs.ListLogs(ctx, jobID)
		if lErr != nil {
			return Artifact{}, fmt.Errorf("op=download: %w", lErr)
		}
		var b strings.Builder
		for _, l := range logs {
			fmt.Fprintf(&b, "[%s] %s: %s\n", l.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"), l.Level, l.Message)
		}
		return Artifact{Data: []byte(b.String()), Filename: jobID + ".txt", ContentType: "text/plain"}, nil

	default:
		return Artifact{}, fmt.Errorf("op=download: %w: unknown artifact kind %q", domain.ErrInvalidArgument, kind)
	}
}
