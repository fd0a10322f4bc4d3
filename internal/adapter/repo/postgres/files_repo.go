package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
)

// FileRepo persists input-file metadata. The bytes themselves live in the
// blob store.
type FileRepo struct{ Pool PgxPool }

// NewFileRepo constructs a FileRepo with the given pool.
func NewFileRepo(p PgxPool) *FileRepo { return &FileRepo{Pool: p} }

// Create inserts a file metadata row and returns its id.
func (r *FileRepo) Create(ctx domain.Context, f domain.InputFile) (string, error) {
	tracer := otel.Tracer("repo.files")
	ctx, span := tracer.Start(ctx, "files.Create")
	defer span.End()
	id := f.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO input_files (id, user_id, path, filename, mime, size, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.Pool.Exec(ctx, q, id, f.UserID, f.Path, f.Filename, f.MIME, f.Size, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=file.create: %w", err)
	}
	return id, nil
}

// Get loads file metadata by id.
func (r *FileRepo) Get(ctx domain.Context, id string) (domain.InputFile, error) {
	tracer := otel.Tracer("repo.files")
	ctx, span := tracer.Start(ctx, "files.Get")
	defer span.End()
	q := `SELECT id, user_id, path, filename, mime, size, created_at FROM input_files WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var f domain.InputFile
	if err := row.Scan(&f.ID, &f.UserID, &f.Path, &f.Filename, &f.MIME, &f.Size, &f.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.InputFile{}, fmt.Errorf("op=file.get: %w", domain.ErrNotFound)
		}
		return domain.InputFile{}, fmt.Errorf("op=file.get: %w", err)
	}
	return f, nil
}
