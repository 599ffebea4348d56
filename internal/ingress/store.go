package ingress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/snackpdf/platform/internal/models"
)

// Store errors
var (
	ErrFileNotFound   = errors.New("file not found")
	ErrObjectNotFound = errors.New("object not found in blob store")
	ErrFileNotOwned   = errors.New("file does not belong to user")
)

// FileStore persists file metadata. The blob store holds the bytes.
type FileStore struct {
	db *pgxpool.Pool
}

// NewFileStore creates a file metadata store.
func NewFileStore(db *pgxpool.Pool) *FileStore {
	return &FileStore{db: db}
}

const fileColumns = `id, user_id, original_name, stored_name, content_type, size_bytes, is_pdf, expires_at, created_at`

// Create records an uploaded file.
func (s *FileStore) Create(ctx context.Context, file *models.FileObject) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO file_objects (user_id, original_name, stored_name, content_type, size_bytes, is_pdf, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, file.UserID, file.OriginalName, file.StoredName, file.ContentType,
		file.SizeBytes, file.IsPDF, file.ExpiresAt).Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// GetByID fetches a file record.
func (s *FileStore) GetByID(ctx context.Context, id uuid.UUID) (*models.FileObject, error) {
	var file models.FileObject
	err := s.db.QueryRow(ctx, `
		SELECT `+fileColumns+` FROM file_objects WHERE id = $1
	`, id).Scan(
		&file.ID, &file.UserID, &file.OriginalName, &file.StoredName,
		&file.ContentType, &file.SizeBytes, &file.IsPDF, &file.ExpiresAt, &file.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &file, nil
}

// GetOwned fetches a file record and enforces ownership.
func (s *FileStore) GetOwned(ctx context.Context, id, userID uuid.UUID) (*models.FileObject, error) {
	file, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if file.UserID == nil || *file.UserID != userID {
		return nil, ErrFileNotOwned
	}
	return file, nil
}

// ListByUser returns a user's files newest first.
func (s *FileStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.FileObject, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+fileColumns+` FROM file_objects
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []models.FileObject
	for rows.Next() {
		var file models.FileObject
		err := rows.Scan(
			&file.ID, &file.UserID, &file.OriginalName, &file.StoredName,
			&file.ContentType, &file.SizeBytes, &file.IsPDF, &file.ExpiresAt, &file.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// Delete removes a file record.
func (s *FileStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM file_objects WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// Expired returns records past their expiry, oldest first.
func (s *FileStore) Expired(ctx context.Context, now time.Time, limit int) ([]models.FileObject, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+fileColumns+` FROM file_objects
		WHERE expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired files: %w", err)
	}
	defer rows.Close()

	var files []models.FileObject
	for rows.Next() {
		var file models.FileObject
		err := rows.Scan(
			&file.ID, &file.UserID, &file.OriginalName, &file.StoredName,
			&file.ContentType, &file.SizeBytes, &file.IsPDF, &file.ExpiresAt, &file.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, file)
	}
	return files, rows.Err()
}
