package models

import (
	"time"

	"github.com/google/uuid"
)

// FileObject represents an uploaded file tracked in the database.
// The bytes themselves live in the external blob store.
type FileObject struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	UserID       *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	OriginalName string     `json:"original_name" db:"original_name"`
	StoredName   string     `json:"stored_name" db:"stored_name"`
	ContentType  string     `json:"content_type" db:"content_type"`
	SizeBytes    int64      `json:"size_bytes" db:"size_bytes"`
	IsPDF        bool       `json:"is_pdf" db:"is_pdf"`
	ExpiresAt    time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
