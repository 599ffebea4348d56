package ingress

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Validation errors
var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file exceeds maximum size")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNotAPDF         = errors.New("file is not a valid PDF")
	ErrBadFilename     = errors.New("invalid filename")
)

// pdfMagic is the signature every PDF starts with.
var pdfMagic = []byte("%PDF")

// allowedExtensions lists upload types the platform accepts. Non-PDF
// types exist for the convert operation.
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".xls":  true,
	".xlsx": true,
	".ppt":  true,
	".pptx": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".txt":  true,
	".html": true,
}

// Validator checks uploads before they reach the blob store.
type Validator struct {
	maxSize int64
}

// NewValidator creates a validator with the given size ceiling in bytes.
func NewValidator(maxSize int64) *Validator {
	return &Validator{maxSize: maxSize}
}

// Validate checks the filename, size and leading bytes of an upload.
// PDF files must carry the %PDF signature; the extension alone is not
// trusted.
func (v *Validator) Validate(filename string, size int64, head []byte) error {
	if size == 0 {
		return ErrEmptyFile
	}
	if size > v.maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrFileTooLarge, size, v.maxSize)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	if ext == ".pdf" && !bytes.HasPrefix(head, pdfMagic) {
		return ErrNotAPDF
	}

	return nil
}

// ValidatePDF is Validate restricted to PDF uploads, used by operations
// that only accept PDFs.
func (v *Validator) ValidatePDF(filename string, size int64, head []byte) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".pdf" {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	return v.Validate(filename, size, head)
}

// MaxSize returns the configured size ceiling.
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// SecureFilename strips path components and unsafe characters from a
// client-supplied filename. The result keeps the original extension.
func SecureFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "\\", "_")

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	cleaned := strings.Trim(b.String(), "._")
	if cleaned == "" {
		return "unnamed"
	}
	return cleaned
}

// StoredName generates the blob store object name for an upload. The
// random prefix prevents collisions and object name guessing.
func StoredName(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	return uuid.New().String() + ext
}
