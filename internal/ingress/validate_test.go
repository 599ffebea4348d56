package ingress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	v := NewValidator(50 * 1024 * 1024)
	pdfHead := []byte("%PDF-1.7\n")

	cases := []struct {
		name     string
		filename string
		size     int64
		head     []byte
		wantErr  error
	}{
		{"valid pdf", "report.pdf", 1024, pdfHead, nil},
		{"valid docx", "report.docx", 1024, []byte("PK\x03\x04"), nil},
		{"empty file", "report.pdf", 0, nil, ErrEmptyFile},
		{"too large", "report.pdf", 51 * 1024 * 1024, pdfHead, ErrFileTooLarge},
		{"bad extension", "report.exe", 1024, pdfHead, ErrUnsupportedType},
		{"pdf extension without magic", "report.pdf", 1024, []byte("MZ\x90\x00"), ErrNotAPDF},
		{"uppercase extension", "report.PDF", 1024, pdfHead, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.filename, tc.size, tc.head)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestValidatePDF_RejectsNonPDF(t *testing.T) {
	v := NewValidator(50 * 1024 * 1024)

	assert.ErrorIs(t, v.ValidatePDF("image.png", 1024, []byte("\x89PNG")), ErrUnsupportedType)
	assert.NoError(t, v.ValidatePDF("doc.pdf", 1024, []byte("%PDF-1.4")))
}

func TestSecureFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":            "report.pdf",
		"../../etc/passwd":      "passwd",
		"my file (1).pdf":       "my_file__1_.pdf",
		"..\\..\\win\\file.pdf": "win_file.pdf",
		"":                      "unnamed",
		"...":                   "unnamed",
		"résumé.pdf":            "r_sum_.pdf",
	}

	for input, want := range cases {
		assert.Equal(t, want, SecureFilename(input), "input %q", input)
	}
}

func TestStoredName_KeepsExtension(t *testing.T) {
	name := StoredName("Report Final.PDF")
	assert.True(t, strings.HasSuffix(name, ".pdf"))
	assert.NotContains(t, name, " ")
	assert.NotEqual(t, StoredName("a.pdf"), StoredName("a.pdf"))
}
