package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/snackpdf/platform/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.ProcessingConfig{
		BaseURL: srv.URL,
		APIKey:  "svc-key",
		Timeout: 10 * time.Second,
	}, nil)
}

func pdfFile(name string) InputFile {
	return InputFile{Filename: name, Content: []byte("%PDF-1.7 " + name)}
}

func TestMerge(t *testing.T) {
	var gotPath string
	var fieldNames []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(10<<20))
		for name := range r.MultipartForm.File {
			fieldNames = append(fieldNames, name)
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="merged.pdf"`)
		w.Write([]byte("%PDF-merged"))
	})

	result, err := client.Merge(context.Background(), []InputFile{pdfFile("a.pdf"), pdfFile("b.pdf")})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/general/merge-pdfs", gotPath)
	assert.ElementsMatch(t, []string{"fileInput1", "fileInput2"}, fieldNames)
	assert.Equal(t, "merged.pdf", result.Filename)
	assert.Equal(t, []byte("%PDF-merged"), result.Content)
}

func TestMerge_RequiresTwoFiles(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("nothing should reach the service")
	})

	_, err := client.Merge(context.Background(), []InputFile{pdfFile("a.pdf")})
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Contains(t, reqErr.Message, "at least 2")
}

func TestCompress_PresetFields(t *testing.T) {
	var form map[string][]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(10<<20))
		form = r.MultipartForm.Value
		w.Write([]byte("%PDF-small"))
	})

	_, err := client.Compress(context.Background(), pdfFile("big.pdf"), PresetWeb)
	require.NoError(t, err)

	assert.Equal(t, "3", form["optimizeLevel"][0])
	assert.Equal(t, "60", form["imageQuality"][0])
	assert.Equal(t, "lossy", form["algorithm"][0])

	// Unknown presets fall back to balanced.
	_, err = client.Compress(context.Background(), pdfFile("big.pdf"), CompressPreset("bogus"))
	require.NoError(t, err)
	assert.Equal(t, "2", form["optimizeLevel"][0])
	assert.Equal(t, "75", form["imageQuality"][0])
}

func TestOCR_LanguageFiltering(t *testing.T) {
	var form map[string][]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(10<<20))
		form = r.MultipartForm.Value
		w.Write([]byte("%PDF-searchable"))
	})

	_, err := client.OCR(context.Background(), pdfFile("scan.pdf"), OCROptions{
		Languages: []string{"eng", "klingon", "deu"},
		DPI:       150,
	})
	require.NoError(t, err)
	assert.Equal(t, "eng,deu", form["languages"][0])
	assert.Equal(t, "150", form["dpi"][0])

	// All-invalid language lists fall back to English at 300 DPI.
	_, err = client.OCR(context.Background(), pdfFile("scan.pdf"), OCROptions{
		Languages: []string{"klingon"},
	})
	require.NoError(t, err)
	assert.Equal(t, "eng", form["languages"][0])
	assert.Equal(t, "300", form["dpi"][0])
}

func TestRotate_AngleValidation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-rotated"))
	})

	for _, angle := range []int{90, 180, 270} {
		_, err := client.Rotate(context.Background(), pdfFile("doc.pdf"), angle, "all")
		assert.NoError(t, err, "angle %d", angle)
	}

	for _, angle := range []int{0, 45, 360, -90} {
		_, err := client.Rotate(context.Background(), pdfFile("doc.pdf"), angle, "all")
		var reqErr *RequestError
		assert.ErrorAs(t, err, &reqErr, "angle %d", angle)
	}
}

func TestExtractText_FormatRouting(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("text"))
	})

	cases := map[string]string{
		"":     "/api/v1/convert/pdf/txt",
		"txt":  "/api/v1/convert/pdf/txt",
		"json": "/api/v1/convert/pdf/json",
		"xml":  "/api/v1/convert/pdf/xml",
	}
	for format, wantPath := range cases {
		_, err := client.ExtractText(context.Background(), pdfFile("doc.pdf"), format)
		require.NoError(t, err)
		assert.Equal(t, wantPath, gotPath, "format %q", format)
	}

	_, err := client.ExtractText(context.Background(), pdfFile("doc.pdf"), "csv")
	var reqErr *RequestError
	assert.ErrorAs(t, err, &reqErr)
}

func TestUpstreamError_PreservesStatusAndBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte("corrupt xref table"))
	})

	_, err := client.Compress(context.Background(), pdfFile("broken.pdf"), PresetBalanced)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusUnprocessableEntity, upstream.Status)
	assert.Equal(t, "corrupt xref table", upstream.Body)
}

func TestCircuitBreaker_OpensOnServerErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})
	ctx := context.Background()

	// Drive the breaker past its failure threshold.
	for i := 0; i < 5; i++ {
		_, err := client.Split(ctx, pdfFile("doc.pdf"), "")
		var upstream *UpstreamError
		require.ErrorAs(t, err, &upstream)
	}

	_, err := client.Split(ctx, pdfFile("doc.pdf"), "")
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad input"))
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := client.Split(ctx, pdfFile("doc.pdf"), "")
		var upstream *UpstreamError
		require.ErrorAs(t, err, &upstream, "call %d should still reach the service", i)
		assert.Equal(t, http.StatusBadRequest, upstream.Status)
	}
}

func TestBatch_CorruptMiddleFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(10<<20))
		fh := r.MultipartForm.File["fileInput"][0]
		f, err := fh.Open()
		require.NoError(t, err)
		defer f.Close()
		content, _ := io.ReadAll(f)

		if !bytes.HasPrefix(content, []byte("%PDF")) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte("not a PDF"))
			return
		}
		w.Write([]byte("%PDF-compressed"))
	})

	files := []InputFile{
		pdfFile("first.pdf"),
		{Filename: "corrupt.pdf", Content: []byte("garbage bytes")},
		pdfFile("third.pdf"),
	}

	batch, err := client.Batch(context.Background(), "compress", files, BatchParams{Preset: PresetBalanced})
	require.NoError(t, err)

	require.Len(t, batch.Results, 3)
	assert.True(t, batch.Results[0].Success)
	assert.False(t, batch.Results[1].Success)
	assert.Contains(t, batch.Results[1].Error, "not a PDF")
	assert.True(t, batch.Results[2].Success, "a corrupt sibling must not abort later items")

	assert.Equal(t, 3, batch.Summary.Total)
	assert.Equal(t, 2, batch.Summary.Successful)
	assert.Equal(t, 1, batch.Summary.Failed)
	assert.InDelta(t, 66.7, batch.Summary.SuccessRate, 0.1)
}

func TestBatch_Validation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	_, err := client.Batch(context.Background(), "compress", nil, BatchParams{})
	var reqErr *RequestError
	assert.ErrorAs(t, err, &reqErr)

	_, err = client.Batch(context.Background(), "merge", []InputFile{pdfFile("a.pdf")}, BatchParams{})
	assert.ErrorAs(t, err, &reqErr)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "none", classifyError(nil))
	assert.Equal(t, "upstream", classifyError(&UpstreamError{Status: 500}))
	assert.Equal(t, "timeout", classifyError(context.DeadlineExceeded))
	assert.Equal(t, "circuit_open", classifyError(ErrCircuitOpen))
	assert.Equal(t, "transport", classifyError(errors.New("connection refused")))
}
