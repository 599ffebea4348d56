package dispatch

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/snackpdf/platform/internal/monitoring"
)

// BatchParams carries per-operation options for a batch run.
type BatchParams struct {
	Preset    CompressPreset // compress
	Languages []string       // ocr
	Format    string         // extract_text
	Angle     int            // rotate
}

// BatchItemResult is the outcome of one batch item. A failed item
// carries the error message; a successful one carries the result.
type BatchItemResult struct {
	Filename string  `json:"filename"`
	Success  bool    `json:"success"`
	Result   *Result `json:"-"`
	Error    string  `json:"error,omitempty"`
}

// BatchSummary aggregates batch outcomes. SuccessRate is a percentage.
type BatchSummary struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// BatchResult is the full outcome of a batch run.
type BatchResult struct {
	Results []BatchItemResult `json:"results"`
	Summary BatchSummary      `json:"summary"`
}

// batchOperations lists operations that may run in batch mode.
var batchOperations = map[string]bool{
	"compress":     true,
	"ocr":          true,
	"extract_text": true,
	"rotate":       true,
}

// Batch runs one operation across many files. A failing item never
// aborts its siblings; every file gets an individual verdict.
func (c *Client) Batch(ctx context.Context, operation string, files []InputFile, params BatchParams) (*BatchResult, error) {
	if len(files) == 0 {
		return nil, newRequestError("no files provided for batch processing")
	}
	if !batchOperations[operation] {
		return nil, newRequestError("unsupported batch operation: %q", operation)
	}

	results := make([]BatchItemResult, 0, len(files))
	successful := 0

	for i, file := range files {
		if file.Filename == "" {
			file.Filename = fmt.Sprintf("file_%d.pdf", i)
		}

		result, err := c.runBatchItem(ctx, operation, file, params)

		item := BatchItemResult{Filename: file.Filename}
		if err != nil {
			item.Error = err.Error()
			monitoring.RecordBatchItem(operation, "failed")
		} else {
			item.Success = true
			item.Result = result
			successful++
			monitoring.RecordBatchItem(operation, "ok")
		}
		results = append(results, item)
	}

	total := len(files)
	rate := decimal.NewFromInt(int64(successful)).
		Div(decimal.NewFromInt(int64(total))).
		Mul(decimal.NewFromInt(100)).
		Round(1)

	return &BatchResult{
		Results: results,
		Summary: BatchSummary{
			Total:       total,
			Successful:  successful,
			Failed:      total - successful,
			SuccessRate: rate.InexactFloat64(),
		},
	}, nil
}

func (c *Client) runBatchItem(ctx context.Context, operation string, file InputFile, params BatchParams) (*Result, error) {
	switch operation {
	case "compress":
		preset := params.Preset
		if preset == "" {
			preset = PresetBalanced
		}
		return c.Compress(ctx, file, preset)
	case "ocr":
		return c.OCR(ctx, file, OCROptions{Languages: params.Languages, RemoveBlanks: true})
	case "extract_text":
		return c.ExtractText(ctx, file, params.Format)
	case "rotate":
		angle := params.Angle
		if angle == 0 {
			angle = 90
		}
		return c.Rotate(ctx, file, angle, "all")
	default:
		return nil, newRequestError("unsupported batch operation: %q", operation)
	}
}
