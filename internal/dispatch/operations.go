package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Operation endpoints on the processing service.
const (
	endpointMerge       = "/api/v1/general/merge-pdfs"
	endpointSplit       = "/api/v1/general/split-pages"
	endpointCompress    = "/api/v1/general/compress-pdf"
	endpointRotate      = "/api/v1/general/rotate-pdf"
	endpointConvert     = "/api/v1/convert/file/pdf"
	endpointOCR         = "/api/v1/convert/pdf/ocr"
	endpointWatermark   = "/api/v1/security/add-watermark"
	endpointAddPass     = "/api/v1/security/add-password"
	endpointRemovePass  = "/api/v1/security/remove-password"
	endpointExtractTxt  = "/api/v1/convert/pdf/txt"
	endpointExtractJSON = "/api/v1/convert/pdf/json"
	endpointExtractXML  = "/api/v1/convert/pdf/xml"
)

// CompressPreset names a compression profile.
type CompressPreset string

const (
	PresetWeb      CompressPreset = "web"
	PresetPrint    CompressPreset = "print"
	PresetArchive  CompressPreset = "archive"
	PresetBalanced CompressPreset = "balanced"
	PresetMaximum  CompressPreset = "maximum"
)

type compressSettings struct {
	optimizationLevel int
	quality           int
	algorithm         string
}

// compressPresets maps a named profile to concrete settings.
var compressPresets = map[CompressPreset]compressSettings{
	PresetWeb:      {optimizationLevel: 3, quality: 60, algorithm: "lossy"},
	PresetPrint:    {optimizationLevel: 2, quality: 85, algorithm: "hybrid"},
	PresetArchive:  {optimizationLevel: 4, quality: 40, algorithm: "lossy"},
	PresetBalanced: {optimizationLevel: 2, quality: 75, algorithm: "auto"},
	PresetMaximum:  {optimizationLevel: 4, quality: 30, algorithm: "lossy"},
}

// supportedOCRLanguages lists tesseract language codes the service accepts.
var supportedOCRLanguages = map[string]bool{
	"eng": true, "fra": true, "deu": true, "spa": true, "ita": true,
	"por": true, "rus": true, "chi_sim": true, "chi_tra": true,
	"jpn": true, "kor": true, "ara": true, "hin": true, "tha": true,
	"vie": true, "nld": true, "swe": true, "dan": true, "nor": true,
}

// convertContentTypes maps source extensions to the MIME type sent to
// the convert endpoint.
var convertContentTypes = map[string]string{
	".doc":  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// InputFile is one source document for an operation.
type InputFile struct {
	Filename string
	Content  []byte
}

// Merge combines two or more PDFs into one document, in input order.
func (c *Client) Merge(ctx context.Context, files []InputFile) (*Result, error) {
	if len(files) < 2 {
		return nil, newRequestError("at least 2 PDF files are required for merging, got %d", len(files))
	}

	parts := make([]FilePart, len(files))
	for i, f := range files {
		parts[i] = FilePart{
			Field:    fmt.Sprintf("fileInput%d", i+1),
			Filename: f.Filename,
			Content:  f.Content,
		}
	}

	return c.do(ctx, "merge", endpointMerge, parts, nil)
}

// Split separates a PDF into pages. An empty pages spec splits every
// page; otherwise a range spec like "1-3,5,7-9" selects pages.
func (c *Client) Split(ctx context.Context, file InputFile, pages string) (*Result, error) {
	fields := map[string]string{}
	if pages != "" {
		fields["pages"] = pages
	}
	return c.do(ctx, "split", endpointSplit,
		[]FilePart{{Field: "fileInput", Filename: file.Filename, Content: file.Content}}, fields)
}

// Compress shrinks a PDF using a named preset. Unknown presets fall
// back to balanced.
func (c *Client) Compress(ctx context.Context, file InputFile, preset CompressPreset) (*Result, error) {
	settings, ok := compressPresets[preset]
	if !ok {
		settings = compressPresets[PresetBalanced]
	}

	fields := map[string]string{
		"optimizeLevel":  strconv.Itoa(settings.optimizationLevel),
		"imageQuality":   strconv.Itoa(settings.quality),
		"algorithm":      settings.algorithm,
		"removeMetadata": "true",
		"linearize":      "true",
	}

	return c.do(ctx, "compress", endpointCompress,
		[]FilePart{{Field: "fileInput", Filename: file.Filename, Content: file.Content}}, fields)
}

// Convert turns an office document or image into a PDF.
func (c *Client) Convert(ctx context.Context, file InputFile) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if _, ok := convertContentTypes[ext]; !ok && ext != ".txt" && ext != ".html" {
		return nil, newRequestError("cannot convert %q to PDF", ext)
	}

	return c.do(ctx, "convert", endpointConvert,
		[]FilePart{{Field: "fileInput", Filename: file.Filename, Content: file.Content}}, nil)
}

// OCROptions tunes text recognition.
type OCROptions struct {
	Languages    []string
	DPI          int
	Type         string // auto, force-ocr, skip-text
	RemoveBlanks bool
}

// OCR makes a scanned PDF searchable. Unsupported languages are
// dropped; when none survive the service falls back to English.
func (c *Client) OCR(ctx context.Context, file InputFile, opts OCROptions) (*Result, error) {
	languages := make([]string, 0, len(opts.Languages))
	for _, lang := range opts.Languages {
		if supportedOCRLanguages[lang] {
			languages = append(languages, lang)
		}
	}
	if len(languages) == 0 {
		languages = []string{"eng"}
	}

	dpi := opts.DPI
	if dpi <= 0 {
		dpi = 300
	}
	ocrType := opts.Type
	if ocrType == "" {
		ocrType = "auto"
	}

	fields := map[string]string{
		"ocrType":      ocrType,
		"languages":    strings.Join(languages, ","),
		"dpi":          strconv.Itoa(dpi),
		"removeBlanks": strconv.FormatBool(opts.RemoveBlanks),
	}

	return c.do(ctx, "ocr", endpointOCR,
		[]FilePart{{Field: "fileInput", Filename: file.Filename, Content: file.Content}}, fields)
}

// ExtractText pulls text out of a PDF in txt, json or xml format.
func (c *Client) ExtractText(ctx context.Context, file InputFile, format string) (*Result, error) {
	endpoint := endpointExtractTxt
	switch format {
	case "", "txt":
		format = "txt"
	case "json":
		endpoint = endpointExtractJSON
	case "xml":
		endpoint = endpointExtractXML
	default:
		return nil, newRequestError("unsupported text format %q", format)
	}

	fields := map[string]string{
		"format": format,
	}

	return c.do(ctx, "extract_text", endpoint,
		[]FilePart{{Field: "fileInput", Filename: file.Filename, Content: file.Content}}, fields)
}

// Rotate turns pages by a right angle. pages is "all" or a spec like
// "1,3,5-7".
func (c *Client) Rotate(ctx context.Context, file InputFile, angle int, pages string) (*Result, error) {
	switch angle {
	case 90, 180, 270:
	default:
		return nil, newRequestError("rotation angle must be 90, 180 or 270, got %d", angle)
	}
	if pages == "" {
		pages = "all"
	}

	fields := map[string]string{
		"angle":       strconv.Itoa(angle),
		"pageNumbers": pages,
	}

	return c.do(ctx, "rotate", endpointRotate,
		[]FilePart{{Field: "fileInput", Filename: file.Filename, Content: file.Content}}, fields)
}

// WatermarkOptions tunes watermark placement.
type WatermarkOptions struct {
	Text     string
	Opacity  float64
	FontSize int
}

// Watermark stamps diagonal text across every page.
func (c *Client) Watermark(ctx context.Context, file InputFile, opts WatermarkOptions) (*Result, error) {
	if opts.Text == "" {
		return nil, newRequestError("watermark text is required")
	}
	opacity := opts.Opacity
	if opacity <= 0 || opacity > 1 {
		opacity = 0.5
	}
	fontSize := opts.FontSize
	if fontSize <= 0 {
		fontSize = 30
	}

	fields := map[string]string{
		"watermarkText": opts.Text,
		"opacity":       strconv.FormatFloat(opacity, 'f', 2, 64),
		"fontSize":      strconv.Itoa(fontSize),
		"rotation":      "45",
	}

	return c.do(ctx, "watermark", endpointWatermark,
		[]FilePart{{Field: "fileInput", Filename: file.Filename, Content: file.Content}}, fields)
}

// Protect encrypts a PDF with a password using AES-256.
func (c *Client) Protect(ctx context.Context, file InputFile, password string, permissions []string) (*Result, error) {
	if password == "" {
		return nil, newRequestError("password is required")
	}

	fields := map[string]string{
		"password":  password,
		"keyLength": "256",
	}
	for _, perm := range permissions {
		fields[perm] = "true"
	}

	return c.do(ctx, "protect", endpointAddPass,
		[]FilePart{{Field: "fileInput", Filename: file.Filename, Content: file.Content}}, fields)
}

// Unprotect removes password protection given the current password.
func (c *Client) Unprotect(ctx context.Context, file InputFile, password string) (*Result, error) {
	if password == "" {
		return nil, newRequestError("password is required")
	}

	fields := map[string]string{
		"password": password,
	}

	return c.do(ctx, "unprotect", endpointRemovePass,
		[]FilePart{{Field: "fileInput", Filename: file.Filename, Content: file.Content}}, fields)
}
