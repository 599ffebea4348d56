package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/snackpdf/platform/internal/dispatch"
	apierrors "github.com/snackpdf/platform/internal/errors"
	"github.com/snackpdf/platform/internal/ingress"
	"github.com/snackpdf/platform/internal/policy"
)

// handleMerge combines the uploaded PDFs, in form order.
func (s *APIServer) handleMerge(c *gin.Context) {
	if !s.authorize(c, policy.ActionMerge) {
		return
	}

	files, ok := s.readPDFFiles(c, 2)
	if !ok {
		return
	}

	result, err := s.processor.Merge(c.Request.Context(), files)
	if err != nil {
		s.respondDispatchError(c, err)
		return
	}
	respondFile(c, result)
}

func (s *APIServer) handleSplit(c *gin.Context) {
	if !s.authorize(c, policy.ActionSplit) {
		return
	}

	files, ok := s.readPDFFiles(c, 1)
	if !ok {
		return
	}

	result, err := s.processor.Split(c.Request.Context(), files[0], c.PostForm("pages"))
	if err != nil {
		s.respondDispatchError(c, err)
		return
	}
	respondFile(c, result)
}

func (s *APIServer) handleCompress(c *gin.Context) {
	if !s.authorize(c, policy.ActionCompress) {
		return
	}

	files, ok := s.readPDFFiles(c, 1)
	if !ok {
		return
	}

	preset := dispatch.CompressPreset(c.DefaultPostForm("preset", "balanced"))
	result, err := s.processor.Compress(c.Request.Context(), files[0], preset)
	if err != nil {
		s.respondDispatchError(c, err)
		return
	}
	respondFile(c, result)
}

// handleConvert turns an office document or image into a PDF. The only
// operation that accepts non-PDF input.
func (s *APIServer) handleConvert(c *gin.Context) {
	if !s.authorize(c, policy.ActionConvert) {
		return
	}

	file, ok := s.readAnyFile(c)
	if !ok {
		return
	}

	result, err := s.processor.Convert(c.Request.Context(), file)
	if err != nil {
		s.respondDispatchError(c, err)
		return
	}
	respondFile(c, result)
}

func (s *APIServer) handleOCR(c *gin.Context) {
	if !s.authorize(c, policy.ActionOCR) {
		return
	}

	files, ok := s.readPDFFiles(c, 1)
	if !ok {
		return
	}

	opts := dispatch.OCROptions{
		Languages: c.PostFormArray("languages"),
		Type:      c.PostForm("ocr_type"),
	}
	if dpi := c.PostForm("dpi"); dpi != "" {
		if parsed, err := strconv.Atoi(dpi); err == nil {
			opts.DPI = parsed
		}
	}

	result, err := s.processor.OCR(c.Request.Context(), files[0], opts)
	if err != nil {
		s.respondDispatchError(c, err)
		return
	}
	respondFile(c, result)
}

func (s *APIServer) handleExtractText(c *gin.Context) {
	if !s.authorize(c, policy.ActionExtractText) {
		return
	}

	files, ok := s.readPDFFiles(c, 1)
	if !ok {
		return
	}

	format := c.DefaultPostForm("format", "txt")
	result, err := s.processor.ExtractText(c.Request.Context(), files[0], format)
	if err != nil {
		s.respondDispatchError(c, err)
		return
	}
	respondFile(c, result)
}

func (s *APIServer) handleRotate(c *gin.Context) {
	if !s.authorize(c, policy.ActionRotate) {
		return
	}

	files, ok := s.readPDFFiles(c, 1)
	if !ok {
		return
	}

	angle, err := strconv.Atoi(c.DefaultPostForm("angle", "90"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("angle must be an integer"))
		return
	}

	result, err := s.processor.Rotate(c.Request.Context(), files[0], angle, c.PostForm("pages"))
	if err != nil {
		s.respondDispatchError(c, err)
		return
	}
	respondFile(c, result)
}

func (s *APIServer) handleWatermark(c *gin.Context) {
	if !s.authorize(c, policy.ActionWatermark) {
		return
	}

	files, ok := s.readPDFFiles(c, 1)
	if !ok {
		return
	}

	opts := dispatch.WatermarkOptions{Text: c.PostForm("text")}
	if opacity := c.PostForm("opacity"); opacity != "" {
		if parsed, err := strconv.ParseFloat(opacity, 64); err == nil {
			opts.Opacity = parsed
		}
	}
	if fontSize := c.PostForm("font_size"); fontSize != "" {
		if parsed, err := strconv.Atoi(fontSize); err == nil {
			opts.FontSize = parsed
		}
	}

	result, err := s.processor.Watermark(c.Request.Context(), files[0], opts)
	if err != nil {
		s.respondDispatchError(c, err)
		return
	}
	respondFile(c, result)
}

func (s *APIServer) handleProtect(c *gin.Context) {
	if !s.authorize(c, policy.ActionProtect) {
		return
	}

	files, ok := s.readPDFFiles(c, 1)
	if !ok {
		return
	}

	password := c.PostForm("password")
	if password == "" {
		respondError(c, apierrors.NewInvalidRequestError("password is required"))
		return
	}

	result, err := s.processor.Protect(c.Request.Context(), files[0], password, c.PostFormArray("permissions"))
	if err != nil {
		s.respondDispatchError(c, err)
		return
	}
	respondFile(c, result)
}

func (s *APIServer) handleUnprotect(c *gin.Context) {
	if !s.authorize(c, policy.ActionProtect) {
		return
	}

	files, ok := s.readPDFFiles(c, 1)
	if !ok {
		return
	}

	password := c.PostForm("password")
	if password == "" {
		respondError(c, apierrors.NewInvalidRequestError("password is required"))
		return
	}

	result, err := s.processor.Unprotect(c.Request.Context(), files[0], password)
	if err != nil {
		s.respondDispatchError(c, err)
		return
	}
	respondFile(c, result)
}

// handleBatch runs one operation over every uploaded file. Items fail
// independently; the response always carries all per-item verdicts.
func (s *APIServer) handleBatch(c *gin.Context) {
	if !s.authorize(c, policy.ActionBatch) {
		return
	}

	operation := c.PostForm("operation")
	files, ok := s.readPDFFiles(c, 1)
	if !ok {
		return
	}

	params := dispatch.BatchParams{
		Preset:    dispatch.CompressPreset(c.PostForm("preset")),
		Languages: c.PostFormArray("languages"),
		Format:    c.PostForm("format"),
	}
	if angle := c.PostForm("angle"); angle != "" {
		if parsed, err := strconv.Atoi(angle); err == nil {
			params.Angle = parsed
		}
	}

	result, err := s.processor.Batch(c.Request.Context(), operation, files, params)
	if err != nil {
		s.respondDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// readPDFFiles reads and validates at least min PDF files from the
// "files" multipart field, falling back to a single "file" field.
func (s *APIServer) readPDFFiles(c *gin.Context, min int) ([]dispatch.InputFile, bool) {
	files, ok := s.readUploads(c, true)
	if !ok {
		return nil, false
	}
	if len(files) < min {
		respondError(c, apierrors.NewInvalidRequestError(
			fmt.Sprintf("operation requires at least %d file(s)", min)))
		return nil, false
	}
	return files, true
}

// readAnyFile reads one file of any supported upload type.
func (s *APIServer) readAnyFile(c *gin.Context) (dispatch.InputFile, bool) {
	files, ok := s.readUploads(c, false)
	if !ok {
		return dispatch.InputFile{}, false
	}
	if len(files) != 1 {
		respondError(c, apierrors.NewInvalidRequestError("exactly one file is required"))
		return dispatch.InputFile{}, false
	}
	return files[0], true
}

func (s *APIServer) readUploads(c *gin.Context, pdfOnly bool) ([]dispatch.InputFile, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("multipart form required"))
		return nil, false
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		headers = form.File["file"]
	}
	if len(headers) == 0 {
		respondError(c, apierrors.NewInvalidRequestError("no files provided"))
		return nil, false
	}

	files := make([]dispatch.InputFile, 0, len(headers))
	for _, header := range headers {
		content, err := readUpload(header)
		if err != nil {
			respondError(c, apierrors.ErrInternalServerError)
			return nil, false
		}

		name := ingress.SecureFilename(header.Filename)
		if pdfOnly {
			err = s.validator.ValidatePDF(name, header.Size, content)
		} else {
			err = s.validator.Validate(name, header.Size, content)
		}
		if err != nil {
			respondError(c, validationAPIError(err))
			return nil, false
		}

		files = append(files, dispatch.InputFile{Filename: name, Content: content})
	}
	return files, true
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// validationAPIError maps ingress validation failures to API errors.
func validationAPIError(err error) *apierrors.APIError {
	switch {
	case errors.Is(err, ingress.ErrFileTooLarge):
		return &apierrors.APIError{
			Code:       apierrors.ErrFileTooLarge,
			Message:    err.Error(),
			HTTPStatus: http.StatusRequestEntityTooLarge,
		}
	case errors.Is(err, ingress.ErrUnsupportedType), errors.Is(err, ingress.ErrNotAPDF):
		return &apierrors.APIError{
			Code:       apierrors.ErrUnsupportedType,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadRequest,
		}
	default:
		return apierrors.NewValidationError(err.Error())
	}
}

// respondDispatchError maps processing-service failures onto the error
// taxonomy: upstream status preserved, timeouts distinguishable, open
// breaker as unavailable.
func (s *APIServer) respondDispatchError(c *gin.Context, err error) {
	var upErr *dispatch.UpstreamError
	var reqErr *dispatch.RequestError
	switch {
	case errors.As(err, &upErr):
		respondError(c, apierrors.NewUpstreamError(upErr.Status, upErr.Body))
	case errors.As(err, &reqErr):
		respondError(c, apierrors.NewInvalidRequestError(reqErr.Message))
	case errors.Is(err, dispatch.ErrCircuitOpen):
		respondError(c, apierrors.ErrUpstreamUnavailableError)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, apierrors.ErrUpstreamTimeoutError)
	default:
		respondError(c, apierrors.ErrInternalServerError)
	}
}

// respondFile streams an operation result back to the client.
func respondFile(c *gin.Context, result *dispatch.Result) {
	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, contentType, result.Content)
}
