package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apierrors "github.com/snackpdf/platform/internal/errors"
	"github.com/snackpdf/platform/internal/ingress"
	"github.com/snackpdf/platform/internal/middleware"
	"github.com/snackpdf/platform/internal/models"
	"github.com/snackpdf/platform/internal/monitoring"
	"github.com/snackpdf/platform/internal/policy"
)

// handleUploadFile validates the upload, stores the bytes in the blob
// store, and records the metadata row. Uploads count against the
// subject's quota like any other gated action.
func (s *APIServer) handleUploadFile(c *gin.Context) {
	if !s.authorize(c, policy.ActionUpload) {
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("no file provided"))
		return
	}

	content, err := readUpload(header)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	originalName := ingress.SecureFilename(header.Filename)
	if err := s.validator.Validate(originalName, header.Size, content); err != nil {
		respondError(c, validationAPIError(err))
		return
	}

	storedName := ingress.StoredName(originalName)
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ctx := c.Request.Context()
	if err := s.blobs.Upload(ctx, storedName, contentType, content); err != nil {
		respondError(c, apierrors.ErrUpstreamUnavailableError)
		return
	}

	file := &models.FileObject{
		UserID:       &userID,
		OriginalName: originalName,
		StoredName:   storedName,
		ContentType:  contentType,
		SizeBytes:    header.Size,
		IsPDF:        s.validator.ValidatePDF(originalName, header.Size, content) == nil,
		ExpiresAt:    time.Now().Add(s.config.Storage.UploadTTL),
	}
	if err := s.files.Create(ctx, file); err != nil {
		// The metadata row failed; remove the orphaned blob.
		_ = s.blobs.Delete(ctx, storedName)
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	monitoring.RecordFileSize("upload", header.Size)
	c.JSON(http.StatusCreated, file)
}

func (s *APIServer) handleListFiles(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	files, err := s.files.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{"files": files, "count": len(files)})
}

func (s *APIServer) handleGetFile(c *gin.Context) {
	file, ok := s.ownedFile(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, file)
}

// handleDownloadFile returns a short-lived signed URL. Documents with
// an attached policy are gated per download.
func (s *APIServer) handleDownloadFile(c *gin.Context) {
	file, ok := s.ownedFile(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	docPolicy, err := s.policies.ForDocument(ctx, file.ID)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	if docPolicy != nil {
		subject := middleware.GetSubjectFromContext(c)
		start := time.Now()
		decision, err := s.gate.Evaluate(ctx, subject, policy.ActionDownload, docPolicy, time.Now())
		if err != nil {
			respondError(c, apierrors.ErrInternalServerError)
			return
		}
		monitoring.RecordGateDecision(policy.ActionDownload, decision.Allowed, decision.Reason, time.Since(start))
		if !decision.Allowed {
			respondError(c, apierrors.NewDeniedError(decision.Reason))
			return
		}
	}

	url, err := s.blobs.SignedURL(ctx, file.StoredName, s.config.Storage.SignedURLTTL)
	if err != nil {
		respondError(c, apierrors.ErrUpstreamUnavailableError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"expires_in": int64(s.config.Storage.SignedURLTTL.Seconds()),
	})
}

func (s *APIServer) handleDeleteFile(c *gin.Context) {
	file, ok := s.ownedFile(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := s.blobs.Delete(ctx, file.StoredName); err != nil {
		respondError(c, apierrors.ErrUpstreamUnavailableError)
		return
	}
	if err := s.files.Delete(ctx, file.ID); err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "File deleted"})
}

// ownedFile loads the :id path file and enforces ownership.
func (s *APIServer) ownedFile(c *gin.Context) (*models.FileObject, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return nil, false
	}

	fileID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("invalid file id"))
		return nil, false
	}

	file, err := s.files.GetOwned(c.Request.Context(), fileID, userID)
	if err != nil {
		switch {
		case errors.Is(err, ingress.ErrFileNotFound):
			respondError(c, apierrors.ErrFileNotFoundError)
		case errors.Is(err, ingress.ErrFileNotOwned):
			respondError(c, apierrors.ErrForbiddenError)
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return nil, false
	}
	return file, true
}
