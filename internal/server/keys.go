package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/snackpdf/platform/internal/apikey"
	apierrors "github.com/snackpdf/platform/internal/errors"
	"github.com/snackpdf/platform/internal/monitoring"
)

func (s *APIServer) handleListAPIKeys(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	resp, err := s.apikeyService.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleCreateAPIKey(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req apikey.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	resp, err := s.apikeyService.Create(c.Request.Context(), userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, apikey.ErrMaxKeysReached):
			respondError(c, apierrors.NewInvalidRequestError("API key limit reached"))
		case errors.Is(err, apikey.ErrBadPermission):
			respondError(c, apierrors.NewValidationError(err.Error()))
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	monitoring.RecordAPIKeyCreated()
	c.JSON(http.StatusCreated, resp)
}

func (s *APIServer) handleDeleteAPIKey(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("invalid key id"))
		return
	}

	if err := s.apikeyService.Delete(c.Request.Context(), keyID, userID); err != nil {
		switch {
		case errors.Is(err, apikey.ErrAPIKeyNotFound), errors.Is(err, apikey.ErrAPIKeyNotOwned):
			respondError(c, apierrors.NewInvalidRequestError("API key not found"))
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
}
