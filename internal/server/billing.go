package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/snackpdf/platform/internal/billing"
	apierrors "github.com/snackpdf/platform/internal/errors"
)

func (s *APIServer) handleListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": s.billingService.Plans()})
}

func (s *APIServer) handleCheckout(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req billing.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	resp, err := s.billingService.CreateCheckoutSession(c.Request.Context(), userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownPlan):
			respondError(c, apierrors.NewInvalidRequestError("Unknown subscription plan"))
		case errors.Is(err, billing.ErrUserNotFound):
			respondError(c, apierrors.ErrUserNotFoundError)
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handlePortal(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	url, err := s.billingService.CreatePortalSession(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrNoCustomer):
			respondError(c, apierrors.NewInvalidRequestError("No billing account for this user"))
		case errors.Is(err, billing.ErrUserNotFound):
			respondError(c, apierrors.ErrUserNotFoundError)
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"portal_url": url})
}

func (s *APIServer) handleGetSubscription(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	sub, err := s.billingService.GetSubscription(c.Request.Context(), userID)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	if sub == nil {
		c.JSON(http.StatusOK, gin.H{"subscription": nil, "tier": "free"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub, "tier": sub.Tier})
}

// handleStripeWebhook verifies the signature before anything else; an
// unsigned payload is rejected without being parsed.
func (s *APIServer) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("failed to read payload"))
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if err := s.billingService.HandleWebhook(c.Request.Context(), payload, signature); err != nil {
		if errors.Is(err, billing.ErrInvalidWebhookSig) {
			respondError(c, apierrors.NewInvalidRequestError("invalid webhook signature"))
			return
		}
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
