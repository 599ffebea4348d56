package logging

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/snackpdf/platform/internal/config"
)

// Setup initializes the global logger based on configuration
func Setup(cfg *config.LoggingConfig, env, brand string) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer
	if cfg.Format == "json" || env == "production" {
		output = os.Stdout
	} else {
		// Pretty console output for development
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			NoColor:    false,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", brand).
		Logger()
}

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// RequestLogger is a Gin middleware for structured request logging
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID := c.GetString("request_id")

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 {
			event = log.Warn()
		}

		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// LogOperation logs a PDF operation dispatched to the processing service.
func LogOperation(requestID, userID, operation string, files int, latency time.Duration, status string, upstreamStatus int) {
	event := log.Info()
	if status == "error" {
		event = log.Error()
	}

	event.
		Str("request_id", requestID).
		Str("user_id", userID).
		Str("operation", operation).
		Int("files", files).
		Dur("latency", latency).
		Str("status", status).
		Int("upstream_status", upstreamStatus).
		Msg("PDF operation")
}

// LogDecision logs a policy gate decision.
func LogDecision(subjectID, action, policyID string, allowed bool, reason string) {
	event := log.Info()
	if !allowed {
		event = log.Warn()
	}

	event.
		Str("subject_id", subjectID).
		Str("action", action).
		Str("policy_id", policyID).
		Bool("allowed", allowed).
		Str("reason", reason).
		Msg("Policy decision")
}

// LogBillingEvent logs a payment processor event.
func LogBillingEvent(requestID, userID, eventType, subscriptionID, tier string) {
	log.Info().
		Str("request_id", requestID).
		Str("user_id", userID).
		Str("event_type", eventType).
		Str("subscription_id", subscriptionID).
		Str("tier", tier).
		Msg("Billing event")
}

// LogSecurityEvent logs security-related events
func LogSecurityEvent(eventType, userID, clientIP, details string) {
	log.Warn().
		Str("event_type", eventType).
		Str("user_id", userID).
		Str("client_ip", clientIP).
		Str("details", details).
		Msg("Security event")
}

// SanitizeForLog truncates long values before they reach the log
func SanitizeForLog(data string, maxLen int) string {
	if len(data) > maxLen {
		return data[:maxLen] + "...[truncated]"
	}
	return data
}
