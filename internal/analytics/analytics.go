// Package analytics is the read side of the audit trail: group-by
// reports over recorded gate decisions. It never writes.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/snackpdf/platform/internal/models"
)

// Service runs aggregate queries over audit events.
type Service struct {
	db *pgxpool.Pool
}

// NewService creates an analytics service.
func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// Period bounds a report. End is exclusive.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DefaultPeriod is the trailing 30 days.
func DefaultPeriod(now time.Time) Period {
	return Period{Start: now.AddDate(0, 0, -30), End: now}
}

// UsageStats aggregates decisions for the platform or one subject.
type UsageStats struct {
	Period            Period           `json:"period"`
	TotalEvents       int64            `json:"total_events"`
	AllowedEvents     int64            `json:"allowed_events"`
	DeniedEvents      int64            `json:"denied_events"`
	AllowRate         float64          `json:"allow_rate"`
	EventsByAction    map[string]int64 `json:"events_by_action"`
	EventsByDay       map[string]int64 `json:"events_by_day"`
	DenialsByReason   map[string]int64 `json:"denials_by_reason"`
	MostPopularAction string           `json:"most_popular_action,omitempty"`
}

// Usage reports decision volume for the period. A nil subjectID means
// the whole platform.
func (s *Service) Usage(ctx context.Context, subjectID *string, period Period) (*UsageStats, error) {
	stats := &UsageStats{
		Period:          period,
		EventsByAction:  make(map[string]int64),
		EventsByDay:     make(map[string]int64),
		DenialsByReason: make(map[string]int64),
	}

	rows, err := s.db.Query(ctx, `
		SELECT action, allowed, COUNT(*)
		FROM audit_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		  AND ($3::text IS NULL OR subject_id = $3)
		GROUP BY action, allowed
	`, period.Start, period.End, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events by action: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action string
		var allowed bool
		var count int64
		if err := rows.Scan(&action, &allowed, &count); err != nil {
			return nil, fmt.Errorf("failed to scan action aggregate: %w", err)
		}
		stats.EventsByAction[action] += count
		stats.TotalEvents += count
		if allowed {
			stats.AllowedEvents += count
		} else {
			stats.DeniedEvents += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action aggregates: %w", err)
	}

	stats.EventsByDay, err = s.countByDay(ctx, subjectID, period)
	if err != nil {
		return nil, err
	}

	stats.DenialsByReason, err = s.denialsByReason(ctx, subjectID, period)
	if err != nil {
		return nil, err
	}

	stats.AllowRate = ratePercent(stats.AllowedEvents, stats.TotalEvents)
	stats.MostPopularAction = mostFrequent(stats.EventsByAction)
	return stats, nil
}

// SubjectReport is per-user (or per-key) usage detail.
type SubjectReport struct {
	SubjectID        string           `json:"subject_id"`
	Period           Period           `json:"period"`
	TotalOperations  int64            `json:"total_operations"`
	FavoriteAction   string           `json:"favorite_action,omitempty"`
	OperationsByDay  map[string]int64 `json:"operations_by_day"`
	AveragePerDay    float64          `json:"average_per_day"`
	OperationsByType map[string]int64 `json:"operations_by_type"`
	DeniedOperations int64            `json:"denied_operations"`
}

// ForSubject reports one subject's activity over the period.
func (s *Service) ForSubject(ctx context.Context, subjectID string, period Period) (*SubjectReport, error) {
	usage, err := s.Usage(ctx, &subjectID, period)
	if err != nil {
		return nil, err
	}

	days := period.End.Sub(period.Start).Hours() / 24
	if days < 1 {
		days = 1
	}

	return &SubjectReport{
		SubjectID:        subjectID,
		Period:           period,
		TotalOperations:  usage.TotalEvents,
		FavoriteAction:   usage.MostPopularAction,
		OperationsByDay:  usage.EventsByDay,
		AveragePerDay:    roundTo(float64(usage.TotalEvents)/days, 2),
		OperationsByType: usage.EventsByAction,
		DeniedOperations: usage.DeniedEvents,
	}, nil
}

// APIUsageReport aggregates API-key traffic.
type APIUsageReport struct {
	Period          Period           `json:"period"`
	TotalRequests   int64            `json:"total_requests"`
	AllowedRequests int64            `json:"allowed_requests"`
	AllowRate       float64          `json:"allow_rate"`
	RequestsByKey   map[string]int64 `json:"requests_by_key"`
	RequestsByType  map[string]int64 `json:"requests_by_type"`
	MostUsedAction  string           `json:"most_used_action,omitempty"`
}

// APIUsage reports traffic attributed to API-key subjects, per key and
// per action.
func (s *Service) APIUsage(ctx context.Context, period Period) (*APIUsageReport, error) {
	report := &APIUsageReport{
		Period:         period,
		RequestsByKey:  make(map[string]int64),
		RequestsByType: make(map[string]int64),
	}

	rows, err := s.db.Query(ctx, `
		SELECT COALESCE(subject_id, ''), action, allowed, COUNT(*)
		FROM audit_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		  AND metadata->>'subject_class' = $3
		GROUP BY subject_id, action, allowed
	`, period.Start, period.End, string(models.SubjectAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate API usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var keyID, action string
		var allowed bool
		var count int64
		if err := rows.Scan(&keyID, &action, &allowed, &count); err != nil {
			return nil, fmt.Errorf("failed to scan API usage aggregate: %w", err)
		}
		if keyID != "" {
			report.RequestsByKey[keyID] += count
		}
		report.RequestsByType[action] += count
		report.TotalRequests += count
		if allowed {
			report.AllowedRequests += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API usage aggregates: %w", err)
	}

	report.AllowRate = ratePercent(report.AllowedRequests, report.TotalRequests)
	report.MostUsedAction = mostFrequent(report.RequestsByType)
	return report, nil
}

func (s *Service) countByDay(ctx context.Context, subjectID *string, period Period) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT to_char(occurred_at, 'YYYY-MM-DD') AS day, COUNT(*)
		FROM audit_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		  AND ($3::text IS NULL OR subject_id = $3)
		GROUP BY day
	`, period.Start, period.End, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events by day: %w", err)
	}
	defer rows.Close()

	byDay := make(map[string]int64)
	for rows.Next() {
		var day string
		var count int64
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("failed to scan day aggregate: %w", err)
		}
		byDay[day] = count
	}
	return byDay, rows.Err()
}

func (s *Service) denialsByReason(ctx context.Context, subjectID *string, period Period) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT reason, COUNT(*)
		FROM audit_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		  AND NOT allowed AND reason IS NOT NULL
		  AND ($3::text IS NULL OR subject_id = $3)
		GROUP BY reason
	`, period.Start, period.End, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate denials: %w", err)
	}
	defer rows.Close()

	byReason := make(map[string]int64)
	for rows.Next() {
		var reason string
		var count int64
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("failed to scan denial aggregate: %w", err)
		}
		byReason[reason] = count
	}
	return byReason, rows.Err()
}

// ratePercent is numerator/denominator as a percentage rounded to two
// places. Zero denominator means zero, not NaN.
func ratePercent(numerator, denominator int64) float64 {
	if denominator == 0 {
		return 0
	}
	return decimal.NewFromInt(numerator).
		Div(decimal.NewFromInt(denominator)).
		Mul(decimal.NewFromInt(100)).
		Round(2).
		InexactFloat64()
}

func roundTo(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// mostFrequent picks the highest-count key. Ties break lexically so the
// result is deterministic.
func mostFrequent(counts map[string]int64) string {
	best := ""
	var bestCount int64 = -1
	for key, count := range counts {
		if count > bestCount || (count == bestCount && key < best) {
			best = key
			bestCount = count
		}
	}
	return best
}
