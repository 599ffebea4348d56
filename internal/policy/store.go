package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/snackpdf/platform/internal/models"
)

// Store errors
var (
	ErrPolicyNotFound = errors.New("policy not found")
	ErrPolicyRevoked  = errors.New("policy has been revoked")
	ErrDuplicateName  = errors.New("policy name already in use")
)

// Store resolves and administers policies. Resolution happens before
// the gate runs; a nil result means no policy is configured for the
// pair and the gate applies its default posture.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error)
	ForTier(ctx context.Context, tier models.Tier) (*models.Policy, error)
	ForSubjectClass(ctx context.Context, class models.SubjectClass) (*models.Policy, error)
	ForDocument(ctx context.Context, documentID uuid.UUID) (*models.Policy, error)
	ForTenantFeature(ctx context.Context, tenantID uuid.UUID) (*models.Policy, error)
	Create(ctx context.Context, pol *models.Policy) error
	Update(ctx context.Context, id uuid.UUID, name *string, maxCount *int64, expiresAt *time.Time) (*models.Policy, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	AttachToDocument(ctx context.Context, documentID, policyID uuid.UUID) error
	AttachToTenant(ctx context.Context, tenantID, policyID uuid.UUID) error
	List(ctx context.Context, kind models.PolicyKind) ([]models.Policy, error)
}

// PostgresStore is the production policy store.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed policy store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const policyColumns = `
	id, name, kind, subject_class, max_count, period_seconds,
	allowed_actions, expires_at, ip_allowlist, created_by,
	created_at, updated_at, revoked_at`

func scanPolicy(row pgx.Row) (*models.Policy, error) {
	var pol models.Policy
	var periodSeconds int64
	err := row.Scan(
		&pol.ID, &pol.Name, &pol.Kind, &pol.SubjectClass, &pol.MaxCount, &periodSeconds,
		&pol.AllowedActions, &pol.ExpiresAt, &pol.IPAllowlist, &pol.CreatedBy,
		&pol.CreatedAt, &pol.UpdatedAt, &pol.RevokedAt,
	)
	if err != nil {
		return nil, err
	}
	pol.PeriodLength = time.Duration(periodSeconds) * time.Second
	return &pol, nil
}

// GetByID returns a policy by id, including revoked ones.
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	pol, err := scanPolicy(s.db.QueryRow(ctx, `
		SELECT `+policyColumns+` FROM policies WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return pol, nil
}

// ForTier resolves the active usage policy for a subscription tier.
// Tier policies follow the "tier:<name>" naming convention seeded by
// the migrations. Returns nil when none is configured.
func (s *PostgresStore) ForTier(ctx context.Context, tier models.Tier) (*models.Policy, error) {
	pol, err := scanPolicy(s.db.QueryRow(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE name = $1 AND kind = 'usage' AND revoked_at IS NULL
	`, "tier:"+string(tier)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve tier policy: %w", err)
	}
	return pol, nil
}

// ForSubjectClass resolves the usage policy applied to a whole subject
// class, such as anonymous visitors or API keys. Class policies follow
// the "class:<name>" naming convention. Returns nil when none is
// configured.
func (s *PostgresStore) ForSubjectClass(ctx context.Context, class models.SubjectClass) (*models.Policy, error) {
	pol, err := scanPolicy(s.db.QueryRow(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE name = $1 AND kind = 'usage' AND revoked_at IS NULL
	`, "class:"+string(class)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve class policy: %w", err)
	}
	return pol, nil
}

// ForDocument resolves the DRM policy attached to a document, nil when
// the document carries none.
func (s *PostgresStore) ForDocument(ctx context.Context, documentID uuid.UUID) (*models.Policy, error) {
	pol, err := scanPolicy(s.db.QueryRow(ctx, `
		SELECT `+policyColumns+` FROM policies p
		JOIN document_policies dp ON dp.policy_id = p.id
		WHERE dp.document_id = $1 AND p.revoked_at IS NULL
	`, documentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve document policy: %w", err)
	}
	return pol, nil
}

// ForTenantFeature resolves the feature policy for a tenant, nil when
// the tenant has no feature restrictions configured.
func (s *PostgresStore) ForTenantFeature(ctx context.Context, tenantID uuid.UUID) (*models.Policy, error) {
	pol, err := scanPolicy(s.db.QueryRow(ctx, `
		SELECT `+policyColumns+` FROM policies p
		JOIN tenant_policies tp ON tp.policy_id = p.id
		WHERE tp.tenant_id = $1 AND p.revoked_at IS NULL
	`, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve tenant feature policy: %w", err)
	}
	return pol, nil
}

// Create inserts a new policy. MaxCount and PeriodLength must be
// positive; the gate refuses anything else at evaluation time, so
// reject it here before it reaches storage.
func (s *PostgresStore) Create(ctx context.Context, pol *models.Policy) error {
	if pol.MaxCount <= 0 {
		return &ConfigurationError{Field: "max_count", Value: pol.MaxCount}
	}
	if pol.PeriodLength <= 0 {
		return &ConfigurationError{Field: "period_length", Value: int64(pol.PeriodLength)}
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO policies (name, kind, subject_class, max_count, period_seconds,
			allowed_actions, expires_at, ip_allowlist, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, pol.Name, pol.Kind, pol.SubjectClass, pol.MaxCount, int64(pol.PeriodLength/time.Second),
		pol.AllowedActions, pol.ExpiresAt, pol.IPAllowlist, pol.CreatedBy,
	).Scan(&pol.ID, &pol.CreatedAt, &pol.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return nil
}

// Update applies an administrative edit. Only name, limits, and expiry
// are editable; everything else is immutable after creation.
func (s *PostgresStore) Update(ctx context.Context, id uuid.UUID, name *string, maxCount *int64, expiresAt *time.Time) (*models.Policy, error) {
	if maxCount != nil && *maxCount <= 0 {
		return nil, &ConfigurationError{Field: "max_count", Value: *maxCount}
	}

	pol, err := scanPolicy(s.db.QueryRow(ctx, `
		UPDATE policies SET
			name = COALESCE($2, name),
			max_count = COALESCE($3, max_count),
			expires_at = COALESCE($4, expires_at),
			updated_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
		RETURNING `+policyColumns+`
	`, id, name, maxCount, expiresAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to update policy: %w", err)
	}
	return pol, nil
}

// Revoke soft-deletes a policy.
func (s *PostgresStore) Revoke(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE policies SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

// AttachToDocument binds a DRM policy to a document, replacing any
// existing binding.
func (s *PostgresStore) AttachToDocument(ctx context.Context, documentID, policyID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO document_policies (document_id, policy_id)
		VALUES ($1, $2)
		ON CONFLICT (document_id) DO UPDATE SET policy_id = EXCLUDED.policy_id
	`, documentID, policyID)
	if err != nil {
		return fmt.Errorf("failed to attach policy to document: %w", err)
	}
	return nil
}

// AttachToTenant binds a feature policy to a tenant, replacing any
// existing binding.
func (s *PostgresStore) AttachToTenant(ctx context.Context, tenantID, policyID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tenant_policies (tenant_id, policy_id)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET policy_id = EXCLUDED.policy_id
	`, tenantID, policyID)
	if err != nil {
		return fmt.Errorf("failed to attach policy to tenant: %w", err)
	}
	return nil
}

// List returns all non-revoked policies of a kind.
func (s *PostgresStore) List(ctx context.Context, kind models.PolicyKind) ([]models.Policy, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE kind = $1 AND revoked_at IS NULL
		ORDER BY created_at DESC
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []models.Policy
	for rows.Next() {
		pol, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, *pol)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policies: %w", err)
	}
	return policies, nil
}

func isUniqueViolation(err error) bool {
	// 23505 is Postgres unique_violation
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
