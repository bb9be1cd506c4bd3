package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/observability"
)

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrDuplicateDigest    = errors.New("credential digest already exists")
)

type CredentialRepository interface {
	Insert(ctx context.Context, c *domain.Credential) error
	FindActiveByDigest(ctx context.Context, digest string) (*domain.Credential, error)
	FindByDigest(ctx context.Context, digest string) (*domain.Credential, error)
	TouchUsage(ctx context.Context, id string) error
	Revoke(ctx context.Context, id, reason string) (bool, error)
	RevokeAllForOwner(ctx context.Context, ownerID uint, reason string) (int64, error)
	SupersedeOwnerKind(ctx context.Context, ownerID uint, kind domain.CredentialKind, reason string) (int64, error)
	ListActiveByOwner(ctx context.Context, ownerID uint) ([]domain.Credential, error)
	DeleteExpired(ctx context.Context, kinds ...domain.CredentialKind) (int64, error)
	DeleteRevokedOlderThan(ctx context.Context, age time.Duration) (int64, error)
	DeleteOverused(ctx context.Context, thresholds map[domain.CredentialKind]int64) (int64, error)
	DeleteForInactiveOwners(ctx context.Context, inactivity time.Duration) (int64, error)
	Stats(ctx context.Context) (domain.CredentialStats, error)
}

type GormCredentialRepository struct{ db *gorm.DB }

func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &GormCredentialRepository{db: db}
}

func (r *GormCredentialRepository) Insert(ctx context.Context, c *domain.Credential) error {
	err := r.db.WithContext(ctx).Create(c).Error
	if err != nil {
		if isUniqueViolation(err) {
			observability.RecordRepositoryOperation(ctx, "credential", "insert", "duplicate")
			return ErrDuplicateDigest
		}
		observability.RecordRepositoryOperation(ctx, "credential", "insert", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "credential", "insert", "success")
	return nil
}

func (r *GormCredentialRepository) FindActiveByDigest(ctx context.Context, digest string) (*domain.Credential, error) {
	var c domain.Credential
	err := r.db.WithContext(ctx).
		Where("digest = ? AND is_active = ? AND expires_at > ?", digest, true, time.Now()).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "credential", "find_active_by_digest", "not_found")
			return nil, ErrCredentialNotFound
		}
		observability.RecordRepositoryOperation(ctx, "credential", "find_active_by_digest", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "credential", "find_active_by_digest", "success")
	return &c, nil
}

func (r *GormCredentialRepository) FindByDigest(ctx context.Context, digest string) (*domain.Credential, error) {
	var c domain.Credential
	err := r.db.WithContext(ctx).Where("digest = ?", digest).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "credential", "find_by_digest", "not_found")
			return nil, ErrCredentialNotFound
		}
		observability.RecordRepositoryOperation(ctx, "credential", "find_by_digest", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "credential", "find_by_digest", "success")
	return &c, nil
}

// TouchUsage increments usage_count inside the database so concurrent
// verifications of the same credential never lose updates.
func (r *GormCredentialRepository) TouchUsage(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Model(&domain.Credential{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"usage_count":  gorm.Expr("usage_count + ?", 1),
			"last_used_at": time.Now().UTC(),
		}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "credential", "touch_usage", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "credential", "touch_usage", "success")
	return nil
}

// Revoke deactivates a single record. Revoking something already revoked or
// missing reports changed=false with a nil error.
func (r *GormCredentialRepository) Revoke(ctx context.Context, id, reason string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Credential{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{"is_active": false, "revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "credential", "revoke", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "credential", "revoke", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormCredentialRepository) RevokeAllForOwner(ctx context.Context, ownerID uint, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Credential{}).
		Where("owner_id = ? AND is_active = ?", ownerID, true).
		Updates(map[string]any{"is_active": false, "revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "credential", "revoke_all_for_owner", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "credential", "revoke_all_for_owner", "success")
	return res.RowsAffected, nil
}

func (r *GormCredentialRepository) SupersedeOwnerKind(ctx context.Context, ownerID uint, kind domain.CredentialKind, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Credential{}).
		Where("owner_id = ? AND kind = ? AND is_active = ?", ownerID, kind, true).
		Updates(map[string]any{"is_active": false, "revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "credential", "supersede_owner_kind", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "credential", "supersede_owner_kind", "success")
	return res.RowsAffected, nil
}

func (r *GormCredentialRepository) ListActiveByOwner(ctx context.Context, ownerID uint) ([]domain.Credential, error) {
	var creds []domain.Credential
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND is_active = ? AND expires_at > ?", ownerID, true, time.Now()).
		Order("created_at DESC").
		Find(&creds).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "credential", "list_active_by_owner", "error")
		return creds, err
	}
	observability.RecordRepositoryOperation(ctx, "credential", "list_active_by_owner", "success")
	return creds, nil
}

// DeleteExpired removes records past their expiry, optionally narrowed to a
// set of kinds.
func (r *GormCredentialRepository) DeleteExpired(ctx context.Context, kinds ...domain.CredentialKind) (int64, error) {
	q := r.db.WithContext(ctx).Where("expires_at <= ?", time.Now())
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	res := q.Delete(&domain.Credential{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "credential", "delete_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "credential", "delete_expired", "success")
	return res.RowsAffected, nil
}

func (r *GormCredentialRepository) DeleteRevokedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	res := r.db.WithContext(ctx).
		Where("is_active = ? AND revoked_at IS NOT NULL AND revoked_at < ?", false, cutoff).
		Delete(&domain.Credential{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "credential", "delete_revoked_older_than", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "credential", "delete_revoked_older_than", "success")
	return res.RowsAffected, nil
}

// DeleteOverused removes records whose usage count exceeds the per-kind
// threshold. Kinds without an entry are left alone.
func (r *GormCredentialRepository) DeleteOverused(ctx context.Context, thresholds map[domain.CredentialKind]int64) (int64, error) {
	var total int64
	for kind, limit := range thresholds {
		res := r.db.WithContext(ctx).
			Where("kind = ? AND usage_count > ?", kind, limit).
			Delete(&domain.Credential{})
		if res.Error != nil {
			observability.RecordRepositoryOperation(ctx, "credential", "delete_overused", "error")
			return total, res.Error
		}
		total += res.RowsAffected
	}
	observability.RecordRepositoryOperation(ctx, "credential", "delete_overused", "success")
	return total, nil
}

// DeleteForInactiveOwners reclaims credentials belonging to accounts that
// have not logged in within the inactivity window (or never logged in at all
// and are older than it).
func (r *GormCredentialRepository) DeleteForInactiveOwners(ctx context.Context, inactivity time.Duration) (int64, error) {
	cutoff := time.Now().Add(-inactivity)
	sub := r.db.WithContext(ctx).Model(&domain.User{}).
		Select("id").
		Where("last_login_at < ? OR (last_login_at IS NULL AND created_at < ?)", cutoff, cutoff)
	res := r.db.WithContext(ctx).
		Where("owner_id IN (?)", sub).
		Delete(&domain.Credential{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "credential", "delete_for_inactive_owners", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "credential", "delete_for_inactive_owners", "success")
	return res.RowsAffected, nil
}

func (r *GormCredentialRepository) Stats(ctx context.Context) (domain.CredentialStats, error) {
	type row struct {
		Kind    domain.CredentialKind
		Total   int64
		Expired int64
		Revoked int64
		Active  int64
	}
	now := time.Now()
	var rows []row
	err := r.db.WithContext(ctx).Model(&domain.Credential{}).
		Select(`kind,
			COUNT(*) AS total,
			SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END) AS expired,
			SUM(CASE WHEN is_active = ? THEN 1 ELSE 0 END) AS revoked,
			SUM(CASE WHEN is_active = ? AND expires_at > ? THEN 1 ELSE 0 END) AS active`,
			now, false, true, now).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "credential", "stats", "error")
		return domain.CredentialStats{}, err
	}
	stats := domain.NewCredentialStats()
	for _, rw := range rows {
		stats.Total[rw.Kind] = rw.Total
		stats.Expired[rw.Kind] = rw.Expired
		stats.Revoked[rw.Kind] = rw.Revoked
		stats.Active[rw.Kind] = rw.Active
	}
	observability.RecordRepositoryOperation(ctx, "credential", "stats", "success")
	return stats, nil
}

// isUniqueViolation matches both the sqlite and postgres unique-constraint
// error shapes without depending on driver error types.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
