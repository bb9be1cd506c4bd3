package domain

import "time"

// CredentialKind classifies the purpose of an issued credential. Each kind
// carries its own TTL policy and its own revocation stream.
type CredentialKind string

const (
	KindAccess            CredentialKind = "access"
	KindPasswordReset     CredentialKind = "password_reset"
	KindEmailVerification CredentialKind = "email_verification"
)

// Revocation reasons recorded alongside IsActive=false.
const (
	RevokeReasonLogout         = "logout"
	RevokeReasonLogoutAll      = "logout_all"
	RevokeReasonPasswordChange = "password_change"
	RevokeReasonSecurity       = "security"
	RevokeReasonExpired        = "expired"
	RevokeReasonManual         = "manual"
	RevokeReasonSuperseded     = "superseded"
)

// Credential is the persisted record behind every signed token the service
// hands out. The raw token is never stored: Digest is a SHA-256 of the full
// signed string and is the only lookup key, TruncatedValue keeps the last few
// characters for operator-facing listings.
type Credential struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	OwnerID        uint           `gorm:"index;not null" json:"owner_id"`
	Kind           CredentialKind `gorm:"size:32;index;not null" json:"kind"`
	Digest         string         `gorm:"size:64;uniqueIndex;not null" json:"-"`
	TruncatedValue string         `gorm:"size:16" json:"truncated_value"`
	IsActive       bool           `gorm:"index;not null;default:true" json:"is_active"`
	ExpiresAt      time.Time      `gorm:"index;not null" json:"expires_at"`
	LastUsedAt     *time.Time     `json:"last_used_at,omitempty"`
	UsageCount     int64          `gorm:"not null;default:0" json:"usage_count"`
	IPAddress      string         `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent      string         `gorm:"size:512" json:"user_agent,omitempty"`
	DeviceLabel    string         `gorm:"size:128" json:"device_label,omitempty"`
	RevokedAt      *time.Time     `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason  *string        `gorm:"size:64" json:"revoked_reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Usable reports whether the record alone would admit the credential. The
// signed token's own expiry is checked separately by the codec.
func (c *Credential) Usable(now time.Time) bool {
	return c.IsActive && c.ExpiresAt.After(now)
}

// Provenance captures where a credential was issued from. Audit only, never
// an authorization input.
type Provenance struct {
	IPAddress   string
	UserAgent   string
	DeviceLabel string
}

// CredentialStats is the per-kind aggregate the sweeper logs before and after
// each run.
type CredentialStats struct {
	Total   map[CredentialKind]int64 `json:"total"`
	Expired map[CredentialKind]int64 `json:"expired"`
	Revoked map[CredentialKind]int64 `json:"revoked"`
	Active  map[CredentialKind]int64 `json:"active"`
}

func NewCredentialStats() CredentialStats {
	return CredentialStats{
		Total:   map[CredentialKind]int64{},
		Expired: map[CredentialKind]int64{},
		Revoked: map[CredentialKind]int64{},
		Active:  map[CredentialKind]int64{},
	}
}

// TotalCount sums the per-kind totals.
func (s CredentialStats) TotalCount() int64 {
	var n int64
	for _, v := range s.Total {
		n += v
	}
	return n
}
