package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/observability"
	"github.com/surveyforge/surveyforge-backend/internal/repository"
	"github.com/surveyforge/surveyforge-backend/internal/security"
)

var (
	ErrCredentialExpired   = errors.New("credential expired")
	ErrCredentialMalformed = errors.New("credential malformed")
	ErrCredentialRevoked   = errors.New("credential revoked")
	ErrOwnerInactive       = errors.New("owner account inactive")
	ErrWrongKind           = errors.New("unexpected credential kind")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)

const truncatedSuffixLen = 10

// IssuedCredential is what callers hand back to clients after issuance.
type IssuedCredential struct {
	Credential string    `json:"credential"`
	RecordID   string    `json:"record_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// VerifiedCredential is the result of a successful verification: the signed
// claims, the store record backing them, and a snapshot of the owner account.
type VerifiedCredential struct {
	Claims *security.Claims
	Record *domain.Credential
	Owner  *domain.User
}

// SessionService orchestrates credential issuance, verification and
// revocation. It is the only entry point request handlers and middleware use;
// nothing else talks to the codec or the credential store directly.
type SessionService struct {
	codec        *security.TokenCodec
	creds        repository.CredentialRepository
	users        repository.UserRepository
	accessTTL    string
	resetTTL     string
	verifyTTL    string
	storeTimeout time.Duration
}

func NewSessionService(
	codec *security.TokenCodec,
	creds repository.CredentialRepository,
	users repository.UserRepository,
	accessTTL, resetTTL, verifyTTL string,
	storeTimeout time.Duration,
) *SessionService {
	if storeTimeout <= 0 {
		storeTimeout = 3 * time.Second
	}
	return &SessionService{
		codec:        codec,
		creds:        creds,
		users:        users,
		accessTTL:    accessTTL,
		resetTTL:     resetTTL,
		verifyTTL:    verifyTTL,
		storeTimeout: storeTimeout,
	}
}

// IssueAccessCredential signs a new access credential for the owner and
// records it in the store. A digest collision is retried once with a fresh
// token id before giving up.
func (s *SessionService) IssueAccessCredential(ctx context.Context, owner *domain.User, prov domain.Provenance) (*IssuedCredential, error) {
	for attempt := 0; ; attempt++ {
		issued, err := s.issueAndRecord(ctx, owner.ID, owner.Email, owner.Role, domain.KindAccess, s.accessTTL, prov)
		if err == nil {
			observability.RecordCredentialIssued(ctx, string(domain.KindAccess))
			return issued, nil
		}
		if errors.Is(err, repository.ErrDuplicateDigest) && attempt == 0 {
			continue
		}
		return nil, err
	}
}

// IssueSpecialCredential deactivates every prior active credential of the
// requested kind for the owner, then issues a fresh one. At most one usable
// reset or verification credential exists per owner at a time.
func (s *SessionService) IssueSpecialCredential(ctx context.Context, owner *domain.User, kind domain.CredentialKind) (*IssuedCredential, error) {
	var ttl string
	switch kind {
	case domain.KindPasswordReset:
		ttl = s.resetTTL
	case domain.KindEmailVerification:
		ttl = s.verifyTTL
	default:
		return nil, fmt.Errorf("%w: %s", ErrWrongKind, kind)
	}

	superseded, err := s.creds.SupersedeOwnerKind(ctx, owner.ID, kind, domain.RevokeReasonSuperseded)
	if err != nil {
		return nil, fmt.Errorf("supersede %s credentials: %w", kind, err)
	}
	observability.RecordCredentialRevocation(ctx, domain.RevokeReasonSuperseded, superseded)

	issued, err := s.issueAndRecord(ctx, owner.ID, owner.Email, owner.Role, kind, ttl, domain.Provenance{})
	if err != nil {
		return nil, err
	}
	observability.RecordCredentialIssued(ctx, string(kind))
	return issued, nil
}

// VerifyAccessCredential is the critical authentication path. Cryptographic
// checks come first and never touch the store; the store cross-check then
// rejects revoked records a structurally valid token cannot know about. The
// owner's activation state is re-read on every call, not just at issuance.
func (s *SessionService) VerifyAccessCredential(ctx context.Context, raw string) (*VerifiedCredential, error) {
	claims, err := s.verifyClaims(ctx, raw, domain.KindAccess)
	if err != nil {
		return nil, err
	}
	ownerID, err := claims.OwnerID()
	if err != nil {
		observability.RecordCredentialVerification(ctx, string(domain.KindAccess), "malformed")
		return nil, ErrCredentialMalformed
	}

	record, err := s.lookupActive(ctx, raw)
	if err != nil {
		observability.RecordCredentialVerification(ctx, string(domain.KindAccess), verifyOutcome(err))
		return nil, err
	}

	owner, err := s.lookupOwner(ctx, ownerID)
	if err != nil {
		observability.RecordCredentialVerification(ctx, string(domain.KindAccess), verifyOutcome(err))
		return nil, err
	}

	// Usage bookkeeping is an atomic in-store increment; a failure here does
	// not invalidate an otherwise successful verification.
	if err := s.creds.TouchUsage(ctx, record.ID); err != nil {
		slog.WarnContext(ctx, "usage tracking failed", "credential_id", record.ID, "error", err)
	}

	observability.RecordCredentialVerification(ctx, string(domain.KindAccess), "valid")
	return &VerifiedCredential{Claims: claims, Record: record, Owner: owner}, nil
}

// VerifySpecialCredential validates a reset or verification credential.
// Usage is not tracked; single-use semantics belong to the caller, which
// revokes the credential immediately after consuming it.
func (s *SessionService) VerifySpecialCredential(ctx context.Context, raw string, expected domain.CredentialKind) (*VerifiedCredential, error) {
	claims, err := s.verifyClaims(ctx, raw, expected)
	if err != nil {
		return nil, err
	}
	record, err := s.lookupActive(ctx, raw)
	if err != nil {
		observability.RecordCredentialVerification(ctx, string(expected), verifyOutcome(err))
		return nil, err
	}
	if record.Kind != expected {
		observability.RecordCredentialVerification(ctx, string(expected), "wrong_kind")
		return nil, fmt.Errorf("%w: record is %s", ErrWrongKind, record.Kind)
	}
	observability.RecordCredentialVerification(ctx, string(expected), "valid")
	return &VerifiedCredential{Claims: claims, Record: record}, nil
}

// RevokeOne deactivates the record behind a presented credential. Nothing
// matching is not an error: logging out twice is fine.
func (s *SessionService) RevokeOne(ctx context.Context, raw, reason string) (bool, error) {
	digest := security.HashCredential(raw)
	record, err := s.creds.FindByDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup credential: %w", err)
	}
	changed, err := s.creds.Revoke(ctx, record.ID, reason)
	if err != nil {
		return false, fmt.Errorf("revoke credential: %w", err)
	}
	if changed {
		observability.RecordCredentialRevocation(ctx, reason, 1)
	}
	return changed, nil
}

// RevokeAllForOwner bulk-deactivates every active credential the owner holds.
func (s *SessionService) RevokeAllForOwner(ctx context.Context, ownerID uint, reason string) (int64, error) {
	count, err := s.creds.RevokeAllForOwner(ctx, ownerID, reason)
	if err != nil {
		return count, err
	}
	observability.RecordCredentialRevocation(ctx, reason, count)
	return count, nil
}

// RevokeSession deactivates one of the owner's active credentials by record
// id. The ownership check happens here, not in the store, so an owner can
// never revoke someone else's session.
func (s *SessionService) RevokeSession(ctx context.Context, ownerID uint, recordID, reason string) (bool, error) {
	creds, err := s.creds.ListActiveByOwner(ctx, ownerID)
	if err != nil {
		return false, err
	}
	for _, c := range creds {
		if c.ID == recordID {
			changed, err := s.creds.Revoke(ctx, recordID, reason)
			if err != nil {
				return false, fmt.Errorf("revoke session: %w", err)
			}
			if changed {
				observability.RecordCredentialRevocation(ctx, reason, 1)
			}
			return changed, nil
		}
	}
	return false, nil
}

// SessionView is the owner-facing listing of one active credential.
type SessionView struct {
	ID          string                `json:"id"`
	Kind        domain.CredentialKind `json:"kind"`
	Suffix      string                `json:"suffix"`
	CreatedAt   time.Time             `json:"created_at"`
	ExpiresAt   time.Time             `json:"expires_at"`
	LastUsedAt  *time.Time            `json:"last_used_at,omitempty"`
	UsageCount  int64                 `json:"usage_count"`
	IPAddress   string                `json:"ip_address,omitempty"`
	UserAgent   string                `json:"user_agent,omitempty"`
	DeviceLabel string                `json:"device_label,omitempty"`
	IsCurrent   bool                  `json:"is_current"`
}

// ListSessions enumerates the owner's active credentials, flagging the one
// the caller authenticated with.
func (s *SessionService) ListSessions(ctx context.Context, ownerID uint, currentRecordID string) ([]SessionView, error) {
	creds, err := s.creds.ListActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(creds))
	for _, c := range creds {
		views = append(views, SessionView{
			ID:          c.ID,
			Kind:        c.Kind,
			Suffix:      c.TruncatedValue,
			CreatedAt:   c.CreatedAt,
			ExpiresAt:   c.ExpiresAt,
			LastUsedAt:  c.LastUsedAt,
			UsageCount:  c.UsageCount,
			IPAddress:   c.IPAddress,
			UserAgent:   c.UserAgent,
			DeviceLabel: c.DeviceLabel,
			IsCurrent:   c.ID == currentRecordID,
		})
	}
	return views, nil
}

func (s *SessionService) issueAndRecord(ctx context.Context, ownerID uint, email string, role domain.Role, kind domain.CredentialKind, ttl string, prov domain.Provenance) (*IssuedCredential, error) {
	signed, expiresAt, err := s.codec.Issue(ownerID, email, role, kind, ttl)
	if err != nil {
		return nil, fmt.Errorf("issue %s credential: %w", kind, err)
	}
	record := &domain.Credential{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Kind:           kind,
		Digest:         security.HashCredential(signed),
		TruncatedValue: security.TruncateForDisplay(signed, truncatedSuffixLen),
		IsActive:       true,
		ExpiresAt:      expiresAt,
		IPAddress:      prov.IPAddress,
		UserAgent:      prov.UserAgent,
		DeviceLabel:    prov.DeviceLabel,
	}
	if err := s.creds.Insert(ctx, record); err != nil {
		return nil, err
	}
	return &IssuedCredential{Credential: signed, RecordID: record.ID, ExpiresAt: expiresAt}, nil
}

func (s *SessionService) verifyClaims(ctx context.Context, raw string, expected domain.CredentialKind) (*security.Claims, error) {
	claims, err := s.codec.Verify(raw)
	if err != nil {
		switch {
		case errors.Is(err, security.ErrExpired):
			observability.RecordCredentialVerification(ctx, string(expected), "expired")
			return nil, ErrCredentialExpired
		default:
			observability.RecordCredentialVerification(ctx, string(expected), "malformed")
			return nil, ErrCredentialMalformed
		}
	}
	if claims.Kind != expected {
		observability.RecordCredentialVerification(ctx, string(expected), "wrong_kind")
		return nil, fmt.Errorf("%w: got %s", ErrWrongKind, claims.Kind)
	}
	return claims, nil
}

// lookupActive cross-checks the store under a bounded timeout. A missing
// record despite a structurally valid token means it was revoked or swept; a
// store failure is reported as unavailability, never as a denial.
func (s *SessionService) lookupActive(ctx context.Context, raw string) (*domain.Credential, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	record, err := s.creds.FindActiveByDigest(lookupCtx, security.HashCredential(raw))
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return nil, ErrCredentialRevoked
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return record, nil
}

func (s *SessionService) lookupOwner(ctx context.Context, ownerID uint) (*domain.User, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	owner, err := s.users.FindByID(lookupCtx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrOwnerInactive
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !owner.IsActive {
		return nil, ErrOwnerInactive
	}
	return owner, nil
}

func verifyOutcome(err error) string {
	switch {
	case errors.Is(err, ErrCredentialRevoked):
		return "revoked"
	case errors.Is(err, ErrOwnerInactive):
		return "owner_inactive"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
