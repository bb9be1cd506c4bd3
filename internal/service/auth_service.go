package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/observability"
	"github.com/surveyforge/surveyforge-backend/internal/repository"
	"github.com/surveyforge/surveyforge-backend/internal/security"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike;
	// callers must not be able to tell which.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrLoginThrottled     = errors.New("too many failed attempts")
	ErrWeakPassword       = errors.New("password too short")
)

const minPasswordLen = 8

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
	Brand    *domain.BrandDetails
}

// AuthService implements the account-facing flows: registration, login,
// logout, password lifecycle and email verification. All credential work is
// delegated to the SessionService.
type AuthService struct {
	users    repository.UserRepository
	sessions *SessionService
	guard    AuthAbuseGuard
}

func NewAuthService(users repository.UserRepository, sessions *SessionService, guard AuthAbuseGuard) *AuthService {
	return &AuthService{users: users, sessions: sessions, guard: guard}
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput, prov domain.Provenance) (*domain.User, *IssuedCredential, error) {
	if len(in.Password) < minPasswordLen {
		return nil, nil, ErrWeakPassword
	}
	role := in.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() || role == domain.RoleAdmin {
		return nil, nil, fmt.Errorf("register: role %q not allowed", in.Role)
	}
	hash, err := security.HashPassword(in.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        normalizeAuthIdentity(in.Email),
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		Brand:        in.Brand,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, nil, ErrEmailTaken
		}
		return nil, nil, err
	}
	issued, err := s.sessions.IssueAccessCredential(ctx, user, prov)
	if err != nil {
		return nil, nil, err
	}
	return user, issued, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string, prov domain.Provenance) (*domain.User, *IssuedCredential, error) {
	email = normalizeAuthIdentity(email)
	if s.guard != nil {
		cooldown, err := s.guard.Check(ctx, AuthAbuseScopeLogin, email, prov.IPAddress)
		if err != nil {
			slog.WarnContext(ctx, "abuse guard check failed", "error", err)
		} else if cooldown > 0 {
			observability.RecordAuthLogin(ctx, "throttled")
			return nil, nil, fmt.Errorf("%w: retry in %s", ErrLoginThrottled, cooldown.Round(time.Second))
		}
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.registerFailure(ctx, email, prov.IPAddress)
			observability.RecordAuthLogin(ctx, "invalid")
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if !security.CheckPassword(password, user.PasswordHash) {
		s.registerFailure(ctx, email, prov.IPAddress)
		observability.RecordAuthLogin(ctx, "invalid")
		return nil, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		observability.RecordAuthLogin(ctx, "inactive")
		return nil, nil, ErrOwnerInactive
	}

	issued, err := s.sessions.IssueAccessCredential(ctx, user, prov)
	if err != nil {
		return nil, nil, err
	}
	if err := s.users.MarkLogin(ctx, user.ID); err != nil {
		slog.WarnContext(ctx, "mark login failed", "user_id", user.ID, "error", err)
	}
	if s.guard != nil {
		if err := s.guard.Reset(ctx, AuthAbuseScopeLogin, email, prov.IPAddress); err != nil {
			slog.WarnContext(ctx, "abuse guard reset failed", "error", err)
		}
	}
	observability.RecordAuthLogin(ctx, "success")
	return user, issued, nil
}

func (s *AuthService) Logout(ctx context.Context, raw string) (bool, error) {
	return s.sessions.RevokeOne(ctx, raw, domain.RevokeReasonLogout)
}

func (s *AuthService) LogoutAll(ctx context.Context, ownerID uint) (int64, error) {
	return s.sessions.RevokeAllForOwner(ctx, ownerID, domain.RevokeReasonLogoutAll)
}

// ChangePassword rotates the password, revokes every outstanding credential
// for the account and hands back a fresh one for the current device.
func (s *AuthService) ChangePassword(ctx context.Context, ownerID uint, current, next string, prov domain.Provenance) (*IssuedCredential, error) {
	if len(next) < minPasswordLen {
		return nil, ErrWeakPassword
	}
	user, err := s.users.FindByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !security.CheckPassword(current, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	hash, err := security.HashPassword(next)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, ownerID, hash); err != nil {
		return nil, err
	}
	if _, err := s.sessions.RevokeAllForOwner(ctx, ownerID, domain.RevokeReasonPasswordChange); err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	return s.sessions.IssueAccessCredential(ctx, user, prov)
}

// Refresh issues a replacement access credential and retires the presented
// one so each refresh chain keeps a single live credential.
func (s *AuthService) Refresh(ctx context.Context, raw string, prov domain.Provenance) (*IssuedCredential, error) {
	verified, err := s.sessions.VerifyAccessCredential(ctx, raw)
	if err != nil {
		return nil, err
	}
	issued, err := s.sessions.IssueAccessCredential(ctx, verified.Owner, prov)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.RevokeOne(ctx, raw, domain.RevokeReasonSuperseded); err != nil {
		slog.WarnContext(ctx, "revoke superseded credential failed", "error", err)
	}
	return issued, nil
}

// RequestPasswordReset returns the issued credential, or nil without error
// when the email is unknown, so the endpoint responds identically either way.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (*IssuedCredential, error) {
	user, err := s.users.FindByEmail(ctx, normalizeAuthIdentity(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}
	return s.sessions.IssueSpecialCredential(ctx, user, domain.KindPasswordReset)
}

func (s *AuthService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return ErrWeakPassword
	}
	verified, err := s.sessions.VerifySpecialCredential(ctx, rawToken, domain.KindPasswordReset)
	if err != nil {
		return err
	}
	ownerID, err := verified.Claims.OwnerID()
	if err != nil {
		return ErrCredentialMalformed
	}
	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, ownerID, hash); err != nil {
		return err
	}
	// Everything the account held is revoked, the consumed reset credential
	// included.
	if _, err := s.sessions.RevokeAllForOwner(ctx, ownerID, domain.RevokeReasonPasswordChange); err != nil {
		return err
	}
	return nil
}

func (s *AuthService) RequestEmailVerification(ctx context.Context, ownerID uint) (*IssuedCredential, error) {
	user, err := s.users.FindByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.sessions.IssueSpecialCredential(ctx, user, domain.KindEmailVerification)
}

func (s *AuthService) ConfirmEmailVerification(ctx context.Context, rawToken string) error {
	verified, err := s.sessions.VerifySpecialCredential(ctx, rawToken, domain.KindEmailVerification)
	if err != nil {
		return err
	}
	ownerID, err := verified.Claims.OwnerID()
	if err != nil {
		return ErrCredentialMalformed
	}
	if err := s.users.MarkEmailVerified(ctx, ownerID); err != nil {
		return err
	}
	// Single use: retire the credential the moment it succeeds.
	if _, err := s.sessions.RevokeOne(ctx, rawToken, domain.RevokeReasonManual); err != nil {
		slog.WarnContext(ctx, "revoke consumed verification credential failed", "error", err)
	}
	return nil
}

func (s *AuthService) registerFailure(ctx context.Context, email, ip string) {
	if s.guard == nil {
		return
	}
	if _, err := s.guard.RegisterFailure(ctx, AuthAbuseScopeLogin, email, ip); err != nil {
		slog.WarnContext(ctx, "abuse guard register failed", "error", err)
	}
}
