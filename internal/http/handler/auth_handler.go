// Package handler holds the chi endpoint implementations. Handlers decode
// and validate payloads, call one service method and translate its sentinel
// errors into coded envelope responses; no business rules live here.
package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/http/middleware"
	"github.com/surveyforge/surveyforge-backend/internal/http/response"
	"github.com/surveyforge/surveyforge-backend/internal/observability"
	"github.com/surveyforge/surveyforge-backend/internal/security"
	"github.com/surveyforge/surveyforge-backend/internal/service"
)

type AuthHandler struct {
	auth     *service.AuthService
	sessions *service.SessionService
}

func NewAuthHandler(auth *service.AuthService, sessions *service.SessionService) *AuthHandler {
	return &AuthHandler{auth: auth, sessions: sessions}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type brandRegisterRequest struct {
	registerRequest
	CompanyName string `json:"company_name"`
	Website     string `json:"website"`
	Industry    string `json:"industry"`
	Location    string `json:"location"`
}

type authResponse struct {
	User       *domain.User              `json:"user"`
	Credential *service.IssuedCredential `json:"credential"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, "invalid payload")
		return
	}
	h.register(w, r, service.RegisterInput{
		Name:     strings.TrimSpace(req.Name),
		Email:    req.Email,
		Password: req.Password,
		Role:     domain.RoleUser,
	})
}

func (h *AuthHandler) RegisterBrand(w http.ResponseWriter, r *http.Request) {
	var req brandRegisterRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, "invalid payload")
		return
	}
	if strings.TrimSpace(req.CompanyName) == "" {
		response.BadRequest(w, r, "company_name is required")
		return
	}
	h.register(w, r, service.RegisterInput{
		Name:     strings.TrimSpace(req.Name),
		Email:    req.Email,
		Password: req.Password,
		Role:     domain.RoleBrand,
		Brand: &domain.BrandDetails{
			CompanyName: strings.TrimSpace(req.CompanyName),
			Website:     strings.TrimSpace(req.Website),
			Industry:    strings.TrimSpace(req.Industry),
			Location:    strings.TrimSpace(req.Location),
		},
	})
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request, in service.RegisterInput) {
	if in.Name == "" || in.Email == "" {
		response.BadRequest(w, r, "name and email are required")
		return
	}
	user, issued, err := h.auth.Register(r.Context(), in, provenanceFrom(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailTaken):
			response.Error(w, r, http.StatusConflict, "EMAIL_TAKEN", "email already registered", nil)
		case errors.Is(err, service.ErrWeakPassword):
			response.BadRequest(w, r, "password must be at least 8 characters")
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "registration failed", nil)
		}
		return
	}
	observability.Audit(r, "account.registered", "user_id", user.ID, "role", user.Role)
	response.JSON(w, r, http.StatusCreated, authResponse{User: user, Credential: issued})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, "invalid payload")
		return
	}
	user, issued, err := h.auth.Login(r.Context(), req.Email, req.Password, provenanceFrom(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrLoginThrottled):
			response.Error(w, r, http.StatusTooManyRequests, "LOGIN_THROTTLED", "too many failed attempts, try again later", nil)
		case errors.Is(err, service.ErrOwnerInactive):
			response.Error(w, r, http.StatusForbidden, "ACCOUNT_DISABLED", "account is disabled", nil)
		case errors.Is(err, service.ErrInvalidCredentials):
			response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "email or password incorrect", nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "login failed", nil)
		}
		return
	}
	observability.Audit(r, "account.login", "user_id", user.ID)
	response.JSON(w, r, http.StatusOK, authResponse{User: user, Credential: issued})
}

// Logout revokes the presented credential. Revoking an already-revoked or
// unknown credential still returns 200; the outcome the client asked for
// holds either way.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	raw := security.ExtractBearer(r.Header.Get("Authorization"))
	if raw == "" {
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeNoToken, "authorization credential required", nil)
		return
	}
	revoked, err := h.auth.Logout(r.Context(), raw)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "logout failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked": revoked})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	verified, ok := middleware.CredentialFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeNoToken, "authorization credential required", nil)
		return
	}
	count, err := h.auth.LogoutAll(r.Context(), verified.Owner.ID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "logout failed", nil)
		return
	}
	observability.Audit(r, "account.logout_all", "user_id", verified.Owner.ID, "revoked", count)
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked": count})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := security.ExtractBearer(r.Header.Get("Authorization"))
	if raw == "" {
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeNoToken, "authorization credential required", nil)
		return
	}
	issued, err := h.auth.Refresh(r.Context(), raw, provenanceFrom(r))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"credential": issued})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	verified, ok := middleware.CredentialFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeNoToken, "authorization credential required", nil)
		return
	}
	var req changePasswordRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, "invalid payload")
		return
	}
	issued, err := h.auth.ChangePassword(r.Context(), verified.Owner.ID, req.CurrentPassword, req.NewPassword, provenanceFrom(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "current password incorrect", nil)
		case errors.Is(err, service.ErrWeakPassword):
			response.BadRequest(w, r, "password must be at least 8 characters")
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "password change failed", nil)
		}
		return
	}
	observability.Audit(r, "account.password_changed", "user_id", verified.Owner.ID)
	response.JSON(w, r, http.StatusOK, map[string]any{"credential": issued})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword always answers 200 so the endpoint cannot be used to probe
// which emails exist. The reset credential goes out through the mailer; it is
// never echoed in the response.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, "invalid payload")
		return
	}
	if _, err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "reset request failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"message": "if the address is registered, a reset link has been sent",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, "invalid payload")
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		if errors.Is(err, service.ErrWeakPassword) {
			response.BadRequest(w, r, "password must be at least 8 characters")
			return
		}
		writeSessionError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"message": "password updated"})
}

func (h *AuthHandler) RequestEmailVerification(w http.ResponseWriter, r *http.Request) {
	verified, ok := middleware.CredentialFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeNoToken, "authorization credential required", nil)
		return
	}
	if _, err := h.auth.RequestEmailVerification(r.Context(), verified.Owner.ID); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "verification request failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"message": "verification email sent"})
}

type confirmEmailRequest struct {
	Token string `json:"token"`
}

func (h *AuthHandler) ConfirmEmailVerification(w http.ResponseWriter, r *http.Request) {
	var req confirmEmailRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, "invalid payload")
		return
	}
	if err := h.auth.ConfirmEmailVerification(r.Context(), req.Token); err != nil {
		writeSessionError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"message": "email verified"})
}

// writeSessionError maps credential verification sentinels onto the same
// reason codes the auth middleware uses.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrCredentialExpired):
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeTokenExpired, "credential expired", nil)
	case errors.Is(err, service.ErrStoreUnavailable):
		response.Error(w, r, http.StatusServiceUnavailable, middleware.CodeStoreUnavailable, "credential store unavailable", nil)
	case errors.Is(err, service.ErrCredentialMalformed),
		errors.Is(err, service.ErrCredentialRevoked),
		errors.Is(err, service.ErrWrongKind),
		errors.Is(err, service.ErrOwnerInactive):
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeInvalidToken, "credential not accepted", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "request failed", nil)
	}
}

func provenanceFrom(r *http.Request) domain.Provenance {
	return domain.Provenance{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}
