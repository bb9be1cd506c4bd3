package handler

import (
	"net/http"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/http/middleware"
	"github.com/surveyforge/surveyforge-backend/internal/http/response"
	"github.com/surveyforge/surveyforge-backend/internal/observability"
	"github.com/surveyforge/surveyforge-backend/internal/repository"
	"github.com/surveyforge/surveyforge-backend/internal/service"
	"github.com/surveyforge/surveyforge-backend/internal/sweeper"
)

// AdminHandler exposes the operational endpoints: credential store stats,
// retention triggers and account administration. Every route sits behind
// Authorize(RoleAdmin).
type AdminHandler struct {
	users    repository.UserRepository
	sessions *service.SessionService
	sweeper  *sweeper.Sweeper
}

func NewAdminHandler(users repository.UserRepository, sessions *service.SessionService, sw *sweeper.Sweeper) *AdminHandler {
	return &AdminHandler{users: users, sessions: sessions, sweeper: sw}
}

func (h *AdminHandler) CredentialStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sweeper.Stats(r.Context())
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, middleware.CodeStoreUnavailable, "credential store unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, stats)
}

func (h *AdminHandler) TriggerCleanup(w http.ResponseWriter, r *http.Request) {
	result := h.sweeper.TriggerManualCleanup(r.Context())
	observability.Audit(r, "retention.manual_cleanup", "deleted", result.Total)
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AdminHandler) TriggerComprehensiveSweep(w http.ResponseWriter, r *http.Request) {
	result := h.sweeper.TriggerComprehensiveSweep(r.Context())
	observability.Audit(r, "retention.comprehensive_sweep", "deleted", result.Total)
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	role, err := roleOrEmpty(r.URL.Query().Get("role"))
	if err != nil {
		response.BadRequest(w, r, "unknown role filter")
		return
	}
	result, err := h.users.ListPaged(r.Context(), repository.UserListQuery{
		PageRequest: pageRequestFrom(r),
		Email:       r.URL.Query().Get("email"),
		Role:        role,
	})
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "user listing failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetUserActive enables or disables an account. Disabling also revokes every
// credential the account holds so existing sessions die immediately.
func (h *AdminHandler) SetUserActive(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "userID")
	if !ok {
		response.BadRequest(w, r, "invalid user id")
		return
	}
	var req setActiveRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, "invalid payload")
		return
	}
	if err := h.users.SetActive(r.Context(), id, req.Active); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "account update failed", nil)
		return
	}
	var revoked int64
	if !req.Active {
		var err error
		revoked, err = h.sessions.RevokeAllForOwner(r.Context(), id, domain.RevokeReasonSecurity)
		if err != nil {
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "credential revocation failed", nil)
			return
		}
	}
	observability.Audit(r, "account.active_changed", "user_id", id, "active", req.Active, "revoked", revoked)
	response.JSON(w, r, http.StatusOK, map[string]any{"active": req.Active, "revoked_credentials": revoked})
}

// RevokeUserCredentials force-revokes everything an account holds without
// touching its active flag.
func (h *AdminHandler) RevokeUserCredentials(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "userID")
	if !ok {
		response.BadRequest(w, r, "invalid user id")
		return
	}
	count, err := h.sessions.RevokeAllForOwner(r.Context(), id, domain.RevokeReasonSecurity)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "credential revocation failed", nil)
		return
	}
	observability.Audit(r, "account.credentials_revoked", "user_id", id, "revoked", count)
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked": count})
}
