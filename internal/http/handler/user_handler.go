package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/http/middleware"
	"github.com/surveyforge/surveyforge-backend/internal/http/response"
	"github.com/surveyforge/surveyforge-backend/internal/observability"
	"github.com/surveyforge/surveyforge-backend/internal/repository"
	"github.com/surveyforge/surveyforge-backend/internal/service"
)

type UserHandler struct {
	users    repository.UserRepository
	sessions *service.SessionService
}

func NewUserHandler(users repository.UserRepository, sessions *service.SessionService) *UserHandler {
	return &UserHandler{users: users, sessions: sessions}
}

func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	verified, ok := middleware.CredentialFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeNoToken, "authorization credential required", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, verified.Owner)
}

type updateProfileRequest struct {
	Name  string                `json:"name"`
	Brand *domain.BrandDetails  `json:"brand,omitempty"`
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	verified, ok := middleware.CredentialFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeNoToken, "authorization credential required", nil)
		return
	}
	var req updateProfileRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, "invalid payload")
		return
	}
	user := verified.Owner
	if name := strings.TrimSpace(req.Name); name != "" {
		user.Name = name
	}
	if req.Brand != nil && user.Role == domain.RoleBrand {
		user.Brand = req.Brand
	}
	if err := h.users.Update(r.Context(), user); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "profile update failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, user)
}

// Sessions lists the caller's active credentials, marking the one used for
// this request.
func (h *UserHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	verified, ok := middleware.CredentialFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeNoToken, "authorization credential required", nil)
		return
	}
	views, err := h.sessions.ListSessions(r.Context(), verified.Owner.ID, verified.Record.ID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "session listing failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

func (h *UserHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	verified, ok := middleware.CredentialFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeNoToken, "authorization credential required", nil)
		return
	}
	recordID := chi.URLParam(r, "sessionID")
	if recordID == "" {
		response.BadRequest(w, r, "session id required")
		return
	}
	revoked, err := h.sessions.RevokeSession(r.Context(), verified.Owner.ID, recordID, domain.RevokeReasonManual)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "session revocation failed", nil)
		return
	}
	if !revoked {
		response.Error(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "no active session with that id", nil)
		return
	}
	observability.Audit(r, "session.revoked", "user_id", verified.Owner.ID, "session_id", recordID)
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked": true})
}

func roleOrEmpty(raw string) (domain.Role, error) {
	if raw == "" {
		return "", nil
	}
	role := domain.Role(raw)
	if !role.Valid() {
		return "", errors.New("unknown role")
	}
	return role, nil
}
