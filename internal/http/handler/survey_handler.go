package handler

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/http/middleware"
	"github.com/surveyforge/surveyforge-backend/internal/http/response"
	"github.com/surveyforge/surveyforge-backend/internal/observability"
	"github.com/surveyforge/surveyforge-backend/internal/repository"
	"github.com/surveyforge/surveyforge-backend/internal/service"
)

type SurveyHandler struct {
	surveys repository.SurveyRepository
}

func NewSurveyHandler(surveys repository.SurveyRepository) *SurveyHandler {
	return &SurveyHandler{surveys: surveys}
}

type formRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	CategoryID  *uint      `json:"category_id"`
	Questions   string     `json:"questions"`
	OpensAt     *time.Time `json:"opens_at"`
	ClosesAt    *time.Time `json:"closes_at"`
}

func (req *formRequest) validate() error {
	if strings.TrimSpace(req.Title) == "" {
		return errors.New("title is required")
	}
	if !json.Valid([]byte(req.Questions)) {
		return errors.New("questions must be valid JSON")
	}
	if req.OpensAt != nil && req.ClosesAt != nil && req.ClosesAt.Before(*req.OpensAt) {
		return errors.New("closes_at precedes opens_at")
	}
	return nil
}

func (h *SurveyHandler) CreateForm(w http.ResponseWriter, r *http.Request) {
	verified, ok := middleware.CredentialFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeNoToken, "authorization credential required", nil)
		return
	}
	var req formRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, "invalid payload")
		return
	}
	if err := req.validate(); err != nil {
		response.BadRequest(w, r, err.Error())
		return
	}
	form := &domain.SurveyForm{
		OwnerID:     verified.Owner.ID,
		CategoryID:  req.CategoryID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Questions:   req.Questions,
		Status:      domain.FormDraft,
		OpensAt:     req.OpensAt,
		ClosesAt:    req.ClosesAt,
	}
	if err := h.surveys.CreateForm(r.Context(), form); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "form creation failed", nil)
		return
	}
	observability.Audit(r, "survey.form_created", "form_id", form.ID, "owner_id", form.OwnerID)
	response.JSON(w, r, http.StatusCreated, form)
}

func (h *SurveyHandler) UpdateForm(w http.ResponseWriter, r *http.Request) {
	form, verified, ok := h.ownedForm(w, r)
	if !ok {
		return
	}
	var req formRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, "invalid payload")
		return
	}
	if err := req.validate(); err != nil {
		response.BadRequest(w, r, err.Error())
		return
	}
	form.Title = strings.TrimSpace(req.Title)
	form.Description = req.Description
	form.CategoryID = req.CategoryID
	form.Questions = req.Questions
	form.OpensAt = req.OpensAt
	form.ClosesAt = req.ClosesAt
	if err := h.surveys.UpdateForm(r.Context(), form); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "form update failed", nil)
		return
	}
	observability.Audit(r, "survey.form_updated", "form_id", form.ID, "owner_id", verified.Owner.ID)
	response.JSON(w, r, http.StatusOK, form)
}

type publishRequest struct {
	Status domain.FormStatus `json:"status"`
}

// Publish moves a form between draft, published and closed.
func (h *SurveyHandler) Publish(w http.ResponseWriter, r *http.Request) {
	form, verified, ok := h.ownedForm(w, r)
	if !ok {
		return
	}
	var req publishRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, "invalid payload")
		return
	}
	switch req.Status {
	case domain.FormDraft, domain.FormPublished, domain.FormClosed:
	default:
		response.BadRequest(w, r, "status must be draft, published or closed")
		return
	}
	form.Status = req.Status
	if err := h.surveys.UpdateForm(r.Context(), form); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "status change failed", nil)
		return
	}
	observability.Audit(r, "survey.form_status_changed", "form_id", form.ID, "owner_id", verified.Owner.ID, "status", form.Status)
	response.JSON(w, r, http.StatusOK, form)
}

func (h *SurveyHandler) DeleteForm(w http.ResponseWriter, r *http.Request) {
	verified, ok := middleware.CredentialFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeNoToken, "authorization credential required", nil)
		return
	}
	id, ok := uintParam(r, "formID")
	if !ok {
		response.BadRequest(w, r, "invalid form id")
		return
	}
	deleted, err := h.surveys.DeleteForm(r.Context(), verified.Owner.ID, id)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "form deletion failed", nil)
		return
	}
	if !deleted {
		response.Error(w, r, http.StatusNotFound, "FORM_NOT_FOUND", "no such form", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"deleted": true})
}

func (h *SurveyHandler) GetForm(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "formID")
	if !ok {
		response.BadRequest(w, r, "invalid form id")
		return
	}
	form, err := h.surveys.FindFormByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrFormNotFound) {
			response.Error(w, r, http.StatusNotFound, "FORM_NOT_FOUND", "no such form", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "form lookup failed", nil)
		return
	}
	// Drafts are visible to their owner only.
	if form.Status == domain.FormDraft {
		verified, ok := middleware.CredentialFromContext(r.Context())
		if !ok || (verified.Owner.ID != form.OwnerID && verified.Owner.Role != domain.RoleAdmin) {
			response.Error(w, r, http.StatusNotFound, "FORM_NOT_FOUND", "no such form", nil)
			return
		}
	}
	response.JSON(w, r, http.StatusOK, form)
}

func (h *SurveyHandler) ListPublished(w http.ResponseWriter, r *http.Request) {
	result, err := h.surveys.ListPublishedForms(r.Context(), pageRequestFrom(r))
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "form listing failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func (h *SurveyHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	verified, ok := middleware.CredentialFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeNoToken, "authorization credential required", nil)
		return
	}
	result, err := h.surveys.ListFormsByOwner(r.Context(), verified.Owner.ID, pageRequestFrom(r))
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "form listing failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func (h *SurveyHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.surveys.ListCategories(r.Context())
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "category listing failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"categories": categories})
}

type submitResponseRequest struct {
	Answers string `json:"answers"`
}

// SubmitResponse accepts a submission from an authenticated or anonymous
// respondent; the route runs behind OptionalAuthenticate.
func (h *SurveyHandler) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "formID")
	if !ok {
		response.BadRequest(w, r, "invalid form id")
		return
	}
	var req submitResponseRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, "invalid payload")
		return
	}
	if !json.Valid([]byte(req.Answers)) {
		response.BadRequest(w, r, "answers must be valid JSON")
		return
	}
	form, err := h.surveys.FindFormByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrFormNotFound) {
			response.Error(w, r, http.StatusNotFound, "FORM_NOT_FOUND", "no such form", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "form lookup failed", nil)
		return
	}
	if !form.AcceptingResponses(time.Now()) {
		response.Error(w, r, http.StatusConflict, "FORM_CLOSED", "form is not accepting responses", nil)
		return
	}
	resp := &domain.SurveyResponse{
		FormID:    form.ID,
		Answers:   req.Answers,
		IPAddress: clientIP(r),
	}
	if verified, ok := middleware.CredentialFromContext(r.Context()); ok {
		resp.RespondentID = &verified.Owner.ID
	}
	if err := h.surveys.CreateResponse(r.Context(), resp); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "submission failed", nil)
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{"response_id": resp.ID})
}

func (h *SurveyHandler) ListResponses(w http.ResponseWriter, r *http.Request) {
	form, _, ok := h.ownedForm(w, r)
	if !ok {
		return
	}
	result, err := h.surveys.ListResponsesByForm(r.Context(), form.ID, pageRequestFrom(r))
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "response listing failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

// ExportResponsesCSV streams every response for the form as CSV. Answers stay
// as their raw JSON blob in a single column; unpacking per-question columns
// is the consumer's job.
func (h *SurveyHandler) ExportResponsesCSV(w http.ResponseWriter, r *http.Request) {
	form, _, ok := h.ownedForm(w, r)
	if !ok {
		return
	}
	responses, err := h.surveys.AllResponsesByForm(r.Context(), form.ID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "export failed", nil)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("form-%d-responses.csv", form.ID)))
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"response_id", "respondent_id", "submitted_at", "answers"})
	for _, resp := range responses {
		respondent := ""
		if resp.RespondentID != nil {
			respondent = strconv.FormatUint(uint64(*resp.RespondentID), 10)
		}
		_ = cw.Write([]string{
			strconv.FormatUint(uint64(resp.ID), 10),
			respondent,
			resp.CreatedAt.UTC().Format(time.RFC3339),
			resp.Answers,
		})
	}
	cw.Flush()
}

// ownedForm loads the form from the URL and enforces that the caller owns it
// or is an admin. It writes the error response itself when the check fails.
func (h *SurveyHandler) ownedForm(w http.ResponseWriter, r *http.Request) (*domain.SurveyForm, *service.VerifiedCredential, bool) {
	verified, ok := middleware.CredentialFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, middleware.CodeNoToken, "authorization credential required", nil)
		return nil, nil, false
	}
	id, ok := uintParam(r, "formID")
	if !ok {
		response.BadRequest(w, r, "invalid form id")
		return nil, nil, false
	}
	form, err := h.surveys.FindFormByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrFormNotFound) {
			response.Error(w, r, http.StatusNotFound, "FORM_NOT_FOUND", "no such form", nil)
			return nil, nil, false
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "form lookup failed", nil)
		return nil, nil, false
	}
	if form.OwnerID != verified.Owner.ID && verified.Owner.Role != domain.RoleAdmin {
		response.Error(w, r, http.StatusForbidden, middleware.CodeForbidden, "not the form owner", nil)
		return nil, nil, false
	}
	return form, verified, true
}
