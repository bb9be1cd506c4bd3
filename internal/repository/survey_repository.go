package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/observability"
)

var (
	ErrFormNotFound     = errors.New("survey form not found")
	ErrCategoryNotFound = errors.New("category not found")
)

type SurveyRepository interface {
	CreateForm(ctx context.Context, form *domain.SurveyForm) error
	FindFormByID(ctx context.Context, id uint) (*domain.SurveyForm, error)
	UpdateForm(ctx context.Context, form *domain.SurveyForm) error
	DeleteForm(ctx context.Context, ownerID, id uint) (bool, error)
	ListFormsByOwner(ctx context.Context, ownerID uint, req PageRequest) (PageResult[domain.SurveyForm], error)
	ListPublishedForms(ctx context.Context, req PageRequest) (PageResult[domain.SurveyForm], error)
	CreateResponse(ctx context.Context, resp *domain.SurveyResponse) error
	ListResponsesByForm(ctx context.Context, formID uint, req PageRequest) (PageResult[domain.SurveyResponse], error)
	AllResponsesByForm(ctx context.Context, formID uint) ([]domain.SurveyResponse, error)
	CountResponsesByForm(ctx context.Context, formID uint) (int64, error)
	ResponseStatsByForm(ctx context.Context, formID uint) (ResponseStats, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
}

// ResponseStats summarizes the submissions collected for one form.
// IdentifiedResponses counts submissions tied to an account; the remainder
// were anonymous.
type ResponseStats struct {
	TotalResponses      int64 `json:"total_responses"`
	IdentifiedResponses int64 `json:"identified_responses"`
}

type GormSurveyRepository struct{ db *gorm.DB }

func NewSurveyRepository(db *gorm.DB) SurveyRepository { return &GormSurveyRepository{db: db} }

func (r *GormSurveyRepository) CreateForm(ctx context.Context, form *domain.SurveyForm) error {
	err := r.db.WithContext(ctx).Create(form).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "survey_form", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "survey_form", "create", "success")
	return nil
}

func (r *GormSurveyRepository) FindFormByID(ctx context.Context, id uint) (*domain.SurveyForm, error) {
	var f domain.SurveyForm
	err := r.db.WithContext(ctx).First(&f, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "survey_form", "find_by_id", "not_found")
			return nil, ErrFormNotFound
		}
		observability.RecordRepositoryOperation(ctx, "survey_form", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "survey_form", "find_by_id", "success")
	return &f, nil
}

func (r *GormSurveyRepository) UpdateForm(ctx context.Context, form *domain.SurveyForm) error {
	err := r.db.WithContext(ctx).Save(form).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "survey_form", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "survey_form", "update", "success")
	return nil
}

func (r *GormSurveyRepository) DeleteForm(ctx context.Context, ownerID, id uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("owner_id = ? AND id = ?", ownerID, id).
		Delete(&domain.SurveyForm{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "survey_form", "delete", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "survey_form", "delete", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSurveyRepository) ListFormsByOwner(ctx context.Context, ownerID uint, req PageRequest) (PageResult[domain.SurveyForm], error) {
	return r.listForms(ctx, req, "list_by_owner", r.db.WithContext(ctx).Model(&domain.SurveyForm{}).Where("owner_id = ?", ownerID))
}

func (r *GormSurveyRepository) ListPublishedForms(ctx context.Context, req PageRequest) (PageResult[domain.SurveyForm], error) {
	return r.listForms(ctx, req, "list_published", r.db.WithContext(ctx).Model(&domain.SurveyForm{}).Where("status = ?", domain.FormPublished))
}

func (r *GormSurveyRepository) listForms(ctx context.Context, req PageRequest, op string, base *gorm.DB) (PageResult[domain.SurveyForm], error) {
	n := normalizePageRequest(req)
	result := PageResult[domain.SurveyForm]{Page: n.Page, PageSize: n.PageSize}
	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "survey_form", op, "error")
		return result, err
	}
	err := base.Order("created_at DESC").Offset(req.offset()).Limit(n.PageSize).Find(&result.Items).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "survey_form", op, "error")
		return result, err
	}
	result.TotalPages = calcTotalPages(result.Total, n.PageSize)
	observability.RecordRepositoryOperation(ctx, "survey_form", op, "success")
	return result, nil
}

func (r *GormSurveyRepository) CreateResponse(ctx context.Context, resp *domain.SurveyResponse) error {
	err := r.db.WithContext(ctx).Create(resp).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "survey_response", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "survey_response", "create", "success")
	return nil
}

func (r *GormSurveyRepository) ListResponsesByForm(ctx context.Context, formID uint, req PageRequest) (PageResult[domain.SurveyResponse], error) {
	n := normalizePageRequest(req)
	result := PageResult[domain.SurveyResponse]{Page: n.Page, PageSize: n.PageSize}
	base := r.db.WithContext(ctx).Model(&domain.SurveyResponse{}).Where("form_id = ?", formID)
	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "survey_response", "list_by_form", "error")
		return result, err
	}
	err := base.Order("created_at ASC").Offset(req.offset()).Limit(n.PageSize).Find(&result.Items).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "survey_response", "list_by_form", "error")
		return result, err
	}
	result.TotalPages = calcTotalPages(result.Total, n.PageSize)
	observability.RecordRepositoryOperation(ctx, "survey_response", "list_by_form", "success")
	return result, nil
}

func (r *GormSurveyRepository) AllResponsesByForm(ctx context.Context, formID uint) ([]domain.SurveyResponse, error) {
	var resps []domain.SurveyResponse
	err := r.db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("created_at ASC").
		Find(&resps).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "survey_response", "all_by_form", "error")
		return resps, err
	}
	observability.RecordRepositoryOperation(ctx, "survey_response", "all_by_form", "success")
	return resps, nil
}

func (r *GormSurveyRepository) CountResponsesByForm(ctx context.Context, formID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.SurveyResponse{}).
		Where("form_id = ?", formID).
		Count(&n).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "survey_response", "count_by_form", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "survey_response", "count_by_form", "success")
	return n, nil
}

func (r *GormSurveyRepository) ResponseStatsByForm(ctx context.Context, formID uint) (ResponseStats, error) {
	var stats ResponseStats
	err := r.db.WithContext(ctx).Model(&domain.SurveyResponse{}).
		Select("COUNT(*) AS total_responses, COUNT(respondent_id) AS identified_responses").
		Where("form_id = ?", formID).
		Scan(&stats).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "survey_response", "stats_by_form", "error")
		return stats, err
	}
	observability.RecordRepositoryOperation(ctx, "survey_response", "stats_by_form", "success")
	return stats, nil
}

func (r *GormSurveyRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var cats []domain.Category
	err := r.db.WithContext(ctx).Order("name ASC").Find(&cats).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "category", "list", "error")
		return cats, err
	}
	observability.RecordRepositoryOperation(ctx, "category", "list", "success")
	return cats, nil
}
