package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/observability"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

type UserListQuery struct {
	PageRequest
	Email string
	Role  domain.Role
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	UpdatePassword(ctx context.Context, id uint, passwordHash string) error
	MarkLogin(ctx context.Context, id uint) error
	MarkEmailVerified(ctx context.Context, id uint) error
	SetActive(ctx context.Context, id uint, active bool) error
	ListPaged(ctx context.Context, query UserListQuery) (PageResult[domain.User], error)
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if err != nil {
		if isUniqueViolation(err) {
			observability.RecordRepositoryOperation(ctx, "user", "create", "duplicate")
			return ErrDuplicateEmail
		}
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "create", "success")
	return nil
}

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).First(&u, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "success")
	return &u, nil
}

func (r *GormUserRepository) Update(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Save(user).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "update", "success")
	return nil
}

func (r *GormUserRepository) UpdatePassword(ctx context.Context, id uint, passwordHash string) error {
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Update("password_hash", passwordHash).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "update_password", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "update_password", "success")
	return nil
}

func (r *GormUserRepository) MarkLogin(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Update("last_login_at", time.Now().UTC()).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "mark_login", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "mark_login", "success")
	return nil
}

func (r *GormUserRepository) MarkEmailVerified(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Update("is_email_verified", true).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "mark_email_verified", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "mark_email_verified", "success")
	return nil
}

func (r *GormUserRepository) SetActive(ctx context.Context, id uint, active bool) error {
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Update("is_active", active).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "set_active", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "set_active", "success")
	return nil
}

func (r *GormUserRepository) ListPaged(ctx context.Context, query UserListQuery) (PageResult[domain.User], error) {
	req := normalizePageRequest(query.PageRequest)
	result := PageResult[domain.User]{Page: req.Page, PageSize: req.PageSize}

	base := r.db.WithContext(ctx).Model(&domain.User{})
	if query.Email != "" {
		base = base.Where("email LIKE ?", query.Email+"%")
	}
	if query.Role != "" {
		base = base.Where("role = ?", query.Role)
	}

	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "list_paged", "error")
		return result, err
	}
	err := base.Order("created_at DESC").
		Offset(query.offset()).
		Limit(req.PageSize).
		Find(&result.Items).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "list_paged", "error")
		return result, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(ctx, "user", "list_paged", "success")
	return result, nil
}
