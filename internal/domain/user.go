package domain

import "time"

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleBrand Role = "brand"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleBrand:
		return true
	}
	return false
}

type User struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	Name            string        `gorm:"size:100;not null" json:"name"`
	Email           string        `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash    string        `gorm:"size:128;not null" json:"-"`
	Role            Role          `gorm:"size:16;not null;default:user" json:"role"`
	IsActive        bool          `gorm:"not null;default:true" json:"is_active"`
	IsEmailVerified bool          `gorm:"not null;default:false" json:"is_email_verified"`
	LastLoginAt     *time.Time    `json:"last_login_at,omitempty"`
	Brand           *BrandDetails `gorm:"embedded;embeddedPrefix:brand_" json:"brand,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// BrandDetails is populated only for brand accounts.
type BrandDetails struct {
	CompanyName string `gorm:"size:200" json:"company_name,omitempty"`
	Website     string `gorm:"size:255" json:"website,omitempty"`
	Industry    string `gorm:"size:100" json:"industry,omitempty"`
	Location    string `gorm:"size:200" json:"location,omitempty"`
}
