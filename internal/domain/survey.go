package domain

import "time"

type FormStatus string

const (
	FormDraft     FormStatus = "draft"
	FormPublished FormStatus = "published"
	FormClosed    FormStatus = "closed"
)

type Category struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Description string `gorm:"size:500" json:"description,omitempty"`
}

// SurveyForm is a multi-question form authored by a brand or admin account.
// Questions are stored as a JSON blob; the service does not validate question
// schemas beyond well-formedness.
type SurveyForm struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	OwnerID     uint       `gorm:"index;not null" json:"owner_id"`
	CategoryID  *uint      `gorm:"index" json:"category_id,omitempty"`
	Title       string     `gorm:"size:200;not null" json:"title"`
	Description string     `gorm:"size:2000" json:"description,omitempty"`
	Questions   string     `gorm:"type:text;not null" json:"questions"`
	Status      FormStatus `gorm:"size:16;index;not null;default:draft" json:"status"`
	OpensAt     *time.Time `json:"opens_at,omitempty"`
	ClosesAt    *time.Time `json:"closes_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AcceptingResponses reports whether the form is published and inside its
// scheduled window at the given instant.
func (f *SurveyForm) AcceptingResponses(now time.Time) bool {
	if f.Status != FormPublished {
		return false
	}
	if f.OpensAt != nil && now.Before(*f.OpensAt) {
		return false
	}
	if f.ClosesAt != nil && now.After(*f.ClosesAt) {
		return false
	}
	return true
}

// SurveyResponse holds one submission. RespondentID is nil for anonymous
// submissions.
type SurveyResponse struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	FormID       uint      `gorm:"index;not null" json:"form_id"`
	RespondentID *uint     `gorm:"index" json:"respondent_id,omitempty"`
	Answers      string    `gorm:"type:text;not null" json:"answers"`
	IPAddress    string    `gorm:"size:64" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
