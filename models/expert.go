package models

import (
	"time"
)

// ExpertCategory is the professional family an expert belongs to.
type ExpertCategory string

const (
	CategoryInstaller     ExpertCategory = "installateur"
	CategoryThermalStudy  ExpertCategory = "bureau_etude"
	CategoryDiagnostician ExpertCategory = "diagnostiqueur"
)

// ExpertCategories lists the only categories a search may filter on.
var ExpertCategories = []ExpertCategory{CategoryInstaller, CategoryThermalStudy, CategoryDiagnostician}

// Valid reports whether c is one of the fixed categories.
func (c ExpertCategory) Valid() bool {
	for _, known := range ExpertCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ExpertStatus is the lifecycle state of an expert account.
type ExpertStatus string

const (
	ExpertPendingValidation ExpertStatus = "pending_validation"
	ExpertPendingPayment    ExpertStatus = "pending_payment"
	ExpertActive            ExpertStatus = "active"
	ExpertSuspended         ExpertStatus = "suspended"
)

// Valid reports whether s is a known lifecycle state.
func (s ExpertStatus) Valid() bool {
	switch s {
	case ExpertPendingValidation, ExpertPendingPayment, ExpertActive, ExpertSuspended:
		return true
	}
	return false
}

// DefaultInterventionRadiusKm applies when an expert never configured a radius.
const DefaultInterventionRadiusKm = 50

// Expert represents a registered professional listed in the directory.
type Expert struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID uint `json:"user_id" gorm:"index"`

	Name        string         `json:"name" gorm:"not null"`
	Category    ExpertCategory `json:"category" gorm:"type:varchar(32);index"`
	Email       string         `json:"email" gorm:"index"`
	Phone       string         `json:"phone,omitempty"`
	Siret       string         `json:"siret,omitempty" gorm:"size:14"`
	Description string         `json:"description,omitempty" gorm:"type:text"`
	Website     string         `json:"website,omitempty"`

	// Postal address
	Street     string `json:"street,omitempty"`
	City       string `json:"city" gorm:"index"`
	PostalCode string `json:"postal_code" gorm:"size:16"`
	Country    string `json:"country" gorm:"default:'France'"`

	// (0,0) means "no location set".
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	InterventionRadius int     `json:"intervention_radius"`

	Status  ExpertStatus `json:"status" gorm:"type:varchar(32);index;default:'pending_validation'"`
	Slug    string       `json:"slug" gorm:"uniqueIndex"`
	Labeled bool         `json:"labeled" gorm:"default:false"`

	Tags         []Tag         `json:"tags,omitempty" gorm:"many2many:expert_tags;constraint:OnDelete:CASCADE"`
	Subscription *Subscription `json:"subscription,omitempty" gorm:"foreignKey:ExpertID"`
}

// TableName sets the table name explicitly.
func (Expert) TableName() string {
	return "experts"
}

// Radius returns the service radius in kilometers, defaulting when unset.
func (e Expert) Radius() float64 {
	if e.InterventionRadius <= 0 {
		return DefaultInterventionRadiusKm
	}
	return float64(e.InterventionRadius)
}

// TagsOf returns the slugs of the expert's tags of one kind.
func (e Expert) TagsOf(kind TagKind) []string {
	var out []string
	for _, t := range e.Tags {
		if t.Kind == kind {
			out = append(out, t.Slug)
		}
	}
	return out
}
