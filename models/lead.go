package models

import (
	"time"

	"gorm.io/datatypes"
)

// LeadStatus is informal; the intake only ever writes LeadNew.
type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadProcessed LeadStatus = "processed"
)

// LeadDetails is the semi-structured project description stored as JSON.
type LeadDetails struct {
	Message     string   `json:"message,omitempty"`
	Surface     string   `json:"surface,omitempty"`
	ProjectType string   `json:"project_type,omitempty"`
	Files       []string `json:"files,omitempty"`
}

// Lead is a consumer service inquiry.
type Lead struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	Name       string `json:"name" gorm:"not null"`
	Email      string `json:"email" gorm:"not null"`
	Phone      string `json:"phone"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code" gorm:"size:16"`
	Address    string `json:"address,omitempty"`

	Details datatypes.JSONType[LeadDetails] `json:"details"`
	Status  LeadStatus                      `json:"status" gorm:"type:varchar(16);default:'new';index"`

	TargetExpertID *uint            `json:"target_expert_id,omitempty" gorm:"index"`
	Assignments    []LeadAssignment `json:"assignments,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

// TableName sets the table name explicitly.
func (Lead) TableName() string {
	return "leads"
}

// LeadAssignment links a lead to an expert it was routed to.
type LeadAssignment struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	LeadID   uint `json:"lead_id" gorm:"not null;uniqueIndex:idx_lead_assignment"`
	ExpertID uint `json:"expert_id" gorm:"not null;uniqueIndex:idx_lead_assignment;index"`

	Expert *Expert `json:"expert,omitempty" gorm:"foreignKey:ExpertID"`
}

// TableName sets the table name explicitly.
func (LeadAssignment) TableName() string {
	return "lead_assignments"
}
