package models

import "time"

// Role is the authorization role carried in session tokens.
type Role string

const (
	RoleExpert Role = "expert"
	RoleAdmin  Role = "admin"
)

// User is a login account. Experts have exactly one user.
type User struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Email        string `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"not null"`
	Role         Role   `json:"role" gorm:"type:varchar(16);not null;default:'expert'"`
}

// TableName sets the table name explicitly.
func (User) TableName() string {
	return "users"
}
