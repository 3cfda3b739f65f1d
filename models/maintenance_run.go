package models

import "time"

// MaintenanceRun records one execution of a maintenance job. A key that
// already succeeded is never run again.
type MaintenanceRun struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	Job            string     `json:"job" gorm:"index;not null"`
	IdempotencyKey string     `json:"idempotency_key" gorm:"uniqueIndex;not null"`
	Status         string     `json:"status" gorm:"type:varchar(16);index"` // running, succeeded, failed
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty" gorm:"type:text"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// TableName sets the table name explicitly.
func (MaintenanceRun) TableName() string {
	return "maintenance_runs"
}
