package models

import "gorm.io/gorm"

// AutoMigrate migrates every entity of the marketplace.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Tag{},
		&Expert{},
		&Subscription{},
		&Lead{},
		&LeadAssignment{},
		&Article{},
		&MaintenanceRun{},
	)
}
