package models

// TagKind separates the four independent tag collections of an expert.
type TagKind string

const (
	TagTechnology   TagKind = "technology"
	TagBuildingType TagKind = "building_type"
	TagIntervention TagKind = "intervention"
	TagBrand        TagKind = "brand"
)

// Tag is a label from one of the expert tag collections (e.g. "pac-air-eau").
type Tag struct {
	ID   uint    `json:"id" gorm:"primaryKey"`
	Kind TagKind `json:"kind" gorm:"type:varchar(32);not null;uniqueIndex:idx_tags_kind_slug"`
	Slug string  `json:"slug" gorm:"not null;uniqueIndex:idx_tags_kind_slug"`
	Name string  `json:"name"`
	// Interventions are scoped to one expert category; empty for the other kinds.
	Category ExpertCategory `json:"category,omitempty" gorm:"type:varchar(32)"`
}

// TableName sets the table name explicitly.
func (Tag) TableName() string {
	return "tags"
}
