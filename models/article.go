package models

import (
	"time"

	"gorm.io/datatypes"
)

// ArticleStatus follows draft -> (pending) -> published, or rejected by moderation.
type ArticleStatus string

const (
	ArticleDraft     ArticleStatus = "draft"
	ArticlePending   ArticleStatus = "pending"
	ArticlePublished ArticleStatus = "published"
	ArticleRejected  ArticleStatus = "rejected"
)

// Valid reports whether s is a known article state.
func (s ArticleStatus) Valid() bool {
	switch s {
	case ArticleDraft, ArticlePending, ArticlePublished, ArticleRejected:
		return true
	}
	return false
}

// ArticleSection is one H2 block of an article.
type ArticleSection struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// FAQItem is one question/answer pair.
type FAQItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ArticleContent is the structured form the HTML body is regenerated from.
type ArticleContent struct {
	Sections []ArticleSection `json:"sections"`
	FAQ      []FAQItem        `json:"faq"`
}

// Article is an SEO content piece authored by an expert.
type Article struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ExpertID uint    `json:"expert_id" gorm:"not null;uniqueIndex:idx_articles_expert_slug;index"`
	Expert   *Expert `json:"expert,omitempty" gorm:"foreignKey:ExpertID;constraint:OnDelete:CASCADE"`

	Title        string                             `json:"title" gorm:"not null"`
	Slug         string                             `json:"slug" gorm:"not null;uniqueIndex:idx_articles_expert_slug"`
	Introduction string                             `json:"introduction" gorm:"type:text"`
	HTML         string                             `json:"html" gorm:"column:html;type:text"`
	Content      datatypes.JSONType[ArticleContent] `json:"content"`
	City         string                             `json:"city,omitempty"`

	// SEO
	MetaTitle       string `json:"meta_title,omitempty"`
	MetaDescription string `json:"meta_description,omitempty"`
	MainImageURL    string `json:"main_image_url,omitempty"`

	Status      ArticleStatus `json:"status" gorm:"type:varchar(16);index;default:'draft'"`
	PublishedAt *time.Time    `json:"published_at,omitempty" gorm:"index"`
}

// TableName sets the table name explicitly.
func (Article) TableName() string {
	return "articles"
}
