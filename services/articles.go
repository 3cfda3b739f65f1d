package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/qri-io/jsonschema"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"gainable/config"
	"gainable/models"
	"gainable/providers"
)

const articleContentSchema = `{
  "type": "object",
  "required": ["sections"],
  "properties": {
    "sections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["heading", "body"],
        "properties": {
          "heading": {"type": "string", "minLength": 1},
          "body": {"type": "string"}
        }
      }
    },
    "faq": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["question", "answer"],
        "properties": {
          "question": {"type": "string", "minLength": 1},
          "answer": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var contentSchema = func() *jsonschema.Schema {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(articleContentSchema), rs); err != nil {
		panic(err)
	}
	return rs
}()

// ParseArticleContent validates raw structured content and decodes it.
func ParseArticleContent(ctx context.Context, raw []byte) (models.ArticleContent, error) {
	var content models.ArticleContent
	if len(bytes.TrimSpace(raw)) == 0 {
		return content, nil
	}
	keyErrs, err := contentSchema.ValidateBytes(ctx, raw)
	if err != nil {
		return content, invalid("content", "JSON invalide")
	}
	if len(keyErrs) > 0 {
		return content, invalid("content", fmt.Sprintf("%s %s", keyErrs[0].PropertyPath, keyErrs[0].Message))
	}
	if err := json.Unmarshal(raw, &content); err != nil {
		return content, invalid("content", "JSON invalide")
	}
	return content, nil
}

// CanPublish is the single publish-eligibility check for an article body.
// It returns a *PolicyError naming the first rule that fails.
func CanPublish(title, intro string, content models.ArticleContent, policy config.ArticlePolicy) error {
	if len(content.Sections) < policy.MinSections {
		return &PolicyError{Reason: fmt.Sprintf("au moins %d sections sont requises (%d)", policy.MinSections, len(content.Sections))}
	}
	if len(content.FAQ) < policy.MinFAQ {
		return &PolicyError{Reason: fmt.Sprintf("au moins %d questions de FAQ sont requises (%d)", policy.MinFAQ, len(content.FAQ))}
	}

	text := articleText(title, intro, content)
	if words := len(strings.Fields(text)); words < policy.MinWords {
		return &PolicyError{Reason: fmt.Sprintf("l'article doit comporter au moins %d mots (%d)", policy.MinWords, words)}
	}
	lower := strings.ToLower(text)
	for _, phrase := range policy.ForbiddenPhrases {
		if p := strings.ToLower(strings.TrimSpace(phrase)); p != "" && strings.Contains(lower, p) {
			return &PolicyError{Reason: fmt.Sprintf("expression interdite : %q", phrase)}
		}
	}
	return nil
}

func articleText(title, intro string, content models.ArticleContent) string {
	var b strings.Builder
	b.WriteString(title + "\n" + intro + "\n")
	for _, s := range content.Sections {
		b.WriteString(s.Heading + "\n" + s.Body + "\n")
	}
	for _, f := range content.FAQ {
		b.WriteString(f.Question + "\n" + f.Answer + "\n")
	}
	return b.String()
}

var articleTmpl = template.Must(template.New("article").Funcs(template.FuncMap{
	"paragraphs": func(s string) []string {
		var out []string
		for _, p := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	},
}).Parse(`{{range paragraphs .Introduction}}<p>{{.}}</p>
{{end}}{{range .Content.Sections}}<h2>{{.Heading}}</h2>
{{range paragraphs .Body}}<p>{{.}}</p>
{{end}}{{end}}{{if .Content.FAQ}}<section class="faq">
<h2>Questions fréquentes</h2>
{{range .Content.FAQ}}<h3>{{.Question}}</h3>
<p>{{.Answer}}</p>
{{end}}</section>
{{end}}`))

// RenderArticleHTML regenerates the escaped HTML body from the structured content.
func RenderArticleHTML(intro string, content models.ArticleContent) (string, error) {
	var buf bytes.Buffer
	err := articleTmpl.Execute(&buf, struct {
		Introduction string
		Content      models.ArticleContent
	}{intro, content})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ArticleInput is the editable part of an article.
type ArticleInput struct {
	Title           string               `json:"title"`
	Introduction    string               `json:"introduction"`
	City            string               `json:"city"`
	MetaTitle       string               `json:"meta_title"`
	MetaDescription string               `json:"meta_description"`
	MainImageURL    string               `json:"main_image_url"`
	Content         json.RawMessage      `json:"content"`
	Status          models.ArticleStatus `json:"status"`
}

// ArticleService manages expert-authored articles.
type ArticleService struct {
	Config    *config.Config
	Policy    config.ArticlePolicy
	DB        *gorm.DB
	Assistant providers.ArticleAssistant
	Logger    *zap.Logger
	Metrics   *Metrics
	Now       func() time.Time
}

// NewArticleService creates a new ArticleService.
func NewArticleService(cfg *config.Config, policy config.ArticlePolicy, db *gorm.DB, assistant providers.ArticleAssistant, logger *zap.Logger, m *Metrics) *ArticleService {
	return &ArticleService{Config: cfg, Policy: policy, DB: db, Assistant: assistant, Logger: logger, Metrics: m, Now: time.Now}
}

// ListMine returns every article of an expert, newest first.
func (s *ArticleService) ListMine(ctx context.Context, expertID uint) ([]models.Article, error) {
	var articles []models.Article
	err := s.DB.WithContext(ctx).Where("expert_id = ?", expertID).Order("created_at DESC, id DESC").Find(&articles).Error
	return articles, err
}

// ListPublished returns the published articles of an expert.
func (s *ArticleService) ListPublished(ctx context.Context, expertID uint) ([]models.Article, error) {
	var articles []models.Article
	err := s.DB.WithContext(ctx).
		Where("expert_id = ? AND status = ?", expertID, models.ArticlePublished).
		Order("published_at DESC").Find(&articles).Error
	return articles, err
}

// GetPublished returns one published article of an active expert.
func (s *ArticleService) GetPublished(ctx context.Context, expertSlug, articleSlug string) (*models.Article, error) {
	var a models.Article
	err := s.DB.WithContext(ctx).
		Joins("Expert").
		Where("articles.slug = ? AND articles.status = ?", articleSlug, models.ArticlePublished).
		Where(`"Expert"."slug" = ? AND "Expert"."status" = ?`, expertSlug, models.ExpertActive).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create stores a new article. Asking for published status runs the publish gate.
func (s *ArticleService) Create(ctx context.Context, expertID uint, in ArticleInput) (*models.Article, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, invalid("title", "le titre est obligatoire")
	}
	article := &models.Article{ExpertID: expertID, Status: models.ArticleDraft}
	if err := s.apply(ctx, article, in); err != nil {
		return nil, err
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slug, err := uniqueArticleSlug(tx, expertID, 0, in.Title)
		if err != nil {
			return err
		}
		article.Slug = slug
		if err := s.transition(tx, article, in.Status, false); err != nil {
			return err
		}
		return tx.Create(article).Error
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Article created", zap.Uint("article_id", article.ID), zap.String("status", string(article.Status)))
	return article, nil
}

// Update edits an article owned by expertID.
func (s *ArticleService) Update(ctx context.Context, expertID, articleID uint, in ArticleInput) (*models.Article, error) {
	var article models.Article
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND expert_id = ?", articleID, expertID).First(&article).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		titleChanged := in.Title != "" && in.Title != article.Title
		if err := s.apply(ctx, &article, in); err != nil {
			return err
		}
		if titleChanged && article.Status != models.ArticlePublished {
			slug, err := uniqueArticleSlug(tx, expertID, article.ID, article.Title)
			if err != nil {
				return err
			}
			article.Slug = slug
		}
		wasPublished := article.Status == models.ArticlePublished
		if err := s.transition(tx, &article, in.Status, wasPublished); err != nil {
			return err
		}
		return tx.Save(&article).Error
	})
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// Delete removes an article owned by expertID.
func (s *ArticleService) Delete(ctx context.Context, expertID, articleID uint) error {
	res := s.DB.WithContext(ctx).Where("id = ? AND expert_id = ?", articleID, expertID).Delete(&models.Article{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Moderate publishes or rejects an article on behalf of an administrator.
// Publishing runs the same gate as an expert would.
func (s *ArticleService) Moderate(ctx context.Context, articleID uint, publish bool) (*models.Article, error) {
	var article models.Article
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&article, articleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if !publish {
			article.Status = models.ArticleRejected
			article.PublishedAt = nil
			return tx.Save(&article).Error
		}
		if err := s.transition(tx, &article, models.ArticlePublished, article.Status == models.ArticlePublished); err != nil {
			return err
		}
		return tx.Save(&article).Error
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Article moderated", zap.Uint("article_id", articleID), zap.String("status", string(article.Status)))
	return &article, nil
}

// Suggest asks the assistant for an outline and checks it has the article shape.
func (s *ArticleService) Suggest(ctx context.Context, topic, city string) (models.ArticleContent, error) {
	if strings.TrimSpace(topic) == "" {
		return models.ArticleContent{}, invalid("topic", "le sujet est obligatoire")
	}
	raw, err := s.Assistant.SuggestOutline(ctx, topic, city)
	if err != nil {
		s.Logger.Warn("Article assistant failed", zap.Error(err))
		return models.ArticleContent{}, &UpstreamError{Provider: "gemini", Err: err}
	}
	content, err := ParseArticleContent(ctx, raw)
	if err != nil {
		return models.ArticleContent{}, &UpstreamError{Provider: "gemini", Err: err}
	}
	return content, nil
}

// apply copies the editable fields and regenerates the HTML body.
func (s *ArticleService) apply(ctx context.Context, a *models.Article, in ArticleInput) error {
	if t := strings.TrimSpace(in.Title); t != "" {
		a.Title = t
	}
	a.Introduction = strings.TrimSpace(in.Introduction)
	a.City = strings.TrimSpace(in.City)
	a.MetaTitle = in.MetaTitle
	a.MetaDescription = in.MetaDescription
	a.MainImageURL = in.MainImageURL

	if in.Content != nil {
		content, err := ParseArticleContent(ctx, in.Content)
		if err != nil {
			return err
		}
		a.Content = datatypes.NewJSONType(content)
	}
	html, err := RenderArticleHTML(a.Introduction, a.Content.Data())
	if err != nil {
		return fmt.Errorf("render article: %w", err)
	}
	a.HTML = html
	return nil
}

// transition moves a to the requested status. An empty status keeps the
// current one. Published status requires the quality gate, and the monthly
// quota unless the article already was published.
func (s *ArticleService) transition(tx *gorm.DB, a *models.Article, want models.ArticleStatus, wasPublished bool) error {
	if want == "" {
		if a.Status != models.ArticlePublished {
			return nil
		}
		// A live article must keep passing the gate after every edit.
		want = models.ArticlePublished
	}
	switch want {
	case models.ArticleDraft, models.ArticlePending:
		a.Status = want
		a.PublishedAt = nil
		return nil
	case models.ArticlePublished:
	default:
		return invalid("status", "statut inconnu")
	}

	if err := CanPublish(a.Title, a.Introduction, a.Content.Data(), s.Policy); err != nil {
		return err
	}
	if !wasPublished {
		if err := s.checkQuota(tx, a.ExpertID); err != nil {
			return err
		}
		now := s.Now()
		a.PublishedAt = &now
		s.Metrics.ArticlesPublished.Inc()
	}
	a.Status = models.ArticlePublished
	return nil
}

func (s *ArticleService) checkQuota(tx *gorm.DB, expertID uint) error {
	reserved, err := ownedByReservedAccount(tx, s.Config, expertID)
	if err != nil {
		return err
	}
	if reserved {
		return nil
	}

	now := s.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	var count int64
	err = tx.Model(&models.Article{}).
		Where("expert_id = ? AND status = ? AND published_at >= ?", expertID, models.ArticlePublished, monthStart).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count >= int64(s.Policy.MonthlyQuota) {
		return &PolicyError{
			Reason: fmt.Sprintf("quota mensuel de %d articles publiés atteint", s.Policy.MonthlyQuota),
			Code:   http.StatusForbidden,
		}
	}
	return nil
}

func uniqueArticleSlug(tx *gorm.DB, expertID, selfID uint, title string) (string, error) {
	base := Slugify(title)
	if base == "" {
		base = "article"
	}
	slug := base
	for i := 2; ; i++ {
		var n int64
		if err := tx.Model(&models.Article{}).
			Where("expert_id = ? AND slug = ? AND id <> ?", expertID, slug, selfID).
			Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}
