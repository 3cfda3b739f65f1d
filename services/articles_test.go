package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"gainable/config"
	"gainable/models"
)

var testNow = time.Date(2025, 6, 18, 14, 0, 0, 0, time.UTC)

func goodContent() models.ArticleContent {
	body := strings.TrimSpace(strings.Repeat("entretien ", 210))
	return models.ArticleContent{
		Sections: []models.ArticleSection{
			{Heading: "Principe du gainable", Body: body},
			{Heading: "Coût d'installation", Body: body},
			{Heading: "Entretien annuel", Body: body},
		},
		FAQ: []models.FAQItem{
			{Question: "Est-ce bruyant ?", Answer: "Non, l'unité est cachée."},
			{Question: "Quelle surface ?", Answer: "Toute la maison."},
			{Question: "Quelle garantie ?", Answer: "Celle du fabricant."},
		},
	}
}

func contentJSON(t *testing.T, c models.ArticleContent) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	return b
}

func TestCanPublish(t *testing.T) {
	policy := config.DefaultArticlePolicy()
	tests := []struct {
		name string
		edit func(*models.ArticleContent, *string)
		ok   bool
	}{
		{"complete article", func(*models.ArticleContent, *string) {}, true},
		{"too few sections", func(c *models.ArticleContent, _ *string) { c.Sections = c.Sections[:2] }, false},
		{"too few faq", func(c *models.ArticleContent, _ *string) { c.FAQ = c.FAQ[:1] }, false},
		{"too short", func(c *models.ArticleContent, _ *string) {
			for i := range c.Sections {
				c.Sections[i].Body = "court"
			}
		}, false},
		{"forbidden phrase any case", func(_ *models.ArticleContent, intro *string) { *intro = "Le MEILLEUR PRIX de Lyon" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := goodContent()
			intro := "Tout savoir sur la climatisation gainable."
			tt.edit(&c, &intro)
			err := CanPublish("Climatisation gainable", intro, c, policy)
			if tt.ok && err != nil {
				t.Fatalf("CanPublish: %v", err)
			}
			var p *PolicyError
			if !tt.ok && !errors.As(err, &p) {
				t.Fatalf("expected policy error, got %v", err)
			}
		})
	}
}

func newArticleService(t *testing.T) *ArticleService {
	t.Helper()
	s := NewArticleService(testConfig(), config.DefaultArticlePolicy(), newTestDB(t), &fakeAssistant{}, nopLogger(), testMetrics())
	s.Now = func() time.Time { return testNow }
	return s
}

func publishable(t *testing.T, title string) ArticleInput {
	return ArticleInput{
		Title:        title,
		Introduction: "Tout savoir sur la climatisation gainable.",
		Content:      contentJSON(t, goodContent()),
		Status:       models.ArticlePublished,
	}
}

func TestCreate_DraftSkipsGate(t *testing.T) {
	s := newArticleService(t)
	e := createExpert(t, s.DB, "Auteur")

	a, err := s.Create(context.Background(), e.ID, ArticleInput{Title: "Brouillon", Status: models.ArticleDraft})
	if err != nil {
		t.Fatalf("Create draft: %v", err)
	}
	if a.Status != models.ArticleDraft || a.PublishedAt != nil || a.Slug != "brouillon" {
		t.Fatalf("unexpected draft %+v", a)
	}
}

func TestCreate_PublishRendersHTML(t *testing.T) {
	s := newArticleService(t)
	e := createExpert(t, s.DB, "Auteur")

	a, err := s.Create(context.Background(), e.ID, publishable(t, "Clim gainable à Lyon"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.Status != models.ArticlePublished || a.PublishedAt == nil || !a.PublishedAt.Equal(testNow) {
		t.Fatalf("not published: %+v", a)
	}
	if !strings.Contains(a.HTML, "<h2>Principe du gainable</h2>") || !strings.Contains(a.HTML, `class="faq"`) {
		t.Fatalf("unexpected HTML: %s", a.HTML)
	}
	if a.Slug != "clim-gainable-a-lyon" {
		t.Fatalf("slug = %q", a.Slug)
	}

	got, err := s.GetPublished(context.Background(), e.Slug, a.Slug)
	if err != nil || got.ID != a.ID {
		t.Fatalf("GetPublished = %v, %v", got, err)
	}
}

func TestCreate_SlugUniquePerExpert(t *testing.T) {
	s := newArticleService(t)
	e := createExpert(t, s.DB, "Auteur")
	other := createExpert(t, s.DB, "Autre")

	first, _ := s.Create(context.Background(), e.ID, ArticleInput{Title: "Guide"})
	second, err := s.Create(context.Background(), e.ID, ArticleInput{Title: "Guide"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	third, _ := s.Create(context.Background(), other.ID, ArticleInput{Title: "Guide"})
	if first.Slug != "guide" || second.Slug != "guide-2" || third.Slug != "guide" {
		t.Fatalf("slugs = %s, %s, %s", first.Slug, second.Slug, third.Slug)
	}
}

func TestPublish_MonthlyQuota(t *testing.T) {
	s := newArticleService(t)
	e := createExpert(t, s.DB, "Prolifique")
	ctx := context.Background()

	lastMonth := testNow.AddDate(0, -1, 0)
	old := models.Article{ExpertID: e.ID, Title: "Ancien", Slug: "ancien", Status: models.ArticlePublished, PublishedAt: &lastMonth}
	if err := s.DB.Create(&old).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	for i := 0; i < s.Policy.MonthlyQuota; i++ {
		if _, err := s.Create(ctx, e.ID, publishable(t, "Article")); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	_, err := s.Create(ctx, e.ID, publishable(t, "Article"))
	var p *PolicyError
	if !errors.As(err, &p) || p.Status() != http.StatusForbidden {
		t.Fatalf("expected quota violation, got %v", err)
	}

	// The same limit applies when publishing through an update.
	draft, err := s.Create(ctx, e.ID, ArticleInput{Title: "Brouillon"})
	if err != nil {
		t.Fatalf("Create draft: %v", err)
	}
	if _, err := s.Update(ctx, e.ID, draft.ID, publishable(t, "Brouillon")); !errors.As(err, &p) {
		t.Fatalf("expected quota violation on update, got %v", err)
	}
}

func TestPublish_ReservedAccountBypassesQuota(t *testing.T) {
	s := newArticleService(t)
	editorial := createUser(t, s.DB, "redaction@gainable.test")
	e := createExpert(t, s.DB, "Redaction", withUser(editorial.ID))
	for i := 0; i < s.Policy.MonthlyQuota+2; i++ {
		if _, err := s.Create(context.Background(), e.ID, publishable(t, "Edito")); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
}

func TestPublish_ReservedContactEmailKeepsQuota(t *testing.T) {
	s := newArticleService(t)
	owner := createUser(t, s.DB, "pro@clim.test")
	e := createExpert(t, s.DB, "Malin", withUser(owner.ID), withEmail("REDACTION@gainable.test"))
	ctx := context.Background()

	for i := 0; i < s.Policy.MonthlyQuota; i++ {
		if _, err := s.Create(ctx, e.ID, publishable(t, "Article")); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	_, err := s.Create(ctx, e.ID, publishable(t, "Article"))
	var p *PolicyError
	if !errors.As(err, &p) || p.Status() != http.StatusForbidden {
		t.Fatalf("expected quota violation, got %v", err)
	}
}

func TestUpdate_PublishedArticleStaysGated(t *testing.T) {
	s := newArticleService(t)
	e := createExpert(t, s.DB, "Auteur")
	ctx := context.Background()

	a, err := s.Create(ctx, e.ID, publishable(t, "Guide"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	publishedAt := *a.PublishedAt

	gutted := ArticleInput{
		Title:        "Guide",
		Introduction: "Le meilleur prix de Lyon",
		Content:      json.RawMessage(`{"sections":[]}`),
	}
	var p *PolicyError
	if _, err := s.Update(ctx, e.ID, a.ID, gutted); !errors.As(err, &p) {
		t.Fatalf("expected gate refusal, got %v", err)
	}
	var stored models.Article
	if err := s.DB.First(&stored, a.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != models.ArticlePublished || len(stored.Content.Data().Sections) != 3 {
		t.Fatalf("refused edit was stored: %+v", stored)
	}

	// A compliant edit without a status keeps the article live and does not count again.
	edit := publishable(t, "Guide")
	edit.Status = ""
	edit.Introduction = "Tout savoir sur le gainable, mis à jour."
	updated, err := s.Update(ctx, e.ID, a.ID, edit)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != models.ArticlePublished || !updated.PublishedAt.Equal(publishedAt) {
		t.Fatalf("unexpected article %+v", updated)
	}

	// Drafts are saved without the gate.
	draft, _ := s.Create(ctx, e.ID, ArticleInput{Title: "Brouillon"})
	if _, err := s.Update(ctx, e.ID, draft.ID, gutted); err != nil {
		t.Fatalf("draft update: %v", err)
	}
}

func TestUpdate_GateAndOwnership(t *testing.T) {
	s := newArticleService(t)
	e := createExpert(t, s.DB, "Auteur")
	other := createExpert(t, s.DB, "Intrus")
	ctx := context.Background()

	a, _ := s.Create(ctx, e.ID, ArticleInput{Title: "Guide"})
	if _, err := s.Update(ctx, other.ID, a.ID, ArticleInput{Title: "Vol"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign update: %v", err)
	}

	thin := ArticleInput{Title: "Guide", Status: models.ArticlePublished,
		Content: contentJSON(t, models.ArticleContent{Sections: []models.ArticleSection{{Heading: "Seul", Body: "court"}}})}
	var p *PolicyError
	if _, err := s.Update(ctx, e.ID, a.ID, thin); !errors.As(err, &p) {
		t.Fatalf("expected gate refusal, got %v", err)
	}

	updated, err := s.Update(ctx, e.ID, a.ID, publishable(t, "Guide complet"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != models.ArticlePublished || updated.Slug != "guide-complet" {
		t.Fatalf("unexpected article %+v", updated)
	}

	if err := s.Delete(ctx, other.ID, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign delete: %v", err)
	}
	if err := s.Delete(ctx, e.ID, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestModerate(t *testing.T) {
	s := newArticleService(t)
	e := createExpert(t, s.DB, "Auteur")
	ctx := context.Background()

	in := publishable(t, "En attente")
	in.Status = models.ArticlePending
	a, err := s.Create(ctx, e.ID, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	published, err := s.Moderate(ctx, a.ID, true)
	if err != nil || published.Status != models.ArticlePublished {
		t.Fatalf("Moderate publish = %+v, %v", published, err)
	}
	rejected, err := s.Moderate(ctx, a.ID, false)
	if err != nil || rejected.Status != models.ArticleRejected || rejected.PublishedAt != nil {
		t.Fatalf("Moderate reject = %+v, %v", rejected, err)
	}
	if _, err := s.Moderate(ctx, 999, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown article: %v", err)
	}
}

func TestParseArticleContent_Schema(t *testing.T) {
	ctx := context.Background()
	var v *ValidationError
	if _, err := ParseArticleContent(ctx, []byte(`{"sections":[{"body":"sans titre"}]}`)); !errors.As(err, &v) {
		t.Fatalf("missing heading accepted: %v", err)
	}
	if _, err := ParseArticleContent(ctx, []byte(`{"sections":"nope"}`)); !errors.As(err, &v) {
		t.Fatalf("wrong type accepted: %v", err)
	}
	c, err := ParseArticleContent(ctx, []byte(`{"sections":[{"heading":"A","body":"b"}],"faq":[]}`))
	if err != nil || len(c.Sections) != 1 {
		t.Fatalf("valid content rejected: %v", err)
	}
}

func TestSuggest(t *testing.T) {
	s := newArticleService(t)
	s.Assistant = &fakeAssistant{out: []byte(`{"sections":[{"heading":"Intro","body":"..."}],"faq":[{"question":"Q","answer":"R"}]}`)}
	c, err := s.Suggest(context.Background(), "clim gainable", "Lyon")
	if err != nil || len(c.Sections) != 1 || len(c.FAQ) != 1 {
		t.Fatalf("Suggest = %+v, %v", c, err)
	}

	s.Assistant = &fakeAssistant{out: []byte(`{"sections":[{"title":"bad"}]}`)}
	var up *UpstreamError
	if _, err := s.Suggest(context.Background(), "clim", ""); !errors.As(err, &up) {
		t.Fatalf("malformed outline accepted: %v", err)
	}
}
