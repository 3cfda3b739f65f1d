package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gainable/config"
	"gainable/geo"
	"gainable/models"
)

// ExpertFilter is a directory search request. Every set field narrows the
// result; tag lists match when the expert has at least one of the slugs.
type ExpertFilter struct {
	Query   string
	City    string
	Country string

	Categories    []models.ExpertCategory
	Technologies  []string
	BuildingTypes []string
	Interventions []string
	Brands        []string

	// Point switches the search to radius mode and disables the city filter.
	Point *geo.Point
}

// ExpertResult is one search hit. DistanceKm is set in radius mode.
type ExpertResult struct {
	models.Expert
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// ExpertService serves the public expert directory.
type ExpertService struct {
	Config  *config.Config
	DB      *gorm.DB
	Logger  *zap.Logger
	Metrics *Metrics
}

// NewExpertService creates a new ExpertService.
func NewExpertService(cfg *config.Config, db *gorm.DB, logger *zap.Logger, m *Metrics) *ExpertService {
	return &ExpertService{Config: cfg, DB: db, Logger: logger, Metrics: m}
}

// Search returns the active experts matching f, ordered by id.
func (s *ExpertService) Search(ctx context.Context, f ExpertFilter) ([]ExpertResult, error) {
	if f.Point != nil && !f.Point.Valid() {
		return nil, invalid("lat/lng", "coordonnées hors limites")
	}
	s.Metrics.ExpertSearches.Inc()

	var experts []models.Expert
	if err := s.filterQuery(ctx, f).Preload("Tags").Order("experts.id").Find(&experts).Error; err != nil {
		s.Logger.Error("Expert search failed", zap.Error(err))
		return nil, err
	}

	results := make([]ExpertResult, 0, len(experts))
	for _, e := range experts {
		if f.Point == nil {
			results = append(results, ExpertResult{Expert: e})
			continue
		}
		d, ok := geo.Within(*f.Point, geo.Point{Lat: e.Latitude, Lng: e.Longitude}, e.Radius())
		if !ok {
			continue
		}
		results = append(results, ExpertResult{Expert: e, DistanceKm: &d})
	}

	s.Logger.Debug("Expert search served",
		zap.String("query", f.Query),
		zap.Bool("radius_mode", f.Point != nil),
		zap.Int("candidates", len(experts)),
		zap.Int("results", len(results)))
	return results, nil
}

func (s *ExpertService) filterQuery(ctx context.Context, f ExpertFilter) *gorm.DB {
	q := s.DB.WithContext(ctx).Model(&models.Expert{}).
		Where("experts.status = ?", models.ExpertActive)

	if reserved := strings.TrimSpace(s.Config.ReservedAccount); reserved != "" {
		q = q.Where("experts.user_id NOT IN (SELECT id FROM users WHERE LOWER(email) = ?)", strings.ToLower(reserved))
	}
	if text := strings.ToLower(strings.TrimSpace(f.Query)); text != "" {
		like := "%" + likeEscaper.Replace(text) + "%"
		q = q.Where(`(LOWER(experts.name) LIKE ? ESCAPE '\' OR LOWER(experts.city) LIKE ? ESCAPE '\' OR LOWER(experts.postal_code) LIKE ? ESCAPE '\')`,
			like, like, like)
	}
	if city := strings.TrimSpace(f.City); city != "" && f.Point == nil {
		q = q.Where("LOWER(experts.city) = ?", strings.ToLower(city))
	}
	if country := strings.TrimSpace(f.Country); country != "" {
		q = q.Where("LOWER(experts.country) = ?", strings.ToLower(country))
	}

	var categories []models.ExpertCategory
	for _, c := range f.Categories {
		if c.Valid() {
			categories = append(categories, c)
		}
	}
	if len(categories) > 0 {
		q = q.Where("experts.category IN ?", categories)
	}

	for kind, slugs := range map[models.TagKind][]string{
		models.TagTechnology:   f.Technologies,
		models.TagBuildingType: f.BuildingTypes,
		models.TagIntervention: f.Interventions,
		models.TagBrand:        f.Brands,
	} {
		if len(slugs) == 0 {
			continue
		}
		q = q.Where(`experts.id IN (SELECT et.expert_id FROM expert_tags et
			JOIN tags t ON t.id = et.tag_id WHERE t.kind = ? AND t.slug IN ?)`, kind, slugs)
	}
	return q
}

// GetBySlug returns the public profile of an active expert.
func (s *ExpertService) GetBySlug(ctx context.Context, slug string) (*models.Expert, error) {
	var e models.Expert
	err := s.DB.WithContext(ctx).Preload("Tags").
		Where("slug = ? AND status = ?", slug, models.ExpertActive).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// likeEscaper makes user text match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// IsReserved reports whether email is the editorial account address.
func IsReserved(cfg *config.Config, email string) bool {
	reserved := strings.TrimSpace(cfg.ReservedAccount)
	return reserved != "" && strings.EqualFold(reserved, strings.TrimSpace(email))
}

// ownedByReservedAccount reports whether the expert belongs to the editorial
// login. The login email is unique and cannot be edited by the expert, unlike
// the contact email of the profile.
func ownedByReservedAccount(tx *gorm.DB, cfg *config.Config, expertID uint) (bool, error) {
	var user models.User
	err := tx.Model(&models.User{}).Select("users.email").
		Joins("JOIN experts ON experts.user_id = users.id").
		Where("experts.id = ?", expertID).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return IsReserved(cfg, user.Email), nil
}
