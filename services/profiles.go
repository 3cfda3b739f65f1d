package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gainable/config"
	"gainable/geo"
	"gainable/models"
	"gainable/providers"
)

// MaxInterventionRadiusKm caps the service radius an expert may declare.
const MaxInterventionRadiusKm = 500

var siretPattern = regexp.MustCompile(`^\d{14}$`)

// ProfileInput holds the expert-editable profile fields.
type ProfileInput struct {
	Name               string                `json:"name"`
	Category           models.ExpertCategory `json:"category"`
	Email              string                `json:"email"`
	Phone              string                `json:"phone"`
	Siret              string                `json:"siret"`
	Description        string                `json:"description"`
	Website            string                `json:"website"`
	Street             string                `json:"street"`
	City               string                `json:"city"`
	PostalCode         string                `json:"postal_code"`
	Country            string                `json:"country"`
	InterventionRadius int                   `json:"intervention_radius"`

	Technologies  []string `json:"technologies"`
	BuildingTypes []string `json:"building_types"`
	Interventions []string `json:"interventions"`
	Brands        []string `json:"brands"`
}

// RegistrationInput is a new expert account request.
type RegistrationInput struct {
	ProfileInput
	Password string `json:"password"`
}

// ProfileService handles expert registration and profile self-edit.
type ProfileService struct {
	Config   *config.Config
	DB       *gorm.DB
	Geocoder providers.Geocoder
	Registry providers.CompanyRegistry
	Logger   *zap.Logger
}

// NewProfileService creates a new ProfileService.
func NewProfileService(cfg *config.Config, db *gorm.DB, geocoder providers.Geocoder, registry providers.CompanyRegistry, logger *zap.Logger) *ProfileService {
	return &ProfileService{Config: cfg, DB: db, Geocoder: geocoder, Registry: registry, Logger: logger}
}

func (in *ProfileInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Siret = strings.ReplaceAll(strings.TrimSpace(in.Siret), " ", "")
	in.City = strings.TrimSpace(in.City)
	in.PostalCode = strings.TrimSpace(in.PostalCode)
	in.Country = strings.TrimSpace(in.Country)
	if in.Country == "" {
		in.Country = "France"
	}
}

func (in *ProfileInput) validate() error {
	if in.Name == "" {
		return invalid("name", "le nom est obligatoire")
	}
	if !in.Category.Valid() {
		return invalid("category", "catégorie inconnue")
	}
	if !emailPattern.MatchString(in.Email) {
		return invalid("email", "adresse email invalide")
	}
	if in.City == "" {
		return invalid("city", "la ville est obligatoire")
	}
	if in.Siret != "" && !siretPattern.MatchString(in.Siret) {
		return invalid("siret", "le SIRET doit comporter 14 chiffres")
	}
	if isFrance(in.Country) && in.Siret == "" {
		return invalid("siret", "le SIRET est obligatoire en France")
	}
	if in.InterventionRadius < 0 || in.InterventionRadius > MaxInterventionRadiusKm {
		return invalid("intervention_radius", fmt.Sprintf("le rayon doit être compris entre 0 et %d km", MaxInterventionRadiusKm))
	}
	return nil
}

var errReservedEmail = invalid("email", "cette adresse est réservée")

func isFrance(country string) bool {
	return strings.EqualFold(country, "France") || strings.EqualFold(country, "FR")
}

// Register creates the user, the expert and its tags in one transaction.
// The expert starts in pending_validation.
func (s *ProfileService) Register(ctx context.Context, in RegistrationInput) (*models.User, *models.Expert, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, nil, err
	}
	if IsReserved(s.Config, in.Email) {
		return nil, nil, errReservedEmail
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, nil, err
	}
	if err := s.verifySiret(ctx, in.Siret, in.Country); err != nil {
		return nil, nil, err
	}

	user := &models.User{Email: strings.ToLower(in.Email), PasswordHash: hash, Role: models.RoleExpert}
	expert := &models.Expert{Status: models.ExpertPendingValidation}
	applyProfile(expert, &in.ProfileInput)
	s.locate(ctx, expert)

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Where("email = ?", user.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return invalid("email", "un compte existe déjà avec cette adresse")
		}
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		expert.UserID = user.ID
		slug, err := uniqueExpertSlug(tx, 0, expert.Name, expert.City)
		if err != nil {
			return err
		}
		expert.Slug = slug
		if err := tx.Omit("Tags", "Subscription").Create(expert).Error; err != nil {
			return err
		}
		return replaceTags(tx, expert, &in.ProfileInput)
	})
	if err != nil {
		return nil, nil, err
	}
	s.Logger.Info("Expert registered", zap.Uint("expert_id", expert.ID), zap.String("slug", expert.Slug))
	return user, expert, nil
}

// Get returns the full profile of an expert, whatever its status.
func (s *ProfileService) Get(ctx context.Context, expertID uint) (*models.Expert, error) {
	var e models.Expert
	err := s.DB.WithContext(ctx).Preload("Tags").Preload("Subscription").First(&e, expertID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Update applies a profile self-edit. Tags are replaced atomically and the
// address is geocoded again when it changed.
func (s *ProfileService) Update(ctx context.Context, expertID uint, in ProfileInput) (*models.Expert, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}
	expert, err := s.Get(ctx, expertID)
	if err != nil {
		return nil, err
	}
	if IsReserved(s.Config, in.Email) {
		owned, err := ownedByReservedAccount(s.DB.WithContext(ctx), s.Config, expertID)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, errReservedEmail
		}
	}
	if in.Siret != expert.Siret {
		if err := s.verifySiret(ctx, in.Siret, in.Country); err != nil {
			return nil, err
		}
	}

	oldAddress := addressOf(expert)
	applyProfile(expert, &in)
	if addressOf(expert) != oldAddress || !expertPoint(expert).IsSet() {
		s.locate(ctx, expert)
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Tags", "Subscription").Save(expert).Error; err != nil {
			return err
		}
		return replaceTags(tx, expert, &in)
	})
	if err != nil {
		return nil, err
	}
	return expert, nil
}

// verifySiret rejects unknown or closed establishments. An unreachable
// registry does not block the save; an administrator validates later.
func (s *ProfileService) verifySiret(ctx context.Context, siret, country string) error {
	if siret == "" || !isFrance(country) {
		return nil
	}
	company, err := s.Registry.LookupSiret(ctx, siret)
	if errors.Is(err, providers.ErrNotFound) {
		return invalid("siret", "SIRET introuvable")
	}
	if err != nil {
		s.Logger.Warn("Company registry unavailable, SIRET not verified", zap.String("siret", siret), zap.Error(err))
		return nil
	}
	if !company.Active {
		return invalid("siret", "cet établissement est fermé")
	}
	return nil
}

// locate geocodes the expert address. Failure leaves the location unset.
func (s *ProfileService) locate(ctx context.Context, e *models.Expert) {
	p, err := s.Geocoder.Geocode(ctx, addressOf(e))
	if err != nil {
		s.Logger.Warn("Geocoding failed, location left unset", zap.String("address", addressOf(e)), zap.Error(err))
		e.Latitude, e.Longitude = 0, 0
		return
	}
	e.Latitude, e.Longitude = p.Lat, p.Lng
}

func applyProfile(e *models.Expert, in *ProfileInput) {
	e.Name = in.Name
	e.Category = in.Category
	e.Email = in.Email
	e.Phone = strings.TrimSpace(in.Phone)
	e.Siret = in.Siret
	e.Description = strings.TrimSpace(in.Description)
	e.Website = strings.TrimSpace(in.Website)
	e.Street = strings.TrimSpace(in.Street)
	e.City = in.City
	e.PostalCode = in.PostalCode
	e.Country = in.Country
	e.InterventionRadius = in.InterventionRadius
}

func addressOf(e *models.Expert) string {
	parts := []string{}
	for _, p := range []string{e.Street, strings.TrimSpace(e.PostalCode + " " + e.City), e.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func expertPoint(e *models.Expert) geo.Point {
	return geo.Point{Lat: e.Latitude, Lng: e.Longitude}
}

// replaceTags swaps the four tag collections of e for the ones in in.
func replaceTags(tx *gorm.DB, e *models.Expert, in *ProfileInput) error {
	var tags []models.Tag
	for kind, slugs := range map[models.TagKind][]string{
		models.TagTechnology:   in.Technologies,
		models.TagBuildingType: in.BuildingTypes,
		models.TagIntervention: in.Interventions,
		models.TagBrand:        in.Brands,
	} {
		for _, raw := range slugs {
			slug := Slugify(raw)
			if slug == "" {
				continue
			}
			tag := models.Tag{Kind: kind, Slug: slug}
			attrs := models.Tag{Name: strings.TrimSpace(raw)}
			if kind == models.TagIntervention {
				attrs.Category = e.Category
			}
			if err := tx.Where(&tag).Attrs(attrs).FirstOrCreate(&tag).Error; err != nil {
				return fmt.Errorf("resolve tag %s/%s: %w", kind, slug, err)
			}
			tags = append(tags, tag)
		}
	}
	if err := tx.Model(e).Association("Tags").Replace(tags); err != nil {
		return err
	}
	e.Tags = tags
	return nil
}

func uniqueExpertSlug(tx *gorm.DB, selfID uint, name, city string) (string, error) {
	base := Slugify(name + " " + city)
	if base == "" {
		base = "expert"
	}
	slug := base
	for i := 2; ; i++ {
		var n int64
		if err := tx.Model(&models.Expert{}).Where("slug = ? AND id <> ?", slug, selfID).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}
