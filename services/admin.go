package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gainable/config"
	"gainable/geo"
	"gainable/models"
	"gainable/providers"
)

// AdminService backs the moderation back-office.
type AdminService struct {
	Config   *config.Config
	DB       *gorm.DB
	Geocoder providers.Geocoder
	Logger   *zap.Logger
}

// NewAdminService creates a new AdminService.
func NewAdminService(cfg *config.Config, db *gorm.DB, geocoder providers.Geocoder, logger *zap.Logger) *AdminService {
	return &AdminService{Config: cfg, DB: db, Geocoder: geocoder, Logger: logger}
}

// ListExperts returns experts of any status, optionally restricted to one.
func (s *AdminService) ListExperts(ctx context.Context, status models.ExpertStatus) ([]models.Expert, error) {
	q := s.DB.WithContext(ctx).Preload("Subscription").Order("created_at DESC, id DESC")
	if status != "" {
		if !status.Valid() {
			return nil, invalid("status", "statut inconnu")
		}
		q = q.Where("status = ?", status)
	}
	var experts []models.Expert
	return experts, q.Find(&experts).Error
}

func (s *AdminService) loadExpert(ctx context.Context, id uint) (*models.Expert, error) {
	var e models.Expert
	err := s.DB.WithContext(ctx).First(&e, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SetStatus moves an expert to another lifecycle state.
func (s *AdminService) SetStatus(ctx context.Context, id uint, status models.ExpertStatus) (*models.Expert, error) {
	if !status.Valid() {
		return nil, invalid("status", "statut inconnu")
	}
	e, err := s.loadExpert(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Model(e).Update("status", status).Error; err != nil {
		return nil, err
	}
	s.Logger.Info("Expert status changed", zap.Uint("expert_id", id), zap.String("status", string(status)))
	return e, nil
}

// SetLabel toggles the certified flag of an expert.
func (s *AdminService) SetLabel(ctx context.Context, id uint, labeled bool) (*models.Expert, error) {
	e, err := s.loadExpert(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Model(e).Update("labeled", labeled).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// CorrectLocation moves an expert pin by hand. The new point must stay
// within geo.MaxPinCorrectionKm of the geocoded centre of the expert's city.
func (s *AdminService) CorrectLocation(ctx context.Context, id uint, p geo.Point) (*models.Expert, error) {
	if !p.Valid() || !p.IsSet() {
		return nil, invalid("lat/lng", "coordonnées invalides")
	}
	e, err := s.loadExpert(ctx, id)
	if err != nil {
		return nil, err
	}

	centre, err := s.Geocoder.Geocode(ctx, strings.TrimSpace(e.PostalCode+" "+e.City+", "+e.Country))
	if err != nil {
		return nil, &UpstreamError{Provider: "nominatim", Err: err}
	}
	if d := geo.DistanceKm(centre, p); d > geo.MaxPinCorrectionKm {
		return nil, &PolicyError{Reason: fmt.Sprintf("le point est à %.1f km du centre de %s (max %.0f km)", d, e.City, geo.MaxPinCorrectionKm)}
	}

	e.Latitude, e.Longitude = p.Lat, p.Lng
	if err := s.DB.WithContext(ctx).Model(e).Updates(map[string]any{"latitude": p.Lat, "longitude": p.Lng}).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// DeleteExpert removes an expert account and everything it owns in one transaction.
func (s *AdminService) DeleteExpert(ctx context.Context, id uint) error {
	e, err := s.loadExpert(ctx, id)
	if err != nil {
		return err
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		steps := []func() error{
			func() error { return tx.Exec("DELETE FROM expert_tags WHERE expert_id = ?", id).Error },
			func() error { return tx.Where("expert_id = ?", id).Delete(&models.LeadAssignment{}).Error },
			func() error {
				return tx.Model(&models.Lead{}).Where("target_expert_id = ?", id).Update("target_expert_id", nil).Error
			},
			func() error { return tx.Where("expert_id = ?", id).Delete(&models.Article{}).Error },
			func() error { return tx.Where("expert_id = ?", id).Delete(&models.Subscription{}).Error },
			func() error { return tx.Delete(&models.Expert{}, id).Error },
			func() error {
				if e.UserID == 0 {
					return nil
				}
				return tx.Delete(&models.User{}, e.UserID).Error
			},
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Logger.Info("Expert account deleted", zap.Uint("expert_id", id), zap.String("name", e.Name))
	return nil
}

// ListLeads returns leads newest first with their assignments, optionally
// only those received since a date.
func (s *AdminService) ListLeads(ctx context.Context, since *time.Time) ([]models.Lead, error) {
	q := s.DB.WithContext(ctx).Preload("Assignments.Expert").Order("created_at DESC, id DESC")
	if since != nil {
		q = q.Where("created_at >= ?", *since)
	}
	var leads []models.Lead
	return leads, q.Find(&leads).Error
}

// AssignLead routes an existing lead to more experts. Existing links are kept.
func (s *AdminService) AssignLead(ctx context.Context, leadID uint, expertIDs []uint) (*models.Lead, error) {
	if len(expertIDs) == 0 {
		return nil, invalid("expert_ids", "au moins un expert est requis")
	}
	var lead models.Lead
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&lead, leadID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var found int64
		if err := tx.Model(&models.Expert{}).Where("id IN ?", expertIDs).Count(&found).Error; err != nil {
			return err
		}
		if int(found) != len(uniqueIDs(expertIDs)) {
			return invalid("expert_ids", "expert inconnu")
		}
		links := make([]models.LeadAssignment, 0, len(expertIDs))
		for _, id := range uniqueIDs(expertIDs) {
			links = append(links, models.LeadAssignment{LeadID: leadID, ExpertID: id})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
	})
	if err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Preload("Assignments.Expert").First(&lead, leadID).Error; err != nil {
		return nil, err
	}
	return &lead, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
