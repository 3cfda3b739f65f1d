// Package app wires configuration, providers and services together. The HTTP
// server and the maintenance command share it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gainable/config"
	"gainable/models"
	"gainable/providers/gemini"
	"gainable/providers/nominatim"
	"gainable/providers/resend"
	"gainable/providers/sirene"
	"gainable/providers/stripe"
	"gainable/routes"
	"gainable/services"
	"gainable/storage"
)

// nominatimDelay keeps batch geocoding under the public instance's one request per second.
const nominatimDelay = 1100 * time.Millisecond

// App holds the database handle and every service built from the configuration.
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
	Deps   *routes.Deps
}

// OpenDB connects to PostgreSQL and migrates the schema.
func OpenDB(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	log.Info("Successfully connected to database.")

	log.Info("Running database auto-migration...")
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// New builds the application. Metrics are registered on reg.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) (*App, error) {
	policy, err := config.LoadArticlePolicy(cfg.ArticlePolicyFile)
	if err != nil {
		return nil, err
	}

	db, err := OpenDB(cfg, log)
	if err != nil {
		return nil, err
	}

	s3Client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	bucket := storage.NewBucket(s3Client, cfg)

	geocoder := nominatim.NewGeocoder(cfg, log)
	registry := sirene.NewRegistry(cfg, log)
	billing := stripe.NewBilling(cfg, log)
	mailer := resend.NewMailer(cfg, log)
	assistant := gemini.NewAssistant(cfg, log)

	m := services.NewMetrics(reg)
	subscriptions := services.NewSubscriptionService(cfg, db, billing, log, m)

	runner := services.NewMaintenanceRunner(db, log, m, cfg.MaintenanceMaxAttempts, cfg.MaintenanceBackoff(),
		&services.GeocodeMissingLocationsJob{DB: db, Geocoder: geocoder, Logger: log, Delay: nominatimDelay},
		&services.SyncSubscriptionsJob{Subscriptions: subscriptions},
		&services.BackfillExpertSlugsJob{DB: db, Logger: log},
	)

	return &App{
		Config: cfg,
		DB:     db,
		Logger: log,
		Deps: &routes.Deps{
			Config:        cfg,
			Logger:        log,
			Auth:          services.NewAuthService(cfg, db, log),
			Experts:       services.NewExpertService(cfg, db, log, m),
			Leads:         services.NewLeadService(cfg, db, mailer, log, m),
			Subscriptions: subscriptions,
			Articles:      services.NewArticleService(cfg, policy, db, assistant, log, m),
			Profiles:      services.NewProfileService(cfg, db, geocoder, registry, log),
			Admin:         services.NewAdminService(cfg, db, geocoder, log),
			Uploads:       services.NewUploadService(cfg, bucket, log),
			Maintenance:   runner,
		},
	}, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
