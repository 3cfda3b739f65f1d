package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gainable/models"
	"gainable/providers"
)

// Maintenance run states.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

const (
	maxBackoff = 5 * time.Minute
	// staleRunAfter is how long a run may stay marked running before another
	// trigger may take its key over.
	staleRunAfter = 2 * time.Hour
)

// ErrRunInProgress is returned when the idempotency key is held by a run that
// has not finished yet.
var ErrRunInProgress = &PolicyError{Reason: "une exécution est déjà en cours pour cette clé", Code: http.StatusConflict}

// Job is one administrative maintenance operation. Run must be safe to repeat.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var p permanentError
	var v *ValidationError
	return errors.As(err, &p) || errors.As(err, &v) || errors.Is(err, context.Canceled)
}

// BackoffDuration returns the delay before retry number attempt (1-based).
func BackoffDuration(base time.Duration, attempt int) time.Duration {
	if attempt <= 1 {
		return base
	}
	d := base << uint(attempt-1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// MaintenanceRunner executes registered jobs under idempotency keys and
// retries transient failures with exponential backoff.
type MaintenanceRunner struct {
	DB          *gorm.DB
	Logger      *zap.Logger
	Metrics     *Metrics
	MaxAttempts int
	Backoff     time.Duration
	StaleAfter  time.Duration

	jobs  map[string]Job
	sleep func(ctx context.Context, d time.Duration) error
}

// NewMaintenanceRunner creates a runner with the given jobs.
func NewMaintenanceRunner(db *gorm.DB, logger *zap.Logger, m *Metrics, maxAttempts int, backoff time.Duration, jobs ...Job) *MaintenanceRunner {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	r := &MaintenanceRunner{
		DB:          db,
		Logger:      logger,
		Metrics:     m,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		StaleAfter:  staleRunAfter,
		jobs:        make(map[string]Job),
		sleep:       sleepContext,
	}
	for _, j := range jobs {
		r.jobs[j.Name()] = j
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Names lists the registered jobs in alphabetical order.
func (r *MaintenanceRunner) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for n := range r.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DailyKey is the idempotency key used by scheduled runs.
func DailyKey(job string, day time.Time) string {
	return job + ":" + day.Format("2006-01-02")
}

// Run executes job name under key. A key that already succeeded is not run
// again and its earlier record is returned. An empty key always runs.
func (r *MaintenanceRunner) Run(ctx context.Context, name, key string) (*models.MaintenanceRun, error) {
	job, ok := r.jobs[name]
	if !ok {
		return nil, ErrNotFound
	}
	if key == "" {
		key = name + ":" + uuid.NewString()
	}
	log := r.Logger.With(zap.String("job", name), zap.String("key", key))

	run, err := r.claim(ctx, name, key)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			log.Warn("Maintenance run already in progress, not starting another")
			r.Metrics.MaintenanceRuns.WithLabelValues(name, "in_progress").Inc()
		}
		return nil, err
	}
	if run.Status == RunSucceeded {
		log.Info("Maintenance run already succeeded, skipping")
		r.Metrics.MaintenanceRuns.WithLabelValues(name, "skipped").Inc()
		return run, nil
	}

	var jobErr error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		run.Attempts++
		jobErr = job.Run(ctx)
		if jobErr == nil {
			break
		}
		run.LastError = jobErr.Error()
		log.Warn("Maintenance job attempt failed", zap.Int("attempt", attempt), zap.Error(jobErr))
		if isPermanent(jobErr) || attempt == r.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, BackoffDuration(r.Backoff, attempt)); err != nil {
			jobErr = err
			run.LastError = err.Error()
			break
		}
	}

	now := time.Now()
	run.FinishedAt = &now
	run.Status = RunSucceeded
	if jobErr != nil {
		run.Status = RunFailed
	} else {
		run.LastError = ""
	}
	if err := r.DB.WithContext(context.WithoutCancel(ctx)).Save(run).Error; err != nil {
		log.Error("Failed to record maintenance run outcome", zap.Error(err))
	}
	r.Metrics.MaintenanceRuns.WithLabelValues(name, run.Status).Inc()

	if jobErr != nil {
		log.Error("Maintenance job failed", zap.Int("attempts", run.Attempts), zap.Error(jobErr))
		return run, jobErr
	}
	log.Info("Maintenance job succeeded", zap.Int("attempts", run.Attempts))
	return run, nil
}

// claim marks the run of key as running, creating it on first use. A succeeded
// run is returned untouched. A run still marked running that started less than
// StaleAfter ago yields ErrRunInProgress; an older one is taken over.
func (r *MaintenanceRunner) claim(ctx context.Context, name, key string) (*models.MaintenanceRun, error) {
	db := r.DB.WithContext(ctx)
	var run models.MaintenanceRun
	err := db.Where("idempotency_key = ?", key).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		run = models.MaintenanceRun{Job: name, IdempotencyKey: key, Status: RunRunning, StartedAt: time.Now()}
		if err := db.Create(&run).Error; err != nil {
			// Lost the race on the unique key to a concurrent trigger.
			var existing int64
			if cerr := db.Model(&models.MaintenanceRun{}).Where("idempotency_key = ?", key).Count(&existing).Error; cerr == nil && existing > 0 {
				return nil, ErrRunInProgress
			}
			return nil, fmt.Errorf("record maintenance run: %w", err)
		}
		return &run, nil
	}
	if err != nil {
		return nil, err
	}
	if run.Status == RunSucceeded {
		return &run, nil
	}

	now := time.Now()
	res := db.Model(&models.MaintenanceRun{}).
		Where("id = ? AND (status <> ? OR started_at < ?)", run.ID, RunRunning, now.Add(-r.StaleAfter)).
		Updates(map[string]any{"status": RunRunning, "started_at": now, "finished_at": nil})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRunInProgress
	}
	run.Status = RunRunning
	run.StartedAt = now
	run.FinishedAt = nil
	return &run, nil
}

// GeocodeMissingLocationsJob geocodes experts still at the (0,0) placeholder.
type GeocodeMissingLocationsJob struct {
	DB       *gorm.DB
	Geocoder providers.Geocoder
	Logger   *zap.Logger
	// Delay spaces out geocoder calls.
	Delay time.Duration
}

func (j *GeocodeMissingLocationsJob) Name() string { return "geocode-missing-locations" }

func (j *GeocodeMissingLocationsJob) Run(ctx context.Context) error {
	var experts []models.Expert
	if err := j.DB.WithContext(ctx).Where("latitude = 0 AND longitude = 0").Order("id").Find(&experts).Error; err != nil {
		return err
	}
	located := 0
	for i := range experts {
		e := &experts[i]
		if i > 0 && j.Delay > 0 {
			if err := sleepContext(ctx, j.Delay); err != nil {
				return err
			}
		}
		p, err := j.Geocoder.Geocode(ctx, addressOf(e))
		if errors.Is(err, providers.ErrNotFound) {
			j.Logger.Info("Address not found, leaving expert unlocated", zap.Uint("expert_id", e.ID))
			continue
		}
		if err != nil {
			return err
		}
		if err := j.DB.WithContext(ctx).Model(e).Updates(map[string]any{"latitude": p.Lat, "longitude": p.Lng}).Error; err != nil {
			return err
		}
		located++
	}
	j.Logger.Info("Missing locations geocoded", zap.Int("candidates", len(experts)), zap.Int("located", located))
	return nil
}

// SyncSubscriptionsJob refreshes local subscriptions from the billing provider.
type SyncSubscriptionsJob struct {
	Subscriptions *SubscriptionService
}

func (j *SyncSubscriptionsJob) Name() string { return "sync-subscriptions" }

func (j *SyncSubscriptionsJob) Run(ctx context.Context) error {
	n, err := j.Subscriptions.SyncAll(ctx)
	j.Subscriptions.Logger.Info("Subscriptions synced", zap.Int("count", n))
	return err
}

// BackfillExpertSlugsJob gives a slug to experts created without one.
type BackfillExpertSlugsJob struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

func (j *BackfillExpertSlugsJob) Name() string { return "backfill-expert-slugs" }

func (j *BackfillExpertSlugsJob) Run(ctx context.Context) error {
	var experts []models.Expert
	if err := j.DB.WithContext(ctx).Where("slug IS NULL OR slug = ''").Order("id").Find(&experts).Error; err != nil {
		return err
	}
	for i := range experts {
		e := &experts[i]
		err := j.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			slug, err := uniqueExpertSlug(tx, e.ID, e.Name, e.City)
			if err != nil {
				return err
			}
			return tx.Model(e).Update("slug", slug).Error
		})
		if err != nil {
			return err
		}
	}
	j.Logger.Info("Expert slugs backfilled", zap.Int("count", len(experts)))
	return nil
}
