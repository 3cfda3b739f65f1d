package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"gainable/app"
	"gainable/config"
	"gainable/routes"
	"gainable/services"
)

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logging, prometheus.DefaultRegisterer)
	if err != nil {
		logging.Fatal("Startup failed", zap.Error(err))
	}
	defer a.Close()

	router := gin.Default()
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	routes.Register(router, a.Deps)

	cronScheduler := scheduleMaintenance(ctx, cfg, a.Deps.Maintenance, logging)
	cronScheduler.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down")
	<-cronScheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// scheduleMaintenance runs every maintenance job once per day. The daily key
// makes a second trigger on the same day a no-op once the job has succeeded.
func scheduleMaintenance(ctx context.Context, cfg *config.Config, runner *services.MaintenanceRunner, logging *zap.Logger) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc(cfg.CronSchedule, func() {
		now := time.Now()
		for _, name := range runner.Names() {
			logging.Info("Running scheduled maintenance job...", zap.String("job", name))
			if _, err := runner.Run(ctx, name, services.DailyKey(name, now)); err != nil {
				logging.Error("Cron job failed", zap.String("job", name), zap.Error(err))
			}
		}
	})
	if err != nil {
		logging.Fatal("Invalid CRON_SCHEDULE", zap.String("schedule", cfg.CronSchedule), zap.Error(err))
	}
	return c
}
