// Command maintenance runs one maintenance job outside the HTTP server,
// for example from a container scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"gainable/app"
	"gainable/config"
	"gainable/services"
)

func main() {
	job := flag.String("job", "", "job to run")
	key := flag.String("key", "", "idempotency key (default: <job>:<today>)")
	list := flag.Bool("list", false, "list jobs and exit")
	flag.Parse()

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logging, prometheus.NewRegistry())
	if err != nil {
		logging.Fatal("Startup failed", zap.Error(err))
	}
	defer a.Close()

	runner := a.Deps.Maintenance
	if *list || *job == "" {
		fmt.Println(strings.Join(runner.Names(), "\n"))
		return
	}
	if *key == "" {
		*key = services.DailyKey(*job, time.Now())
	}

	run, err := runner.Run(ctx, *job, *key)
	if err != nil {
		logging.Error("Maintenance job failed", zap.String("job", *job), zap.Error(err))
		a.Close()
		logging.Sync()
		os.Exit(1)
	}
	logging.Info("Maintenance job finished",
		zap.String("job", run.Job),
		zap.String("status", run.Status),
		zap.Int("attempts", run.Attempts))
}
