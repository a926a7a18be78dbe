package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tessellate-io/bucketdb/internal/hooks"
	"github.com/tessellate-io/bucketdb/internal/pipeline"
	"github.com/tessellate-io/bucketdb/internal/postgresql"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"
)

func main() {
	InitLogging()
	InitPrometheus()

	cfg, err := postgresql.ConfigFromEnv()
	if err != nil {
		zap.S().Fatalf("Failed to read postgres configuration: %s", err)
	}
	conn, err := postgresql.New(context.Background(), cfg)
	if err != nil {
		zap.S().Fatalf("Failed to set up postgresql: %s", err)
	}

	registry := hooks.NewRegistry()
	pipe := pipeline.New(conn, registry)

	InitHealthCheck(conn)
	SetupRestAPI(pipe, conn)

	awaitShutdown(conn)
	// We should never get to this await, but better to have it then to always close the program
	select {}
}

func awaitShutdown(conn *postgresql.Connection) {
	// Allow graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM)

	sig := <-sigs
	zap.S().Infof("Received SIG %v", sig)

	zap.S().Debugf("Closing database pool")
	conn.Close()
	os.Exit(0)
}

func InitLogging() {
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	_ = logger.New(logLevel)
}

func InitPrometheus() {
	// Prometheus
	metricsPath := "/metrics"
	metricsPort := ":2112"
	zap.S().Debugf("Setting up metrics %s %v", metricsPath, metricsPort)

	http.Handle(metricsPath, promhttp.Handler())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(metricsPort, nil)
		if err != nil {
			zap.S().Errorf("Error starting metrics: %s", err)
		}
	}()
}

func InitHealthCheck(conn *postgresql.Connection) {
	zap.S().Debugf("Setting up healthcheck")

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))

	health.AddReadinessCheck("database", conn.HealthCheck())
	health.AddLivenessCheck("database", conn.HealthCheck())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe("0.0.0.0:8086", health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()
}
