package grpc

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check reports whether a dependency can serve requests
type Check func(ctx context.Context) error

// HealthReporter keeps the gRPC health status of a service in line with its
// dependency checks.
type HealthReporter struct {
	server   *health.Server
	service  string
	checks   map[string]Check
	interval time.Duration
	logger   logrus.FieldLogger
}

// NewHealthReporter creates a reporter for service. The overall ("") status
// follows the same checks.
func NewHealthReporter(server *health.Server, service string, checks map[string]Check, interval time.Duration, logger logrus.FieldLogger) *HealthReporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HealthReporter{
		server:   server,
		service:  service,
		checks:   checks,
		interval: interval,
		logger:   logger,
	}
}

// Update runs every check once and publishes the result.
func (r *HealthReporter) Update(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	servingStatus := healthpb.HealthCheckResponse_SERVING
	for name, check := range r.checks {
		checkCtx, cancel := context.WithTimeout(ctx, r.interval)
		err := check(checkCtx)
		cancel()
		if err != nil {
			r.logger.WithField("dependency", name).WithError(err).Warn("health check failed")
			servingStatus = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	r.server.SetServingStatus("", servingStatus)
	r.server.SetServingStatus(r.service, servingStatus)
	return servingStatus
}

// Run updates the status every interval until ctx is done, then marks the
// service as not serving.
func (r *HealthReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Update(ctx)
	for {
		select {
		case <-ctx.Done():
			r.server.Shutdown()
			return nil
		case <-ticker.C:
			r.Update(ctx)
		}
	}
}
