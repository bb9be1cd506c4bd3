package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "surveyforge-backend"

type AppMetrics struct {
	authLoginCounter        metric.Int64Counter
	credentialIssueCounter  metric.Int64Counter
	credentialVerifyCounter metric.Int64Counter
	credentialRevokeCounter metric.Int64Counter
	repositoryOpCounter     metric.Int64Counter
	sweeperJobCounter       metric.Int64Counter
	sweeperDeletedCounter   metric.Int64Counter
	rateLimitCounter        metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

type MetricsConfig struct {
	Enabled        bool
	Endpoint       string
	Insecure       bool
	ServiceName    string
	Environment    string
	ExportInterval time.Duration
}

func InitMetrics(ctx context.Context, cfg MetricsConfig, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)
	m := &AppMetrics{}
	counters := []struct {
		name string
		dst  *metric.Int64Counter
	}{
		{"auth.login.attempts", &m.authLoginCounter},
		{"credential.issue.total", &m.credentialIssueCounter},
		{"credential.verify.total", &m.credentialVerifyCounter},
		{"credential.revoke.total", &m.credentialRevokeCounter},
		{"repository.operations", &m.repositoryOpCounter},
		{"sweeper.job.runs", &m.sweeperJobCounter},
		{"sweeper.records.deleted", &m.sweeperDeletedCounter},
		{"ratelimit.decisions", &m.rateLimitCounter},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.Endpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(ctx context.Context, status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordCredentialIssued(ctx context.Context, kind string) {
	m := current()
	if m == nil {
		return
	}
	m.credentialIssueCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCredentialVerification tracks verification outcomes: valid, expired,
// malformed, revoked, owner_inactive, wrong_kind, store_unavailable.
func RecordCredentialVerification(ctx context.Context, kind, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.credentialVerifyCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func RecordCredentialRevocation(ctx context.Context, reason string, count int64) {
	m := current()
	if m == nil || count <= 0 {
		return
	}
	m.credentialRevokeCounter.Add(ctx, count, metric.WithAttributes(attribute.String("reason", reason)))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordSweeperJob(ctx context.Context, job, outcome string, deleted int64) {
	m := current()
	if m == nil {
		return
	}
	m.sweeperJobCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("outcome", outcome),
	))
	if deleted > 0 {
		m.sweeperDeletedCounter.Add(ctx, deleted, metric.WithAttributes(attribute.String("job", job)))
	}
}

func RecordRateLimitDecision(ctx context.Context, scope, decision string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
	))
}
