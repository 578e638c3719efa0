package main

import (
	"log"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/db"
	"licensing-controlplane/pkg/health"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/otelcol"
	"licensing-controlplane/pkg/otelcol/exporters"
	"licensing-controlplane/pkg/ratelimit"
	"licensing-controlplane/pkg/redis"
	"licensing-controlplane/pkg/server"
	"licensing-controlplane/services/license"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		ratelimit.Module,
		health.Module,
		server.ProvideHTTPServer,
		license.Module,
		fx.Provide(provideTracer),
		fx.Invoke(
			db.Otel,
			db.Metric,
			registerTracer,
		),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

func provideTracer(cfg *config.Config) (*sdktrace.TracerProvider, error) {
	var (
		exporter *otlptrace.Exporter
		err      error
	)
	switch cfg.Otel.Protocol {
	case "http":
		exporter, err = exporters.ProvideHttp(cfg)
	default:
		exporter, err = exporters.ProvideGrpc(cfg)
	}
	if err != nil {
		return nil, err
	}

	return otelcol.ProvideTrace(exporter), nil
}

func registerTracer(lc fx.Lifecycle, tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: tp.Shutdown,
	})
}
