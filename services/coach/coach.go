// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coach assembles the Frontera coaching service.
//
// The service wires the SQL store, the LLM backend, Clerk authentication,
// PostHog analytics, Prometheus metrics and OTLP tracing behind one Gin
// router.
//
// # Usage
//
//	cfg, err := config.Load("frontera.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := coach.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// Tests and embedders can replace the identity, authorization and analytics
// providers through extensions.ServiceOptions.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/frontera-labs/frontera/pkg/extensions"
	"github.com/frontera-labs/frontera/services/coach/analytics"
	"github.com/frontera-labs/frontera/services/coach/auth"
	"github.com/frontera-labs/frontera/services/coach/config"
	"github.com/frontera-labs/frontera/services/coach/handlers"
	"github.com/frontera-labs/frontera/services/coach/ingest"
	"github.com/frontera-labs/frontera/services/coach/middleware"
	"github.com/frontera-labs/frontera/services/coach/observability"
	"github.com/frontera-labs/frontera/services/coach/routes"
	"github.com/frontera-labs/frontera/services/coach/storage"
	"github.com/frontera-labs/frontera/services/llm"
)

const (
	// shutdownTimeout bounds draining in-flight requests and flushing
	// analytics at exit.
	shutdownTimeout = 15 * time.Second

	// dbConnectTimeout bounds the initial database ping and migration.
	dbConnectTimeout = 30 * time.Second
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the coaching service lifecycle.
//
// # Thread Safety
//
// Run blocks and must be called at most once. Router is safe to call at any
// time after New returns.
type Service interface {
	// Run serves HTTP until SIGINT or SIGTERM, then drains in-flight
	// requests and releases every resource.
	Run() error

	// Router returns the configured engine, for tests.
	Router() *gin.Engine

	// Close releases resources without serving. Run calls it on exit.
	Close(ctx context.Context) error
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
//   - config: Validated configuration
//   - opts: Identity, authorization and analytics providers
//   - store: SQL store, owned and closed by the service
//   - llmClient: Model backend
//   - metrics: Collectors registered on registry
//   - tracerCleanup: Flushes spans; nil when tracing is off
type service struct {
	config        *config.Config
	opts          extensions.ServiceOptions
	router        *gin.Engine
	store         *storage.SQLStore
	llmClient     llm.LLMClient
	registry      *prometheus.Registry
	metrics       *observability.Metrics
	tracerCleanup func(context.Context)
}

var _ Service = (*service)(nil)

// New builds the service from cfg.
//
// # Description
//
// Initialization order:
//  1. OTLP tracing, when telemetry.otlp_endpoint is set
//  2. Prometheus metrics on a service-owned registry
//  3. Database connection and schema migration
//  4. LLM backend
//  5. Identity, authorization and analytics providers not supplied in opts
//  6. HTTP routes
//
// # Inputs
//
//   - cfg: Loaded configuration. It is validated again here.
//   - opts: Provider overrides. May be nil.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Invalid configuration, unreachable database, migration
//     failure or a backend that cannot be constructed. Partially
//     initialised resources are released before returning.
func New(cfg *config.Config, opts *extensions.ServiceOptions) (Service, error) {
	if cfg == nil {
		return nil, errors.New("coach: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &service{config: cfg}
	if opts != nil {
		s.opts = *opts
	}

	if cfg.Telemetry.Endpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(s.registry)

	if err := s.initStore(); err != nil {
		s.cleanup(context.Background())
		return nil, err
	}
	if err := s.initLLMClient(); err != nil {
		s.cleanup(context.Background())
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	if err := s.initProviders(); err != nil {
		s.cleanup(context.Background())
		return nil, err
	}

	if err := s.initRouter(); err != nil {
		s.cleanup(context.Background())
		return nil, err
	}
	return s, nil
}

// Run implements Service.
func (s *service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting coaching server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received, draining requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}
	if err := s.Close(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close implements Service.
func (s *service) Close(ctx context.Context) error {
	return s.cleanup(ctx)
}

// =============================================================================
// Initialization
// =============================================================================

func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.Telemetry.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(s.config.Telemetry.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		_ = conn.Close()
	}

	slog.Info("OTLP tracing enabled", "endpoint", s.config.Telemetry.Endpoint)
	return cleanup, nil
}

func (s *service) initStore() error {
	ctx, cancel := context.WithTimeout(context.Background(), dbConnectTimeout)
	defer cancel()

	store, err := storage.Open(ctx, s.config.Database.Driver, s.config.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.store = store
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	slog.Info("Database ready", "driver", s.config.Database.Driver)
	return nil
}

func (s *service) initLLMClient() error {
	var err error
	cfg := s.config.LLM

	switch cfg.Backend {
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
		})
		slog.Info("Using OpenAI LLM backend")
	default:
		s.llmClient, err = llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.AnthropicModel,
			Timeout:   cfg.Timeout,
			MaxTokens: cfg.MaxTokens,
		})
		slog.Info("Using Anthropic LLM backend")
	}
	return err
}

// initProviders fills every provider opts left nil from configuration.
func (s *service) initProviders() error {
	if s.opts.AuthProvider == nil {
		if s.config.Auth.Disabled {
			slog.Warn("Authentication is disabled; every request runs as the local user",
				"org_id", extensions.LocalOrgID)
			s.opts.AuthProvider = &extensions.NopAuthProvider{}
		} else {
			provider, err := auth.NewClerkProvider(auth.ClerkConfig{
				PublicKeyPEM: s.config.Auth.ClerkJWTKey,
				Issuer:       s.config.Auth.ClerkIssuer,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize Clerk auth: %w", err)
			}
			s.opts.AuthProvider = provider
		}
	}

	if s.opts.AuthzProvider == nil {
		s.opts.AuthzProvider = extensions.NewRoleAuthzProvider([]string{"admin"}, s.config.Auth.AdminUserIDs)
	}

	if s.opts.Analytics == nil && s.config.Analytics.PostHogAPIKey != "" {
		a := s.config.Analytics
		s.opts.Analytics = analytics.NewPostHogSink(analytics.Config{
			APIKey:        a.PostHogAPIKey,
			Host:          a.PostHogHost,
			BufferSize:    a.BufferSize,
			BatchSize:     a.BatchSize,
			FlushInterval: a.FlushInterval,
			OnDrop:        s.metrics.RecordAnalyticsDrop,
		})
		slog.Info("PostHog analytics enabled", "host", a.PostHogHost)
	}

	s.opts = s.opts.Normalize()
	return nil
}

func (s *service) initRouter() error {
	var redactor *ingest.Redactor
	if s.config.RedactUploads {
		r, err := ingest.NewRedactor(ingest.SensitivePatterns)
		if err != nil {
			return fmt.Errorf("failed to load redaction patterns: %w", err)
		}
		redactor = r
	}

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(s.config.Telemetry.ServiceName))

	h := handlers.New(handlers.Deps{
		Store:             s.store,
		LLM:               s.llmClient,
		Analytics:         s.opts.Analytics,
		Metrics:           s.metrics,
		Redactor:          redactor,
		StructuredCapture: s.config.StructuredCapture,
		ShareURL:          s.config.ShareURL,
		MaxTokens:         s.config.LLM.MaxTokens,
	})

	var limiter *middleware.OrgLimiter
	if s.config.RateLimit.RPS > 0 {
		limiter = middleware.NewOrgLimiter(s.config.RateLimit.RPS, s.config.RateLimit.Burst)
	}

	routes.SetupRoutes(s.router, h, routes.Guards{
		Auth:    s.opts.AuthProvider,
		Authz:   s.opts.AuthzProvider,
		Limiter: limiter,
		Metrics: promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}),
	})
	return nil
}

// cleanup flushes analytics, closes the store and stops tracing. Safe to
// call on a partially initialised service.
func (s *service) cleanup(ctx context.Context) error {
	var errs []error
	if s.opts.Analytics != nil {
		if err := s.opts.Analytics.Close(ctx); err != nil {
			slog.Warn("Analytics flush error", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(ctx)
	}
	return errors.Join(errs...)
}
