// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package relay assembles the Ella chat relay service.
//
// The service owns the HTTP router, the generation and retrieval clients,
// the optional citation store and the observability setup. Each request is
// handled by handlers.RelayGateway; this package only wires and runs it.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := relay.New(context.Background(), cfg, relay.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run(ctx)
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/AleutianAI/ella/services/llm"
	"github.com/AleutianAI/ella/services/relay/citations"
	"github.com/AleutianAI/ella/services/relay/config"
	"github.com/AleutianAI/ella/services/relay/gate"
	"github.com/AleutianAI/ella/services/relay/handlers"
	"github.com/AleutianAI/ella/services/relay/middleware"
	"github.com/AleutianAI/ella/services/relay/observability"
	"github.com/AleutianAI/ella/services/relay/retrieval"
	"github.com/AleutianAI/ella/services/relay/routes"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
// Constants
// =============================================================================

const (
	serviceName = "ella-relay"

	// shutdownGrace is how long open streams may finish after a shutdown
	// signal before their contexts are cancelled.
	shutdownGrace = 10 * time.Second

	readHeaderTimeout = 10 * time.Second
)

var metricsOnce sync.Once

// =============================================================================
// Types
// =============================================================================

// Options carries optional collaborators for New.
type Options struct {
	// Loader enables config file watching. Only prompt file paths are
	// applied live; other settings need a restart.
	Loader *config.Loader

	// Engine replaces the Responses API client. Used by tests.
	Engine llm.StreamOpener

	// Classifier replaces the OpenAI gate. Used by tests.
	Classifier gate.Classifier

	// CitationStore replaces the configured store. Used by tests.
	CitationStore citations.Store
}

// Service is one configured relay instance.
//
// # Thread Safety
//
// Router is safe to share. Run must be called at most once.
type Service struct {
	cfg     *config.Config
	loader  *config.Loader
	prompts *config.PromptStore
	router  *gin.Engine

	closers       []func() error
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New builds every component named by cfg.
//
// # Description
//
// The engine key is moved into an enclave first and cfg's plaintext copy is
// cleared. Optional backends degrade instead of failing: an unreachable
// redis disables the cache, and retrieval without an index id is a no-op.
// A citation store that cannot be opened is an error.
//
// # Inputs
//
//   - ctx: Bounds startup network calls (redis ping, GCS client).
//   - cfg: Validated configuration. Its API key is cleared.
//   - opts: Optional overrides.
//
// # Outputs
//
//   - *Service: Ready to Run.
//   - error: Non-nil if a required component could not be built.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Service, error) {
	s := &Service{cfg: cfg, loader: opts.Loader}

	cleanup, err := s.initTracer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if cfg.Telemetry.Metrics {
		metricsOnce.Do(func() {
			observability.InitMetrics()
			slog.Info("Initialized Prometheus metrics for the relay")
		})
	}

	s.prompts, err = config.NewPromptStore(cfg.Prompts)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	key := cfg.TakeAPIKey()
	slog.Info("Relay configuration loaded",
		"openai", cfg.OpenAI,
		"retrieval_backend", cfg.Retrieval.Backend,
		"retrieval_enabled", cfg.RetrievalEnabled(),
		"citations_backend", cfg.Citations.Backend,
	)

	engine := opts.Engine
	if engine == nil {
		engine = llm.NewResponsesClient(llm.ResponsesConfig{
			BaseURL:       cfg.OpenAI.BaseURL,
			Key:           key,
			HeaderTimeout: cfg.Stream.UpstreamTimeout,
		})
	}

	enricher := s.initEnricher(ctx, key, opts.Classifier)

	store := opts.CitationStore
	if store == nil {
		store, err = s.initCitationStore(ctx)
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	if store != nil {
		s.closers = append(s.closers, store.Close)
	}

	gateway := handlers.NewRelayGateway(engine, enricher, handlers.GatewayConfig{
		Model:             cfg.OpenAI.Model,
		Instructions:      func() string { return s.prompts.Current().Instructions },
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
	})

	gin.SetMode(cfg.Server.GinMode)
	s.router = routes.NewRouter(routes.Dependencies{
		Gateway:     gateway,
		Citations:   handlers.NewCitationHandler(store),
		ChatLimiter: middleware.RateLimit(cfg.Limits.RequestsPerSecond, cfg.Limits.Burst, observability.EndpointChatStream),
		Metrics:     cfg.Telemetry.Metrics,
	}, otelgin.Middleware(serviceName))

	return s, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Router returns the configured gin engine.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Run serves HTTP until ctx is cancelled or the listener fails.
//
// # Description
//
// On cancellation the server stops accepting connections and open streams
// get shutdownGrace to finish; streams still open after that are cancelled,
// which ends them without terminal frames. Prompt files are watched for the
// lifetime of Run. All resources are released before Run returns.
func (s *Service) Run(ctx context.Context) error {
	defer s.Close()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(s.cfg.Server.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	if s.loader != nil {
		s.loader.Watch(func(cfg *config.Config) {
			if err := s.prompts.SetPaths(cfg.Prompts); err != nil {
				slog.Warn("Failed to apply prompt paths from config", "error", err)
			}
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting relay server", "port", s.cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.prompts.Watch(gctx); err != nil {
			slog.Warn("Prompt hot reload disabled", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Graceful shutdown timed out, cancelling open streams", "error", err)
			cancelBase()
			return srv.Close()
		}
		slog.Info("Relay server stopped")
		return nil
	})
	return g.Wait()
}

// Close releases every backend. Safe to call more than once.
func (s *Service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("Error while closing relay component", "error", err)
		}
	}
	s.closers = nil

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer installs the OTLP exporter when an endpoint is configured, or a
// stderr exporter when trace_stdout is set. Otherwise the global no-op
// provider stays in place.
func (s *Service) initTracer(ctx context.Context) (func(context.Context), error) {
	endpoint := s.cfg.Telemetry.OTLPEndpoint
	if endpoint == "" && !s.cfg.Telemetry.TraceStdout {
		return nil, nil
	}

	var (
		traceExporter sdktrace.SpanExporter
		conn          *grpc.ClientConn
		err           error
	)
	if endpoint != "" {
		conn, err = grpc.NewClient(endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		traceExporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	} else {
		traceExporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	slog.Info("Tracing enabled", "otlp_endpoint", endpoint, "stdout", endpoint == "")

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		if conn != nil {
			_ = conn.Close()
		}
	}, nil
}

// initEnricher builds the gate and the configured retriever.
func (s *Service) initEnricher(ctx context.Context, key *llm.APIKey, classifier gate.Classifier) *retrieval.Enricher {
	cfg := s.cfg
	if !cfg.RetrievalEnabled() {
		slog.Info("Retrieval disabled: no semantic index configured")
		return retrieval.NewEnricher(gate.Always(false), retrieval.Disabled{}, false)
	}

	if classifier == nil {
		classifier = gate.NewOpenAIClassifier(gate.Config{
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.GateModel,
			Key:     key,
			Prompt:  func() string { return s.prompts.Current().Gate },
		})
	}

	var retriever retrieval.Retriever
	switch cfg.Retrieval.Backend {
	case config.BackendWeaviate:
		w, err := retrieval.NewWeaviateRetriever(retrieval.WeaviateConfig{
			URL:          cfg.Weaviate.URL,
			Class:        cfg.Weaviate.Class,
			MaxResults:   cfg.Retrieval.MaxResults,
			MinCertainty: cfg.Retrieval.ScoreThreshold,
		})
		if err != nil {
			slog.Warn("Weaviate retriever unavailable, retrieval disabled", "error", err)
			return retrieval.NewEnricher(classifier, retrieval.Disabled{}, false)
		}
		retriever = w
	default:
		retriever = retrieval.NewVectorStoreRetriever(retrieval.VectorStoreConfig{
			BaseURL:        cfg.OpenAI.BaseURL,
			VectorStoreID:  cfg.Retrieval.VectorStoreID,
			Key:            key,
			MaxResults:     cfg.Retrieval.MaxResults,
			ScoreThreshold: cfg.Retrieval.ScoreThreshold,
			RewriteQuery:   cfg.Retrieval.RewriteQuery,
		})
	}

	if cfg.Cache.RedisURL != "" {
		cache, err := retrieval.NewRedisCache(ctx, cfg.Cache.RedisURL)
		if err != nil {
			slog.Warn("Retrieval cache unavailable, continuing without it", "error", err)
		} else {
			s.closers = append(s.closers, cache.Close)
			retriever = retrieval.NewCachedRetriever(retriever, cache, cfg.Cache.TTL)
			slog.Info("Retrieval cache enabled", "ttl", cfg.Cache.TTL)
		}
	}

	slog.Info("Retrieval enabled", "backend", retriever.Name())
	return retrieval.NewEnricher(classifier, retriever, true)
}

// initCitationStore opens the configured asset store, or returns nil for
// the "none" backend.
func (s *Service) initCitationStore(ctx context.Context) (citations.Store, error) {
	cfg := s.cfg.Citations
	switch cfg.Backend {
	case config.CitationsBadger:
		store, err := citations.OpenBadgerStore(citations.BadgerConfig{
			Path:   cfg.BadgerPath,
			Logger: slog.Default().With("component", "citations"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open citation store: %w", err)
		}
		return store, nil
	case config.CitationsGCS:
		store, err := citations.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open citation bucket: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}
