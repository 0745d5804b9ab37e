// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package relay provides the HTTP relay service fronting the managed
// inference platform.
//
// This package contains the main Service type that coordinates all
// components of the relay: HTTP routing, the agent and retrieval clients,
// citation resolution, and observability infrastructure. Provider
// credentials and wire shapes stay inside the service; callers see the
// relay's own JSON contract only.
//
// # Usage
//
// Production (clients built from configuration):
//
//	cfg := relay.Config{Port: 8080, InferenceEndpoint: "https://inference.internal"}
//	svc, err := relay.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// Tests (injected doubles, no external services):
//
//	deps := &relay.Dependencies{Agent: fakeAgent, Retriever: fakeRetriever}
//	svc, err := relay.New(relay.Config{}, deps)
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"

	"github.com/spencercrose/amp-search-tool/pkg/gcs"
	"github.com/spencercrose/amp-search-tool/services/inference"
	"github.com/spencercrose/amp-search-tool/services/relay/citations"
	"github.com/spencercrose/amp-search-tool/services/relay/handlers"
	"github.com/spencercrose/amp-search-tool/services/relay/middleware"
	"github.com/spencercrose/amp-search-tool/services/relay/observability"
	"github.com/spencercrose/amp-search-tool/services/relay/routes"
)

// serviceName identifies the relay in traces and spans.
const serviceName = "amp-relay"

// maxConfigFileSize is the maximum allowed YAML config file size (1MB).
const maxConfigFileSize = 1024 * 1024

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the relay service.
//
// # Description
//
// Service abstracts the relay lifecycle, enabling testing and alternative
// implementations. The interface follows the minimal surface area
// principle - only essential lifecycle methods are exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
//
// # Limitations
//
//   - No graceful shutdown method yet (planned for future)
//   - Run() blocks until server error
//
// # Assumptions
//
//   - Service is fully initialized before Run() is called
//   - Run() is called at most once per Service instance
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	//
	// # Description
	//
	// Starts the Gin HTTP server on the configured port. This method
	// blocks until the server stops (due to error or shutdown signal).
	//
	// # Outputs
	//
	//   - error: Non-nil if server fails to start or encounters fatal error
	//
	// # Examples
	//
	//   if err := svc.Run(); err != nil {
	//       log.Fatalf("server error: %v", err)
	//   }
	//
	// # Assumptions
	//
	//   - Service was successfully created via New()
	//   - Port is available and not in use
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Description
	//
	// Provides access to the configured Gin router, primarily for
	// integration testing where direct HTTP calls are needed.
	//
	// # Outputs
	//
	//   - *gin.Engine: The configured router with all routes registered
	//
	// # Assumptions
	//
	//   - Caller will not modify the router
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds relay configuration options.
//
// # Description
//
// Config centralizes all configuration for the relay service. Values can
// be populated from environment variables, a YAML file via LoadConfigFile,
// or programmatically for testing.
//
// # Required Fields
//
// InferenceEndpoint, AgentID, AgentAliasID, KnowledgeBaseID, and ModelRef
// are required unless the corresponding clients are injected through
// Dependencies.
//
// # Examples
//
//	// Minimal config (uses defaults, requires injected clients)
//	cfg := Config{}
//
//	// Full production configuration
//	cfg := Config{
//	    Port:              8080,
//	    InferenceEndpoint: "https://inference.internal",
//	    AgentID:           "WXYZABCD12",
//	    AgentAliasID:      "TSTALIASID",
//	    KnowledgeBaseID:   "KB12345678",
//	    ModelRef:          "models/answer-gen-v2",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 8080
	Port int `yaml:"port"`

	// InferenceEndpoint is the base URL of the managed inference platform.
	InferenceEndpoint string `yaml:"inference_endpoint"`

	// InferenceAPIKey authenticates the relay against the platform.
	// Optional for deployments that authenticate at the network layer.
	InferenceAPIKey string `yaml:"inference_api_key"`

	// AgentID and AgentAliasID select the fixed agent identity behind
	// POST /agent.
	AgentID      string `yaml:"agent_id"`
	AgentAliasID string `yaml:"agent_alias_id"`

	// KnowledgeBaseID and ModelRef select the fixed knowledge base and
	// generation model behind POST /retrieve.
	KnowledgeBaseID string `yaml:"knowledge_base_id"`
	ModelRef        string `yaml:"model_ref"`

	// AllowedOrigin is the CORS origin permitted to call the relay.
	// Empty disables cross-origin access; "*" allows any origin.
	AllowedOrigin string `yaml:"allowed_origin"`

	// CredentialsFile is the path to the service account key used to
	// sign citation URLs. Empty uses Application Default Credentials.
	CredentialsFile string `yaml:"credentials_file"`

	// UpstreamTimeout bounds each upstream platform call. Default: 60s
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "localhost:4317"
	OTelEndpoint string `yaml:"otel_endpoint"`

	// EnableTracing exports spans over OTLP when true. Default: false
	EnableTracing bool `yaml:"enable_tracing"`

	// EnableMetrics enables Prometheus metrics collection.
	// Default: true
	EnableMetrics bool `yaml:"enable_metrics"`

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string `yaml:"gin_mode"`
}

// Dependencies carries pre-built collaborators for New.
//
// # Description
//
// Production deployments pass nil and let New build the platform clients
// and the Cloud Storage signer from Config. Tests inject doubles here to
// exercise the full router without external services.
//
// # Fields
//
//   - Agent: conversational agent client. Built from Config when nil.
//   - Retriever: retrieve-and-generate client. Built from Config when nil.
//   - Signer: signed-URL issuer for citation references. Consulted only
//     when Retriever is nil; built from CredentialsFile when nil.
type Dependencies struct {
	Agent     inference.AgentInvoker
	Retriever inference.RetrievalGenerator
	Signer    citations.URLSigner
}

// LoadConfigFile overlays cfg with values from a YAML file.
//
// # Description
//
// Reads the file at path and unmarshals it over cfg, so the file replaces
// only the fields it names. Callers populate cfg from the environment
// first; file values win for any key present in the file.
//
// # Inputs
//
//   - path: YAML file path.
//   - cfg: configuration to overlay. Must be non-nil.
//
// # Outputs
//
//   - error: Non-nil when the file is missing, oversized, or not valid YAML.
func LoadConfigFile(path string, cfg *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)",
			info.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service is the main implementation that coordinates:
//   - HTTP routing via Gin
//   - Agent and retrieval client management
//   - Citation resolution via Cloud Storage signed URLs
//   - OpenTelemetry tracing
//   - Prometheus metrics
//
// # Fields
//
//   - config: Service configuration
//   - deps: Injected collaborators (zero value in production)
//   - router: Gin HTTP engine
//   - agent: Conversational agent client
//   - retriever: Retrieve-and-generate client
//   - storageClient: Cloud Storage client (nil when a signer was injected)
//   - tracerCleanup: Function to shutdown tracer on exit (nil when tracing
//     is disabled)
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	deps          Dependencies
	router        *gin.Engine
	agent         inference.AgentInvoker
	retriever     inference.RetrievalGenerator
	storageClient *gcs.Client
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new relay Service with the given configuration.
//
// # Description
//
// New initializes all relay components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing when enabled
//  3. Initializes Prometheus metrics
//  4. Creates the agent and retrieval clients (unless injected)
//  5. Creates the Cloud Storage signer for citations (unless injected)
//  6. Sets up HTTP routes and middleware
//
// If deps is nil, every collaborator is built from cfg.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - deps: Pre-built collaborators for testing. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run relay service
//   - error: Non-nil if initialization fails
//
// # Examples
//
//	cfg := Config{Port: 8080, InferenceEndpoint: endpoint, AgentID: id, ...}
//	svc, err := New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// # Limitations
//
//   - Storage client creation may fail if credentials are unavailable
//
// # Assumptions
//
//   - The inference platform is reachable at InferenceEndpoint
func New(cfg Config, deps *Dependencies) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}
	if deps != nil {
		s.deps = *deps
	}

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	// Initialize OpenTelemetry tracer
	if s.config.EnableTracing {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	// Initialize Prometheus metrics. Registration on the default registry
	// happens once per process; later instances reuse the singleton.
	if s.config.EnableMetrics && observability.DefaultMetrics == nil {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for relay")
	}

	// Initialize platform clients and the citation signer
	if err := s.initClients(); err != nil {
		s.cleanup()
		return nil, err
	}

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
//
// # Description
//
// Starts the Gin HTTP server on the configured port. This method blocks
// until the server stops due to error or shutdown signal. Cleanup runs
// automatically on return.
//
// # Outputs
//
//   - error: Non-nil if server fails to start or encounters fatal error
//
// # Assumptions
//
//   - Service was successfully created via New()
//   - Port is available
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting relay server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
//
// # Assumptions
//
//   - Caller will not modify the router
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
//
// # Description
//
// Applies sensible defaults for any zero-valued configuration fields.
//
// # Inputs
//
//   - cfg: User-provided configuration
//
// # Outputs
//
//   - Config: Configuration with defaults applied
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.UpstreamTimeout == 0 {
		cfg.UpstreamTimeout = 60 * time.Second
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "localhost:4317"
	}
	// EnableMetrics defaults to true. The bool zero value cannot carry
	// "unset", so metrics stay on; collection is cheap and the registry
	// guard in New makes repeated construction safe.
	cfg.EnableMetrics = true

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up an OTLP trace exporter to send spans to the configured
// collector.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
//
// # Assumptions
//
//   - OTel collector is reachable at configured endpoint
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
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
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initClients initializes the platform clients and the citation signer.
//
// # Description
//
// Builds the agent client, the Cloud Storage signer, the citation
// resolver, and the retrieval client from configuration. Injected
// collaborators take precedence: an injected Retriever skips signer and
// resolver construction entirely, and an injected Signer skips the
// storage client.
//
// Both platform clients share one http.Client. The client carries no
// global timeout; completions stream, so deadlines come from each
// request's context.
//
// # Outputs
//
//   - error: Non-nil if any client fails to initialize
func (s *service) initClients() error {
	s.agent = s.deps.Agent
	s.retriever = s.deps.Retriever

	httpClient := &http.Client{}

	if s.agent == nil {
		agent, err := inference.NewAgentClient(inference.AgentConfig{
			BaseURL:      s.config.InferenceEndpoint,
			APIKey:       s.config.InferenceAPIKey,
			AgentID:      s.config.AgentID,
			AgentAliasID: s.config.AgentAliasID,
			HTTPClient:   httpClient,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize agent client: %w", err)
		}
		s.agent = agent
		slog.Info("Agent client initialized", "agent_id", s.config.AgentID)
	}

	if s.retriever == nil {
		signer := s.deps.Signer
		if signer == nil {
			storageClient, err := gcs.NewClient(context.Background(), s.config.CredentialsFile)
			if err != nil {
				return fmt.Errorf("failed to initialize storage client: %w", err)
			}
			s.storageClient = storageClient
			signer = storageClient
		}

		resolver, err := citations.NewResolver(signer)
		if err != nil {
			return fmt.Errorf("failed to initialize citation resolver: %w", err)
		}

		retriever, err := inference.NewRetrievalClient(inference.RetrievalConfig{
			BaseURL:         s.config.InferenceEndpoint,
			APIKey:          s.config.InferenceAPIKey,
			KnowledgeBaseID: s.config.KnowledgeBaseID,
			ModelRef:        s.config.ModelRef,
			HTTPClient:      httpClient,
		}, resolver)
		if err != nil {
			return fmt.Errorf("failed to initialize retrieval client: %w", err)
		}
		s.retriever = retriever
		slog.Info("Retrieval client initialized",
			"knowledge_base_id", s.config.KnowledgeBaseID,
			"model_ref", s.config.ModelRef)
	}

	return nil
}

// initRouter sets up the Gin HTTP router with all middleware and routes.
//
// # Description
//
// Creates the Gin engine and applies, in order: panic recovery with an
// opaque JSON 500, request ID propagation, security headers, CORS, and
// OpenTelemetry instrumentation. Routes are registered last.
//
// # Assumptions
//
//   - All dependencies (clients, resolver) are initialized
func (s *service) initRouter() {
	s.router = gin.New()
	s.router.Use(gin.CustomRecovery(handlers.PanicRecovery))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.CORS(s.config.AllowedOrigin))
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, s.agent, s.retriever, s.config.UpstreamTimeout)
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure. Closes the
// storage client and shuts down the tracer.
func (s *service) cleanup() {
	// Close storage client
	if s.storageClient != nil {
		if err := s.storageClient.Close(); err != nil {
			slog.Warn("Storage client close error", "error", err)
		}
	}

	// Shutdown tracer
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
