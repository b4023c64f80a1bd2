// Package main provides the veriflow binary entry point.
// Veriflow runs the verification lifecycle over a translated codebase:
// trust levels per unit, dependency-gated batch scheduling, a challenge
// ledger, and an append-only commit chain.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/componentregistry"
	"github.com/c360studio/semstreams/config"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/metric"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/c360studio/semstreams/service"
	"github.com/c360studio/semstreams/types"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/spf13/cobra"

	appconfig "github.com/c360studio/veriflow/config"
	leasemonitor "github.com/c360studio/veriflow/processor/lease-monitor"
	runorchestrator "github.com/c360studio/veriflow/processor/run-orchestrator"
	verifyapi "github.com/c360studio/veriflow/processor/verify-api"
	"github.com/c360studio/veriflow/verify"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "veriflow"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		planPath string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "veriflow",
		Short: "Verification lifecycle engine",
		Long: `Veriflow tracks how much trust each translated unit has earned and
schedules verification work in dependency order.

It provides:
- Trust levels L0-L4 per unit with evidence-gated transitions
- Layered, dependency-gated batch scheduling
- A challenge ledger with forced downgrade on dispute
- An append-only, hash-chained commit record

All components communicate via NATS using the semstreams framework.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(planPath, logLevel)
		},
	}

	cmd.Flags().StringVar(&planPath, "plan", "", "Verification plan path (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	cmd.AddCommand(planCmd())
	cmd.AddCommand(triggerCmd())

	return cmd
}

// planCmd validates a plan file and prints its shape.
func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [path]",
		Short: "Validate a verification plan",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := appconfig.DefaultPlanFile
			if len(args) > 0 {
				path = args[0]
			}

			plan, err := verify.LoadPlan(path)
			if err != nil {
				return fmt.Errorf("load plan: %w", err)
			}

			fmt.Printf("Plan %s: %d layers, %d units\n", path, len(plan.Layers), len(plan.Units))
			for _, layer := range plan.Layers {
				count := 0
				for _, u := range plan.Units {
					if u.Layer == layer.Index {
						count++
					}
				}
				fmt.Printf("  layer %d (%s): %d units, min level %s\n",
					layer.Index, layer.Name, count, layer.MinLevel)
			}
			return nil
		},
	}
	return cmd
}

// triggerCmd publishes a run trigger to a running veriflow instance.
func triggerCmd() *cobra.Command {
	var (
		runID      string
		maxBatches int
		planPath   string
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Trigger a verification run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			cfg, err := appconfig.NewLoader(slog.Default()).Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			client, err := connectToNATS(ctx, cfg, slog.Default())
			if err != nil {
				return err
			}
			defer client.Close(ctx)

			payload := verify.RunTriggerPayload{
				RunID:      runID,
				PlanPath:   planPath,
				MaxBatches: maxBatches,
			}
			if err := payload.Validate(); err != nil {
				return fmt.Errorf("invalid trigger: %w", err)
			}

			if err := publishPayload(ctx, client, &payload); err != nil {
				return fmt.Errorf("publish trigger: %w", err)
			}

			fmt.Println("Run trigger published")
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (generated when empty)")
	cmd.Flags().IntVar(&maxBatches, "max-batches", 0, "Bound the run (0 = run to quiescence)")
	cmd.Flags().StringVar(&planPath, "plan", "", "Plan path override for this run")

	return cmd
}

// publishPayload wraps a run trigger in the message envelope and
// publishes it to the trigger subject.
func publishPayload(ctx context.Context, client *natsclient.Client, payload *verify.RunTriggerPayload) error {
	baseMsg := message.NewBaseMessage(verify.RunTriggerType, payload, appName)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	return client.PublishToStream(ctx, verify.SubjectRunTrigger, data)
}

func run(planPath, logLevel string) error {
	// Print banner
	printBanner()

	// Configure logging
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load application configuration (veriflow.yaml, layered)
	appCfg, err := appconfig.NewLoader(logger).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if planPath != "" {
		appCfg.Plan.Path = planPath
	}

	// Verify the plan file exists before wiring anything
	if _, err := os.Stat(appCfg.Plan.Path); err != nil {
		return fmt.Errorf("plan file %s: %w", appCfg.Plan.Path, err)
	}

	ctx := context.Background()

	// Start embedded NATS when no external server is configured
	embedded, err := startEmbeddedNATS(appCfg, logger)
	if err != nil {
		return err
	}
	if embedded != nil {
		defer func() {
			embedded.Shutdown()
			embedded.WaitForShutdown()
		}()
	}

	// Connect to NATS
	natsClient, err := connectToNATS(ctx, appCfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	// Build the platform config with the VERIFY stream and components
	cfg := buildPlatformConfig(appCfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure JetStream streams exist
	if err := ensureStreams(ctx, cfg, natsClient, logger); err != nil {
		return err
	}

	slog.Info("Veriflow ready",
		"version", Version,
		"plan", appCfg.Plan.Path)

	// Create remaining infrastructure
	metricsRegistry := metric.NewMetricsRegistry()
	platform := extractPlatformMeta(cfg)

	// Create and start config manager (required for component-manager to access component configs)
	configManager, err := config.NewConfigManager(cfg, natsClient, logger)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := configManager.Start(ctx); err != nil {
		return fmt.Errorf("start config manager: %w", err)
	}
	defer configManager.Stop(5 * time.Second)

	// Create and populate component registry
	componentRegistry := component.NewRegistry()

	// Register all semstreams components
	slog.Debug("Registering semstreams component factories")
	if err := componentregistry.Register(componentRegistry); err != nil {
		return fmt.Errorf("register semstreams components: %w", err)
	}

	// Register veriflow components
	slog.Debug("Registering veriflow component factories")
	if err := runorchestrator.Register(componentRegistry); err != nil {
		return fmt.Errorf("register run-orchestrator: %w", err)
	}
	if err := verifyapi.Register(componentRegistry); err != nil {
		return fmt.Errorf("register verify-api: %w", err)
	}
	if err := leasemonitor.Register(componentRegistry); err != nil {
		return fmt.Errorf("register lease-monitor: %w", err)
	}

	factories := componentRegistry.ListFactories()
	slog.Info("Component factories registered", "count", len(factories))

	// Create service registry and manager (semstreams pattern)
	serviceRegistry := service.NewServiceRegistry()
	if err := service.RegisterAll(serviceRegistry); err != nil {
		return fmt.Errorf("register services: %w", err)
	}

	manager := service.NewServiceManager(serviceRegistry)
	ensureServiceManagerConfig(cfg)

	// Create service dependencies
	svcDeps := &service.Dependencies{
		NATSClient:        natsClient,
		MetricsRegistry:   metricsRegistry,
		Logger:            logger,
		Platform:          platform,
		Manager:           configManager,
		ComponentRegistry: componentRegistry,
	}

	// Configure and create services
	if err := configureAndCreateServices(cfg, manager, svcDeps); err != nil {
		return err
	}

	slog.Info("All services configured")

	// Setup signal handling
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Start all services (includes HTTP server with health endpoints)
	slog.Info("Starting all services")
	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	slog.Info("All services started successfully")

	// Block until shutdown signal
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	// Stop all services
	shutdownTimeout := 30 * time.Second
	if err := manager.StopAll(shutdownTimeout); err != nil {
		slog.Error("Error stopping services", "error", err)
	}

	slog.Info("Veriflow shutdown complete")
	return nil
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║             Veriflow v" + Version + "                    ║")
	fmt.Println("║      Verification Lifecycle Engine            ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}

// startEmbeddedNATS starts an in-process NATS server when the config
// asks for one, and rewrites the config URL to point at it.
func startEmbeddedNATS(appCfg *appconfig.Config, logger *slog.Logger) (*server.Server, error) {
	if appCfg.NATS.URL != "" && !appCfg.NATS.Embedded {
		return nil, nil
	}

	logger.Info("Starting embedded NATS server")
	opts := &server.Options{
		Port:      -1, // Random available port
		JetStream: true,
		StoreDir:  filepath.Join(os.TempDir(), "veriflow-nats"),
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start")
	}

	appCfg.NATS.URL = ns.ClientURL()
	logger.Info("Embedded NATS server ready", "url", appCfg.NATS.URL)
	return ns, nil
}

// buildPlatformConfig translates the application config into the
// semstreams platform config with the VERIFY stream and components.
func buildPlatformConfig(appCfg *appconfig.Config) *config.Config {
	orchestratorConfig := map[string]any{
		"plan_path":       appCfg.Plan.Path,
		"watch_plan":      appCfg.Plan.Watch,
		"max_concurrent":  appCfg.Run.MaxConcurrent,
		"lease_ttl":       appCfg.Run.LeaseTTL.String(),
		"attempt_timeout": appCfg.Run.AttemptTimeout.String(),
	}
	orchestratorJSON, _ := json.Marshal(orchestratorConfig)

	apiConfig := map[string]any{
		"snapshot_evidence": appCfg.Evidence.SnapshotURLs,
		"snapshot_timeout":  appCfg.Evidence.SnapshotTimeout.String(),
	}
	apiJSON, _ := json.Marshal(apiConfig)

	monitorConfig := map[string]any{
		"sweep_interval": "30s",
	}
	monitorJSON, _ := json.Marshal(monitorConfig)

	return &config.Config{
		Version: "1.0.0",
		Platform: config.PlatformConfig{
			Org:         "veriflow",
			ID:          "veriflow-local",
			Environment: "dev",
		},
		NATS: config.NATSConfig{
			URLs:          []string{appCfg.NATS.URL},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream: config.JetStreamConfig{
				Enabled: true,
			},
		},
		Services: types.ServiceConfigs{},
		Components: config.ComponentConfigs{
			"run-orchestrator": types.ComponentConfig{
				Name:    "run-orchestrator",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  orchestratorJSON,
			},
			"verify-api": types.ComponentConfig{
				Name:    "verify-api",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  apiJSON,
			},
			"lease-monitor": types.ComponentConfig{
				Name:    "lease-monitor",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  monitorJSON,
			},
		},
		Streams: config.StreamConfigs{
			// Commit records double as the durable ledger, so the
			// stream uses file storage and no age limit.
			"VERIFY": config.StreamConfig{
				Subjects: []string{
					"verify.run.trigger",
					"verify.challenge.>",
					"verify.commit.>",
					"verify.events.>",
					"verify.lease.expired.>",
					"verify.verdict.>",
				},
				Storage:  "file",
				Replicas: 1,
			},
		},
	}
}

func connectToNATS(ctx context.Context, appCfg *appconfig.Config, logger *slog.Logger) (*natsclient.Client, error) {
	natsURL := appCfg.NATS.URL

	// Environment variable override takes precedence
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		natsURL = envURL
	} else if envURL := os.Getenv("VERIFLOW_NATS_URL"); envURL != "" {
		natsURL = envURL
	}
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	logger.Info("Connecting to NATS", "url", natsURL)

	client, err := natsclient.NewClient(natsURL,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20), // Higher threshold for startup bursts
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, natsURL)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, natsURL)
	}

	logger.Info("Connected to NATS", "url", natsURL)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	// Check for common connection errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set NATS_URL environment variable to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func ensureStreams(ctx context.Context, cfg *config.Config, natsClient *natsclient.Client, logger *slog.Logger) error {
	logger.Debug("Creating JetStream streams")
	streamsManager := config.NewStreamsManager(natsClient, logger)

	if err := streamsManager.EnsureStreams(ctx, cfg); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}

	logger.Debug("JetStream streams ready")
	return nil
}

func extractPlatformMeta(cfg *config.Config) types.PlatformMeta {
	platformID := cfg.Platform.InstanceID
	if platformID == "" {
		platformID = cfg.Platform.ID
	}

	return types.PlatformMeta{
		Org:      cfg.Platform.Org,
		Platform: platformID,
	}
}

// ensureServiceManagerConfig ensures service-manager config exists with defaults
func ensureServiceManagerConfig(cfg *config.Config) {
	if cfg.Services == nil {
		cfg.Services = make(types.ServiceConfigs)
	}

	if _, exists := cfg.Services["service-manager"]; !exists {
		slog.Debug("Adding default service-manager config")
		defaultConfig := map[string]any{
			"http_port":  8080,
			"swagger_ui": false,
			"server_info": map[string]string{
				"title":       "Veriflow API",
				"description": "verification lifecycle engine - trust levels, scheduling, challenges",
				"version":     Version,
			},
		}
		defaultConfigJSON, _ := json.Marshal(defaultConfig)
		cfg.Services["service-manager"] = types.ServiceConfig{
			Name:    "service-manager",
			Enabled: true,
			Config:  defaultConfigJSON,
		}
		slog.Debug("Service-manager config added", "enabled", true)
	}
}

// configureAndCreateServices configures the manager and creates all services
func configureAndCreateServices(
	cfg *config.Config,
	manager *service.Manager,
	svcDeps *service.Dependencies,
) error {
	slog.Debug("Configuring Manager")
	if err := manager.ConfigureFromServices(cfg.Services, svcDeps); err != nil {
		return fmt.Errorf("configure service manager: %w", err)
	}

	slog.Debug("Creating services from config", "count", len(cfg.Services))
	for name, svcConfig := range cfg.Services {
		if name == "service-manager" {
			slog.Debug("Skipping service-manager (configured directly)")
			continue
		}

		if err := createServiceIfEnabled(manager, name, svcConfig, svcDeps); err != nil {
			return err
		}
	}

	return nil
}

// createServiceIfEnabled creates a service if it's enabled and registered
func createServiceIfEnabled(
	manager *service.Manager,
	name string,
	svcConfig types.ServiceConfig,
	svcDeps *service.Dependencies,
) error {
	slog.Debug("Processing service config", "key", name, "name", svcConfig.Name, "enabled", svcConfig.Enabled)

	if !svcConfig.Enabled {
		slog.Info("Service disabled in config", "name", name)
		return nil
	}

	if !manager.HasConstructor(name) {
		slog.Warn("Service configured but not registered", "key", name, "available_constructors", manager.ListConstructors())
		return nil
	}

	slog.Debug("Creating service", "name", name, "has_constructor", true)
	if _, err := manager.CreateService(name, svcConfig.Config, svcDeps); err != nil {
		return fmt.Errorf("create service %s: %w", name, err)
	}

	slog.Info("Created service", "name", name, "config_name", svcConfig.Name)
	return nil
}
