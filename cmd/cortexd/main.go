// ABOUTME: Entry point for the cortexd conversational runtime daemon
// ABOUTME: Wires the event bus, MCP services, orchestrator and HTTP ingress

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/cortexcore/cortex/internal/bus"
	"github.com/cortexcore/cortex/internal/config"
	"github.com/cortexcore/cortex/internal/httpapi"
	"github.com/cortexcore/cortex/internal/mcp"
	"github.com/cortexcore/cortex/internal/model"
	anthropicgen "github.com/cortexcore/cortex/internal/model/anthropic"
	openaigen "github.com/cortexcore/cortex/internal/model/openai"
	"github.com/cortexcore/cortex/internal/orchestrator"
	"github.com/cortexcore/cortex/internal/services/cognition"
	"github.com/cortexcore/cortex/internal/services/memory"
	"github.com/cortexcore/cortex/internal/store"
	"github.com/cortexcore/cortex/internal/stream"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
              _
  ___ ___ _ _| |_ _____  _____| |
 / __/ _ \ '_|  _/ _ \ \/ / _  |
| (_| (_) | | | ||  __/>  < (_| |
 \___\___/|_|  \__\___/_/\_\__,_|
`

// getConfigPath returns the path to the cortexd config file.
// Priority: CORTEX_CONFIG env var > XDG_CONFIG_HOME/cortex/cortexd.yaml > ~/.config/cortex/cortexd.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CORTEX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "cortexd.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "cortex", "cortexd.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: cortexd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the runtime")
		fmt.Println("  init      Write a default config file")
		fmt.Println("  version   Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Model:    %s\n", cfg.Model.Provider)
	fmt.Println()

	logger.Info("starting cortexd",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"model_provider", cfg.Model.Provider,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	b := bus.New(cfg.Bus.QueueCapacity, logger)
	defer b.Close()

	registry := mcp.NewRegistry(logger)
	defer registry.Close()

	if err := registerServices(ctx, registry, st, cfg, logger); err != nil {
		return err
	}

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	registry.StartHealthLoop(healthCtx, cfg.Services.HealthInterval, cfg.Services.ProbeTimeout)

	dispatcher := mcp.NewDispatcher(registry, logger)

	generator, err := buildGenerator(cfg.Model)
	if err != nil {
		return err
	}

	orch := orchestrator.New(b, dispatcher, generator, orchestrator.Config{
		CallTimeout:       cfg.Services.CallTimeout,
		GenerationTimeout: cfg.Services.GenerationTimeout,
	}, logger)

	orchCtx, stopOrch := context.WithCancel(context.Background())
	orchDone := make(chan error, 1)
	go func() {
		orchDone <- orch.Run(orchCtx)
	}()

	broadcaster := stream.NewBroadcaster(b, orch, logger)
	defer broadcaster.Close()

	api := httpapi.NewServer(b, broadcaster, registry, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
			return
		}
		httpErr <- nil
	}()

	logger.Info("cortexd ready", "http_addr", cfg.Server.HTTPAddr)

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		stopOrch()
		<-orchDone
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	stopOrch()
	if err := <-orchDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("orchestrator stopped with error", "error", err)
	}

	return nil
}

// loadConfig loads the config file if it exists, falling back to defaults so
// a bare `cortexd serve` works out of the box.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// registerServices builds the in-process MCP services, connects their
// clients and registers them with the registry.
func registerServices(ctx context.Context, registry *mcp.Registry, st store.Store, cfg *config.Config, logger *slog.Logger) error {
	memSvc := memory.New(st, cfg.Memory.HistoryLimit, logger)
	memClient := mcp.NewInProcessClient(memSvc, logger)
	if err := memClient.Connect(ctx); err != nil {
		return fmt.Errorf("connecting memory service: %w", err)
	}
	registry.Register(mcp.ServiceDescriptor{
		Name:      memory.ServiceName,
		Transport: mcp.TransportInProcess,
	}, memClient)

	cogSvc := cognition.New(cognition.DefaultMaxTurns, cognition.DefaultMaxChars, logger)
	cogClient := mcp.NewInProcessClient(cogSvc, logger)
	if err := cogClient.Connect(ctx); err != nil {
		return fmt.Errorf("connecting cognition service: %w", err)
	}
	registry.Register(mcp.ServiceDescriptor{
		Name:      cognition.ServiceName,
		Transport: mcp.TransportInProcess,
	}, cogClient)

	return nil
}

// buildGenerator selects the response generator from the model config.
func buildGenerator(cfg config.ModelConfig) (model.Generator, error) {
	switch cfg.Provider {
	case "echo", "":
		return &model.Echo{}, nil
	case "anthropic":
		return anthropicgen.New(func(o *anthropicgen.Options) {
			o.APIKey = cfg.AnthropicAPIKey
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
			if cfg.Name != "" {
				o.Model = sdkanthropic.Model(cfg.Name)
			}
		}), nil
	case "openai":
		return openaigen.New(func(o *openaigen.Options) {
			o.APIKey = cfg.OpenAIAPIKey
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

func runInit() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	cfg := config.Default()
	cfg.Services.HealthIntervalRaw = cfg.Services.HealthInterval.String()
	cfg.Services.ProbeTimeoutRaw = cfg.Services.ProbeTimeout.String()
	cfg.Services.CallTimeoutRaw = cfg.Services.CallTimeout.String()
	cfg.Services.GenerationTimeoutRaw = cfg.Services.GenerationTimeout.String()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Wrote %s\n", configPath)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
