package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/montycloud/moya/internal/metrics"
	"github.com/montycloud/moya/internal/server"
	"github.com/montycloud/moya/pkg/config"
	"github.com/montycloud/moya/pkg/logging"
)

var devMode bool

// ServeCmd avvia il server HTTP dell'orchestratore.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration server",
	Long: `Start the HTTP server that exposes the configured agents.

The server routes chat requests through the orchestrator, keeps
per-thread conversation memory and exposes Prometheus metrics.`,
	Example: `  # Start with config from ./configs/config.yaml
  moya serve

  # Start with a specific config and console logging
  moya serve -c /etc/moya/config.yaml --dev`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().BoolVar(&devMode, "dev", false, "Enable console logging for local development")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	format := cfg.Monitoring.Logging.Format
	if devMode {
		format = "console"
	}
	logging.Setup(cfg.Monitoring.Logging.Level, format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := buildRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	reg, err := buildAgents(ctx, cfg, repo)
	if err != nil {
		return err
	}
	if reg.Len() == 0 {
		return fmt.Errorf("no agents configured")
	}

	for _, a := range reg.List() {
		if err := a.Setup(ctx); err != nil {
			log.Warn().Err(err).Str("agent", a.Name()).Msg("setup dell'agente fallito, continuo")
		}
	}

	orch, err := buildOrchestrator(cfg, reg, repo)
	if err != nil {
		return err
	}

	var exporter *metrics.Exporter
	if cfg.Monitoring.Prometheus.Enabled {
		exporter = metrics.NewExporter(reg, repo, cfg.Monitoring.Prometheus.Namespace)
		exporter.Start()
		defer exporter.Stop()
	}

	srv := server.New(server.Options{
		Addr:           cfg.Server.Addr(),
		JWTSecret:      cfg.Server.JWTSecret,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		MetricsEnabled: cfg.Monitoring.Prometheus.Enabled,
	}, orch, repo, exporter)

	log.Info().
		Int("agents", reg.Len()).
		Str("memory", cfg.Memory.Backend).
		Str("mode", cfg.Orchestrator.Mode).
		Msg("orchestratore pronto")

	return srv.Run(ctx)
}
