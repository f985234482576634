package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/montycloud/moya/pkg/config"
	"github.com/montycloud/moya/pkg/logging"
)

var agentsCheck bool

// AgentsCmd elenca gli agenti configurati.
var AgentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the configured agents",
	Example: `  # List agents
  moya agents

  # List agents and probe each provider
  moya agents --check`,
	RunE: runAgents,
}

func init() {
	AgentsCmd.Flags().BoolVar(&agentsCheck, "check", false, "Run a health check against each agent")
}

func runAgents(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Setup("error", "console")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	repo, closeRepo, err := buildRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	reg, err := buildAgents(ctx, cfg, repo)
	if err != nil {
		return err
	}

	var failures map[string]error
	if agentsCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		failures = reg.HealthCheck(checkCtx)
		cancel()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tMODEL\tSTATUS\tDESCRIPTION")
	for _, ac := range cfg.Agents {
		status := "-"
		if agentsCheck {
			if err, bad := failures[ac.Name]; bad {
				status = "unhealthy: " + err.Error()
			} else {
				status = "healthy"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ac.Name, ac.Type, ac.Model, status, ac.Description)
	}
	return w.Flush()
}
