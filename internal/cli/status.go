package cli

import (
	"fmt"
	"strings"

	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/llm"
	"github.com/soyeahso/wayfarer/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show Wayfarer status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wayfarer %s (commit %s)\n\n", version.Version, version.Commit)

			// Show paths
			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)
			if rl := cfg.Gateway.RateLimit; rl.MessagesPerSecond > 0 {
				fmt.Fprintf(out, "Limits:  %.1f msg/s burst=%d\n", rl.MessagesPerSecond, rl.Burst)
			}

			session := cfg.Session
			if session.Store == "sqlite" {
				fmt.Fprintf(out, "Session: store=sqlite path=%s\n", paths.Database)
			} else {
				fmt.Fprintf(out, "Session: store=%s\n", session.Store)
			}
			fmt.Fprintf(out, "Runs:    grace=%s timeout=%s stage=%s\n",
				cfg.Runs.GracePeriod(), cfg.Runs.RunTimeout(), cfg.Runs.StageTimeout())

			registry := llm.NewRegistryFromConfig(cfg.LLM, log)
			if providers := registry.List(); len(providers) > 0 {
				fmt.Fprintf(out, "LLM:     %s model=%s\n", strings.Join(providers, ", "), cfg.LLM.Model)
				if len(cfg.LLM.Fallbacks) > 0 {
					fmt.Fprintf(out, "         fallbacks=%s\n", strings.Join(cfg.LLM.Fallbacks, ", "))
				}
			} else {
				fmt.Fprintln(out, "LLM:     (rule-based)")
			}

			fmt.Fprintf(out, "Search:  latency=%s failureRate=%.2f\n", cfg.Search.Latency(), cfg.Search.FailureRate)

			// Validation
			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
