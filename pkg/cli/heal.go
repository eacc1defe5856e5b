package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/kubeheal/kubeheal/pkg/healer"
	"github.com/kubeheal/kubeheal/pkg/workload"
)

func healCmd() *cli.Command {
	return &cli.Command{
		Name:                  "heal",
		EnableShellCompletion: true,
		Usage:                 "Run one evaluation cycle for a single deployment",
		Description: `Run exactly one decision-and-act cycle: read the healing state, sample
features, assess risk, and apply at most one remediation tier. Designed to
be invoked from a pipeline step; exit code 2 means the escalation ladder
is exhausted and manual intervention is needed.`,
		Flags: []cli.Flag{
			configFlag,
			deploymentFlag,
			namespaceFlag,
			&cli.Int32Flag{
				Name:    "replicas",
				Aliases: []string{"r"},
				Value:   0,
				Usage:   "replica count applied alongside a restart (0 leaves it untouched)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			h, _, err := buildHealer(cfg)
			if err != nil {
				return err
			}

			target := healer.Target{
				Ref:      workload.NewRef(cmd.String("deployment"), cmd.String("namespace")),
				Replicas: cmd.Int32("replicas"),
			}

			outcome, err := h.RunCycle(ctx, target)
			if err != nil {
				return fmt.Errorf("cycle failed for %s: %w", target.Ref, err)
			}

			slog.Info("cycle finished", "workload", target.Ref.String(), "outcome", string(outcome))
			if outcome == healer.OutcomeExhausted {
				return cli.Exit("healing ladder exhausted, manual intervention needed", 2)
			}
			return nil
		},
	}
}
