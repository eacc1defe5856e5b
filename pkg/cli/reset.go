package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kubeheal/kubeheal/pkg/workload"
)

func resetCmd() *cli.Command {
	return &cli.Command{
		Name:                  "reset",
		EnableShellCompletion: true,
		Usage:                 "Manually reset the healing attempt counter for a deployment",
		Description: `Clear the escalation episode: attempt back to 0, last action NONE. Use
after manual intervention when the workload is healthy again but risk was
still HIGH at the last evaluation.`,
		Flags: []cli.Flag{
			configFlag,
			deploymentFlag,
			namespaceFlag,
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

			ref := workload.NewRef(cmd.String("deployment"), cmd.String("namespace"))
			if err := h.ResetEpisode(ctx, ref); err != nil {
				return fmt.Errorf("failed to reset %s: %w", ref, err)
			}

			fmt.Printf("healing episode reset for %s\n", ref)
			return nil
		},
	}
}
