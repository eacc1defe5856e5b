package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kubeheal/kubeheal/pkg/kube"
	"github.com/kubeheal/kubeheal/pkg/server"
	"github.com/kubeheal/kubeheal/pkg/version"
)

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:                  "watch",
		EnableShellCompletion: true,
		Usage:                 "Continuously evaluate all configured workloads",
		Description: `Run the evaluation loop over every workload in the config file on a
fixed interval, and serve the healer's own health, readiness and metrics
endpoints. This is the long-running deployment mode.`,
		Flags: []cli.Flag{
			configFlag,
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "override the evaluation interval from the config file",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(cfg.Workloads) == 0 {
				return fmt.Errorf("no workloads configured; nothing to watch")
			}

			interval := cfg.Interval
			if v := cmd.Duration("interval"); v > 0 {
				interval = v
			}

			h, pred, err := buildHealer(cfg)
			if err != nil {
				return err
			}

			srv := server.New(
				server.WithName("kubeheal"),
				server.WithVersion(version.Version),
				server.WithConfig(server.Config{
					Address:         cfg.Server.Address,
					Port:            cfg.Server.Port,
					RateLimit:       rate.Limit(cfg.Server.RateLimit),
					RateLimitBurst:  cfg.Server.RateLimitBurst,
					ReadTimeout:     cfg.Server.ReadTimeout,
					WriteTimeout:    cfg.Server.WriteTimeout,
					IdleTimeout:     cfg.Server.IdleTimeout,
					ShutdownTimeout: cfg.Server.ShutdownTimeout,
				}),
				server.WithReadinessCheck("predictor", func(ctx context.Context) error {
					if cfg.Predictor.URL == "" {
						return nil // fallback-only mode is still ready
					}
					_, err := pred.Healthz(ctx)
					return err
				}),
				server.WithReadinessCheck("kubernetes", func(context.Context) error {
					client, _, err := kube.GetClient()
					if err != nil {
						return err
					}
					_, err = client.Discovery().ServerVersion()
					return err
				}),
				server.WithStatusHandler(statusHandler(h, pred, cfg.Predictor.URL, targetsFromConfig(cfg))),
			)

			targets := targetsFromConfig(cfg)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(gctx)
			})
			g.Go(func() error {
				// The loop owns readiness: ready once every workload has
				// completed its first cycle, not on a wall-clock guess.
				return h.RunLoop(gctx, targets, interval, func() {
					srv.SetReady(true)
				})
			})

			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
