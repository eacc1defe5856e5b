package cli

import (
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kubeheal/kubeheal/pkg/actuator"
	"github.com/kubeheal/kubeheal/pkg/config"
	"github.com/kubeheal/kubeheal/pkg/feature"
	"github.com/kubeheal/kubeheal/pkg/healer"
	"github.com/kubeheal/kubeheal/pkg/kube"
	"github.com/kubeheal/kubeheal/pkg/logging"
	"github.com/kubeheal/kubeheal/pkg/notifier"
	"github.com/kubeheal/kubeheal/pkg/predictor"
	"github.com/kubeheal/kubeheal/pkg/serializer"
	"github.com/kubeheal/kubeheal/pkg/state"
	"github.com/kubeheal/kubeheal/pkg/version"
	"github.com/kubeheal/kubeheal/pkg/workload"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "config file path (defaults apply when omitted)",
	}
	deploymentFlag = &cli.StringFlag{
		Name:     "deployment",
		Aliases:  []string{"d"},
		Required: true,
		Usage:    "target deployment name",
	}
	namespaceFlag = &cli.StringFlag{
		Name:    "namespace",
		Aliases: []string{"n"},
		Value:   "default",
		Usage:   "target namespace",
	}
	outputFlag = &cli.StringFlag{
		Name:  "output",
		Usage: "output file path (default: stdout)",
	}
	formatFlag = &cli.StringFlag{
		Name:  "format",
		Value: "json",
		Usage: "output format (json, yaml)",
	}
)

// parseOutputFormat extracts and validates the output format flag.
func parseOutputFormat(cmd *cli.Command) (serializer.Format, error) {
	outFormat := serializer.Format(cmd.String("format"))
	if outFormat.IsUnknown() {
		return "", fmt.Errorf("unknown output format: %q, valid formats are: json, yaml", outFormat)
	}
	return outFormat, nil
}

// loadConfig reads the config file named by the flag, or the defaults,
// and re-installs the logger at the configured level.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if path := cmd.String("config"); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	logging.SetDefaultStructuredLogger("kubeheal", version.Version,
		logging.ParseLevel(cfg.Logging.Level))
	return cfg, nil
}

// buildHealer wires all collaborators from configuration. The returned
// predictor client is also handed back for health probes.
func buildHealer(cfg *config.Config) (*healer.Healer, *predictor.Client, error) {
	client, restConfig, err := kube.GetClient()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to kubernetes: %w", err)
	}

	var reader feature.Reader
	if cfg.Metrics.PrometheusURL != "" {
		reader, err = feature.NewPromReader(cfg.Metrics.PrometheusURL, cfg.Metrics.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build metrics reader: %w", err)
		}
	} else {
		reader = &feature.DeploymentReader{Client: client}
	}

	var store state.Store
	switch cfg.State.Backend {
	case config.StateBackendRedis:
		store, err = state.NewRedisStore(cfg.State.Redis.URL, cfg.State.Redis.Password)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build redis state store: %w", err)
		}
	case config.StateBackendMemory:
		store = state.NewMemoryStore()
	default:
		store = state.NewKubeStore(client)
	}

	pred := predictor.New(cfg.Predictor.URL, cfg.Predictor.Timeout, cfg.Predictor.Threshold)

	act := actuator.NewKubeActuator(
		client,
		&actuator.SPDYExecutor{Client: client, Config: restConfig},
		cfg.Actions.CacheClearCommand,
	)

	h := &healer.Healer{
		Features:  reader,
		Predictor: pred,
		Store:     store,
		Actuator:  act,
		Notifier:  notifier.FromURL(cfg.Notifier.WebhookURL, cfg.Notifier.Timeout, cfg.Notifier.RatePerMinute),
		Cooldown:  cfg.Actions.Cooldown,
	}
	return h, pred, nil
}

// targetsFromConfig maps configured workloads to healer targets.
func targetsFromConfig(cfg *config.Config) []healer.Target {
	targets := make([]healer.Target, 0, len(cfg.Workloads))
	for _, w := range cfg.Workloads {
		targets = append(targets, healer.Target{
			Ref:      workload.NewRef(w.Name, w.Namespace),
			Replicas: w.Replicas,
		})
	}
	return targets
}
