package cli

import (
	"github.com/urfave/cli/v3"

	"github.com/kubeheal/kubeheal/pkg/version"
)

// Root assembles the kubeheal command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "kubeheal",
		Usage:   "risk-driven healing orchestrator for Kubernetes workloads",
		Version: version.Version,
		Description: `kubeheal samples runtime signals for managed Deployments, asks an ML
inference service for a failure probability, and escalates through an
ordered remediation ladder (restart, cache-clear, rollback) when risk is
high. Escalation progress is stored as annotations on the Deployment
itself, so kubeheal stays stateless across invocations.`,
		Commands: []*cli.Command{
			healCmd(),
			watchCmd(),
			statusCmd(),
			resetCmd(),
			versionCmd(),
		},
	}
}
