package cli

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/kubeheal/kubeheal/pkg/healer"
	"github.com/kubeheal/kubeheal/pkg/predictor"
	"github.com/kubeheal/kubeheal/pkg/serializer"
	"github.com/kubeheal/kubeheal/pkg/server"
	"github.com/kubeheal/kubeheal/pkg/state"
	"github.com/kubeheal/kubeheal/pkg/workload"
)

// workloadStatus is the serialized `status` output for one workload.
type workloadStatus struct {
	Workload   workload.Ref      `json:"workload" yaml:"workload"`
	Phase      string            `json:"phase" yaml:"phase"`
	Attempt    int               `json:"attempt" yaml:"attempt"`
	LastAction state.Action      `json:"lastAction" yaml:"lastAction"`
	LastUpdate string            `json:"lastUpdated,omitempty" yaml:"lastUpdated,omitempty"`
	Predictor  *predictor.Health `json:"predictor,omitempty" yaml:"predictor,omitempty"`
}

// statusOf assembles the serialized healing status for one workload.
func statusOf(ctx context.Context, h *healer.Healer, ref workload.Ref) (workloadStatus, error) {
	cur, err := h.Store.Load(ctx, ref)
	if err != nil {
		return workloadStatus{}, err
	}

	out := workloadStatus{
		Workload:   ref,
		Phase:      string(healer.PhaseOf(cur.Attempt)),
		Attempt:    cur.Attempt,
		LastAction: cur.LastAction,
	}
	if !cur.LastUpdated.IsZero() {
		out.LastUpdate = cur.LastUpdated.UTC().Format(time.RFC3339)
	}
	return out, nil
}

// statusHandler serves GET /v1/status on the watch server: the healing
// state of every configured workload plus the predictor's health.
func statusHandler(h *healer.Healer, pred *predictor.Client, predictorURL string, targets []healer.Target) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Workloads []workloadStatus  `json:"workloads" yaml:"workloads"`
			Predictor *predictor.Health `json:"predictor,omitempty" yaml:"predictor,omitempty"`
		}{Workloads: make([]workloadStatus, 0, len(targets))}

		for _, t := range targets {
			st, err := statusOf(r.Context(), h, t.Ref)
			if err != nil {
				server.WriteError(w, r, http.StatusInternalServerError,
					server.ErrCodeInternalError, err.Error(), true, nil)
				return
			}
			resp.Workloads = append(resp.Workloads, st)
		}

		if predictorURL != "" {
			if ph, err := pred.Healthz(r.Context()); err == nil {
				resp.Predictor = ph
			} else {
				slog.Warn("predictor health probe failed", "error", err)
			}
		}

		serializer.RespondJSON(w, http.StatusOK, resp)
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:                  "status",
		EnableShellCompletion: true,
		Usage:                 "Show healing state and predictor health for a deployment",
		Flags: []cli.Flag{
			configFlag,
			deploymentFlag,
			namespaceFlag,
			outputFlag,
			formatFlag,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			outFormat, err := parseOutputFormat(cmd)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			h, pred, err := buildHealer(cfg)
			if err != nil {
				return err
			}

			ref := workload.NewRef(cmd.String("deployment"), cmd.String("namespace"))
			out, err := statusOf(ctx, h, ref)
			if err != nil {
				return err
			}

			if cfg.Predictor.URL != "" {
				ph, err := pred.Healthz(ctx)
				if err != nil {
					slog.Warn("predictor health probe failed", "error", err)
				} else {
					out.Predictor = ph
				}
			}

			ser, err := serializer.NewFileWriterOrStdout(outFormat, cmd.String("output"))
			if err != nil {
				return err
			}
			defer func() {
				if err := ser.Close(); err != nil {
					slog.Warn("failed to close serializer", "error", err)
				}
			}()

			return ser.Serialize(out)
		},
	}
}
