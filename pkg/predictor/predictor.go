package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kubeheal/kubeheal/pkg/feature"
)

// Label is the binary risk classification derived from the probability.
type Label string

const (
	LabelHigh Label = "HIGH"
	LabelLow  Label = "LOW"
)

// DefaultThreshold is the canonical decision boundary: a probability at or
// above it is HIGH. One threshold, one comparison operator, everywhere.
const DefaultThreshold = 0.7

// Assessment is the outcome of one risk evaluation. It is cycle-local and
// never persisted.
type Assessment struct {
	Probability float64 `json:"probability"`
	Label       Label   `json:"label"`
	// Degraded marks a score produced by the local fallback heuristic
	// because the inference service could not be reached.
	Degraded bool `json:"degraded"`
}

// Health is the decoded GET /healthz response of the inference service.
type Health struct {
	OK              bool    `json:"ok" yaml:"ok"`
	Status          string  `json:"status" yaml:"status"`
	ModelLoaded     bool    `json:"model_loaded" yaml:"model_loaded"`
	ModelError      *string `json:"model_error" yaml:"model_error"`
	ModelPath       string  `json:"model_path" yaml:"model_path"`
	ModelPathExists bool    `json:"model_path_exists" yaml:"model_path_exists"`
}

// predictResponse is the POST /predict response body.
type predictResponse struct {
	Probability float64        `json:"probability"`
	Risk        string         `json:"risk"`
	Features    feature.Record `json:"features"`
	ModelLoaded bool           `json:"model_loaded"`
	ModelError  *string        `json:"model_error"`
}

// Client calls the risk inference service, falling back to a local
// heuristic when the service cannot produce a usable score.
type Client struct {
	baseURL   string
	threshold float64
	httpc     *http.Client
}

// New builds a predictor client. An empty baseURL is allowed and forces
// every assessment through the fallback heuristic (degraded mode).
func New(baseURL string, timeout time.Duration, threshold float64) *Client {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		threshold: threshold,
		httpc:     &http.Client{Timeout: timeout},
	}
}

// Threshold returns the configured decision boundary.
func (c *Client) Threshold() float64 { return c.threshold }

// Assess returns a risk assessment for the given feature record. It never
// fails: service or decode errors degrade to the fallback heuristic, so
// the orchestrator always has a usable score.
func (c *Client) Assess(ctx context.Context, rec *feature.Record) *Assessment {
	if c.baseURL != "" {
		prob, err := c.predict(ctx, rec)
		if err == nil {
			return c.assessment(prob, false)
		}
		slog.Warn("predictor unreachable, using fallback heuristic", "error", err)
	}
	return c.assessment(Fallback(rec), true)
}

func (c *Client) assessment(prob float64, degraded bool) *Assessment {
	label := LabelLow
	if prob >= c.threshold {
		label = LabelHigh
	}
	return &Assessment{Probability: prob, Label: label, Degraded: degraded}
}

// predict posts the feature record to the inference service with at most
// one retry on transient failure.
func (c *Client) predict(ctx context.Context, rec *feature.Record) (float64, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to encode feature record: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		prob, err := c.predictOnce(ctx, body)
		if err == nil {
			return prob, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func (c *Client) predictOnce(ctx context.Context, body []byte) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("predict request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("predict returned status %d", resp.StatusCode)
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, fmt.Errorf("failed to decode predict response: %w", err)
	}
	if pr.Probability < 0 || pr.Probability > 1 {
		return 0, fmt.Errorf("predict probability %v outside [0,1]", pr.Probability)
	}
	return pr.Probability, nil
}

// Healthz probes the inference service health endpoint.
func (c *Client) Healthz(ctx context.Context) (*Health, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("no predictor URL configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build healthz request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("healthz request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("healthz returned status %d", resp.StatusCode)
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode healthz response: %w", err)
	}
	return &h, nil
}
