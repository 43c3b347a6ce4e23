package model

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"mlinterp/internal/dataset"
)

// RemoteConfig configures a model served over HTTP.
type RemoteConfig struct {
	URL       string
	Timeout   time.Duration
	BatchSize int
	Retries   int
	Headers   map[string]string
}

// PredictionRequest is the body posted to the prediction endpoint.
type PredictionRequest struct {
	Rows []map[string]any `json:"rows"`
}

// PredictionResponse is the expected reply.
type PredictionResponse struct {
	Predictions  []float64 `json:"predictions"`
	ModelVersion string    `json:"model_version,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Remote adapts an HTTP prediction service to Model. Rows are posted in
// batches of at most BatchSize.
type Remote struct {
	url       string
	batchSize int
	rest      *resty.Client
}

// NewRemote creates a remote model client.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote model URL is required")
	}
	r := resty.New()
	if cfg.Timeout > 0 {
		r.SetTimeout(cfg.Timeout)
	} else {
		r.SetTimeout(30 * time.Second)
	}
	if cfg.Retries > 0 {
		r.SetRetryCount(cfg.Retries).
			SetRetryWaitTime(100 * time.Millisecond).
			AddRetryCondition(func(resp *resty.Response, err error) bool {
				return err != nil || resp.StatusCode() >= http.StatusInternalServerError
			})
	}
	r.SetHeaders(cfg.Headers)

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1000
	}
	return &Remote{url: cfg.URL, batchSize: batch, rest: r}, nil
}

// Predict posts rows to the service and concatenates the replies.
func (m *Remote) Predict(ctx context.Context, rows *dataset.Dataset) ([]float64, error) {
	out := make([]float64, 0, rows.Rows())
	for start := 0; start < rows.Rows(); start += m.batchSize {
		end := min(start+m.batchSize, rows.Rows())

		req := PredictionRequest{Rows: make([]map[string]any, 0, end-start)}
		for i := start; i < end; i++ {
			req.Rows = append(req.Rows, rows.Row(i).Map())
		}

		result := &PredictionResponse{}
		resp, err := m.rest.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(result).
			SetError(result).
			Post(m.url)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("model service error: status %d: %s", resp.StatusCode(), result.Error)
		}
		if len(result.Predictions) != end-start {
			return nil, fmt.Errorf("model service returned %d predictions for %d rows", len(result.Predictions), end-start)
		}
		out = append(out, result.Predictions...)

		log.Debug().
			Str("url", m.url).
			Int("rows", end-start).
			Str("model_version", result.ModelVersion).
			Msg("remote batch predicted")
	}
	return out, nil
}
