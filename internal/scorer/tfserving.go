package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/oncoscan/internal/imaging"
)

// TFServingScorer calls a TensorFlow Serving instance over its REST predict
// API. The trained Keras model never runs in-process; this adapter is the
// opaque scoring function the inference pipeline consumes.
type TFServingScorer struct {
	baseURL   string
	modelName string
	client    *http.Client
	logger    *zap.Logger
}

// NewTFServingScorer builds a scorer client for the given serving base URL
// (e.g. "http://model-server:8501") and model name.
func NewTFServingScorer(baseURL, modelName string, logger *zap.Logger) *TFServingScorer {
	return &TFServingScorer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		modelName: modelName,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger.Named("tfserving_scorer"),
	}
}

// Ready probes the model status endpoint and reports whether at least one
// version of the model is available to serve.
func (s *TFServingScorer) Ready(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/models/%s", s.baseURL, s.modelName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("model status probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model status probe returned %d", resp.StatusCode)
	}

	var status struct {
		ModelVersionStatus []struct {
			State string `json:"state"`
		} `json:"model_version_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("undecodable model status response: %w", err)
	}

	for _, version := range status.ModelVersionStatus {
		if version.State == "AVAILABLE" {
			return nil
		}
	}
	return fmt.Errorf("model %q has no available version", s.modelName)
}

// Score posts the normalized tensor to the predict endpoint and returns the
// scalar confidence from the model's sigmoid output.
func (s *TFServingScorer) Score(ctx context.Context, t imaging.Tensor) (float64, error) {
	payload, err := json.Marshal(struct {
		Instances imaging.Tensor `json:"instances"`
	}{Instances: t})
	if err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/v1/models/%s:predict", s.baseURL, s.modelName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("predict call failed", zap.Error(err))
		return 0, fmt.Errorf("predict call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.logger.Error("model server rejected predict request",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return 0, fmt.Errorf("model server returned %d", resp.StatusCode)
	}

	var out struct {
		Predictions [][]float64 `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("undecodable predict response: %w", err)
	}
	if len(out.Predictions) == 0 || len(out.Predictions[0]) == 0 {
		return 0, fmt.Errorf("predict response contained no predictions")
	}
	return out.Predictions[0][0], nil
}
