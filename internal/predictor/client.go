// Package predictor calls the external skin-disease classification service.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dermatrack/api/config"
)

// ErrUnavailable covers every failure mode of the remote classifier: network
// errors, non-2xx responses, and unparseable bodies. Callers never see
// partial results.
var ErrUnavailable = errors.New("prediction service unavailable")

type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(cfg config.PredictorConfig, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

type predictResponse struct {
	Prediction string `json:"prediction"`
}

// Classify submits the image as a multipart body to the classifier's
// /predict endpoint and returns the label it assigns. The call is
// synchronous; the caller suspends until it resolves or fails.
func (c *Client) Classify(ctx context.Context, filename string, image io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("building multipart request: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return "", fmt.Errorf("copying image into request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalizing multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", &body)
	if err != nil {
		return "", fmt.Errorf("building prediction request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("prediction request failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error("prediction service returned error status",
			zap.Int("status", resp.StatusCode),
		)
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}
	if strings.TrimSpace(pr.Prediction) == "" {
		return "", fmt.Errorf("%w: response missing prediction", ErrUnavailable)
	}

	c.log.Debug("image classified",
		zap.String("prediction", pr.Prediction),
		zap.Duration("elapsed", time.Since(start)),
	)

	return pr.Prediction, nil
}
