package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrOffline is returned when the reachability check fails before the photo is sent
var ErrOffline = errors.New("no network connection")

// AnalyzeRequest is the body accepted by a classification endpoint
type AnalyzeRequest struct {
	Image string `json:"image"`
}

// AnalyzeResponse is the body returned by a classification endpoint.
// Exactly one of Result and Error is set.
type AnalyzeResponse struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Remote implements the Scanner interface against an HTTP classification endpoint
// that accepts {"image": base64} and answers {"result": text} or {"error": message}.
type Remote struct {
	endpoint string
	checkURL string
	client   *http.Client
}

// NewRemote creates a Remote scanner. When checkURL is set, every Analyze call first
// sends a HEAD request there and fails fast with ErrOffline if it does not answer.
func NewRemote(endpoint, checkURL string, timeout time.Duration) (*Remote, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("remote endpoint is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Remote{
		endpoint: endpoint,
		checkURL: checkURL,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Analyze posts the base64 photo to the endpoint and returns the reply text
func (r *Remote) Analyze(ctx context.Context, imageData []byte, contentType string) (string, error) {
	if r.checkURL != "" && !r.reachable(ctx) {
		return "", fmt.Errorf("%w: %w", ErrClassification, ErrOffline)
	}

	jsonData, err := json.Marshal(AnalyzeRequest{Image: base64.StdEncoding.EncodeToString(imageData)})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: calling endpoint: %w", ErrClassification, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %w", ErrClassification, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: endpoint returned status %d: %s", ErrClassification, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var analyzeResp AnalyzeResponse
	if err := json.Unmarshal(body, &analyzeResp); err != nil {
		return "", fmt.Errorf("%w: decoding response: %w", ErrClassification, err)
	}
	if analyzeResp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrClassification, analyzeResp.Error)
	}

	return analyzeResp.Result, nil
}

func (r *Remote) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.checkURL, nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Close is a no-op for the HTTP client
func (r *Remote) Close() error {
	return nil
}
