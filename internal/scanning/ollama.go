package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const ollamaTimeout = 120 * time.Second

// Ollama implements the Scanner interface using a local Ollama vision model
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama Scanner instance.
// llava and qwen2-vl read printed amounts well; smaller models often miss the recipient.
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   modelName,
		client:  &http.Client{Timeout: ollamaTimeout},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Analyze sends the photo to Ollama's chat API and returns the text reply
func (o *Ollama) Analyze(ctx context.Context, imageData []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ollamaTimeout)
	defer cancel()

	pngData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return "", err
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You read amounts of Vietnamese money and payee names from photos.",
			},
			{
				Role:    "user",
				Content: moneyScanPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: calling ollama API: %w", ErrClassification, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: ollama API error (status %d): %s", ErrClassification, resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%w: decoding response: %w", ErrClassification, err)
	}

	return strings.TrimSpace(chatResp.Message.Content), nil
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
