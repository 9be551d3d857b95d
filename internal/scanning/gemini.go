package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const geminiTimeout = 30 * time.Second

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash-lite"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Analyze sends the photo and the money prompt to Gemini and returns the text reply
func (g *Gemini) Analyze(ctx context.Context, imageData []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, geminiTimeout)
	defer cancel()

	pngData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return "", err
	}

	// genai.ImageData takes the format suffix, not the MIME type
	resp, err := g.model.GenerateContent(ctx, genai.ImageData("png", pngData), genai.Text(moneyScanPrompt))
	if err != nil {
		return "", fmt.Errorf("%w: generating content: %w", ErrClassification, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no response from gemini", ErrClassification)
	}

	var reply strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			reply.WriteString(string(text))
		}
	}

	return strings.TrimSpace(reply.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
