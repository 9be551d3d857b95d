package scanning

import (
	"context"
	"errors"
)

// ErrClassification marks a failed call to a classification backend: transport errors,
// non-2xx responses, error payloads and replies that could not be decoded.
var ErrClassification = errors.New("classification failed")

// Scanner defines the interface for photo classification
type Scanner interface {
	// Analyze sends a photo to the model and returns its free-text reply
	Analyze(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close closes the scanner and releases resources
	Close() error
}
