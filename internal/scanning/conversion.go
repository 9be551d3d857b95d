package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// moneyScanPrompt is shared by every model backend. The reply format is what ParseReply expects.
const moneyScanPrompt = `You are looking at a photo of Vietnamese money: banknotes, a transfer receipt, a bill or a handwritten note.

1. **Amount**: the total amount of money in Vietnamese dong (VND). Add up all banknotes if several are visible. Write digits only, using commas as thousands separators (for example 50,000). Do not write "VND", "đ" or decimals.

2. **Recipient**: the person or business receiving the money, if any name is written (for example the payee on a transfer receipt or the shop name on a bill).

Reply with exactly one line in this format:
Amount: <amount>, Recipient: <name>

If there is no amount, write Amount: 0. If there is no name, write Recipient: Not found.
Do not add any other text.`

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodePNG(img)
}

// imageToPNG decodes a JPEG, GIF or HEIC photo and re-encodes it as PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var (
		img image.Image
		err error
	)

	// Phone cameras often produce HEIC, which the standard library cannot decode
	if isHEIC(imageData, mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return encodePNG(img)
	}

	img, _, err = image.Decode(bytes.NewReader(imageData))
	if err != nil {
		if msg := err.Error(); strings.Contains(msg, "unknown format") || strings.Contains(msg, "unsupported") {
			return nil, fmt.Errorf("unsupported image format (use JPEG, PNG, GIF, HEIC, HEIF or PDF): %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEIC checks the ftyp brand at offset 4 and the declared MIME type
func isHEIC(data []byte, mimeType string) bool {
	if len(data) >= 12 && string(data[4:8]) == "ftyp" {
		switch string(data[8:12]) {
		case "heic", "heif", "mif1", "msf1":
			return true
		}
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// prepareImageData normalizes a captured photo to PNG for the model backends.
// An empty content type is treated as JPEG, the camera default.
func prepareImageData(imageData []byte, contentType string) ([]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	switch {
	case mimeType == "application/pdf":
		data, err := pdfToImage(imageData)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return data, nil
	case mimeType == "image/png" && !isHEIC(imageData, mimeType):
		return imageData, nil
	default:
		data, err := imageToPNG(imageData, mimeType)
		if err != nil {
			return nil, fmt.Errorf("converting image to PNG: %w", err)
		}
		return data, nil
	}
}
