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

// pdfToImage renders the first page of a PDF as PNG.
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Most receipts are a single page
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// imageToPNG converts any supported image format to PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// Go's image package has no HEIC/HEIF decoder (common on iPhones)
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand at offset 4.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// PrepareImage turns a supported document into PNG bytes every engine can
// read. PNG input is returned as is. Decoding failures are reported as
// ErrUnsupportedInput since retrying them cannot help.
func PrepareImage(data []byte, mediaType string) ([]byte, error) {
	mt := NormalizeMediaType(mediaType)
	if len(data) == 0 || !SupportedMediaType(mt) {
		return nil, fmt.Errorf("%w: media type %q", ErrUnsupportedInput, mediaType)
	}

	switch {
	case mt == "application/pdf":
		out, err := pdfToImage(data)
		if err != nil {
			return nil, fmt.Errorf("%w: converting PDF to image: %v", ErrUnsupportedInput, err)
		}
		return out, nil
	case mt == "image/png" && !isHEICFormat(data):
		return data, nil
	default:
		out, err := imageToPNG(data, mt)
		if err != nil {
			return nil, fmt.Errorf("%w: converting image to PNG: %v", ErrUnsupportedInput, err)
		}
		return out, nil
	}
}
