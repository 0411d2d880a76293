package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Canonical field names. They double as keys in FieldConfidence and as the
// JSON keys structured engines are asked to produce.
const (
	FieldIssuerName         = "issuerName"
	FieldDate               = "date"
	FieldSubtotal           = "subtotal"
	FieldTotalAmount        = "totalAmount"
	FieldCurrency           = "currency"
	FieldTaxBreakdown       = "taxBreakdown"
	FieldRegistrationNumber = "registrationNumber"
	FieldCategory           = "category"
)

// DefaultCategory is used when an engine does not classify the document.
const DefaultCategory = "uncategorized"

// Request is a single document submitted for extraction. It is created once
// per document and must not be modified after it is handed to an adapter.
type Request struct {
	ID        string
	Data      []byte
	MediaType string
}

// NewRequest builds a Request with a fresh id and a normalized media type.
func NewRequest(data []byte, mediaType string) Request {
	return Request{
		ID:        uuid.NewString(),
		Data:      data,
		MediaType: NormalizeMediaType(mediaType),
	}
}

// Money is an amount in minor currency units (cents).
type Money int64

// String formats the amount with two decimals.
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// TaxLine is one rate of a tax breakdown. Rate is a percentage (19 means 19%).
type TaxLine struct {
	Rate   float64 `json:"rate"`
	Base   *Money  `json:"base,omitempty"`
	Amount *Money  `json:"amount,omitempty"`
}

// Fields is the canonical structured content of a document. Absent values
// keep their zero value (empty string, nil amount, empty breakdown).
type Fields struct {
	IssuerName         string    `json:"issuer_name"`
	Date               string    `json:"date"` // YYYY-MM-DD
	Subtotal           *Money    `json:"subtotal,omitempty"`
	TotalAmount        *Money    `json:"total_amount,omitempty"`
	Currency           string    `json:"currency,omitempty"`
	TaxBreakdown       []TaxLine `json:"tax_breakdown"`
	RegistrationNumber string    `json:"registration_number,omitempty"`
	Category           string    `json:"category"`
}

func defaultFields() Fields {
	return Fields{
		TaxBreakdown: []TaxLine{},
		Category:     DefaultCategory,
	}
}

// Trace is diagnostic data about how a result was produced. It is never
// needed for correctness.
type Trace struct {
	Engine   string     `json:"engine"`
	Kind     OutputKind `json:"kind"`
	Raw      string     `json:"raw,omitempty"`
	Budget   int        `json:"budget,omitempty"`
	Attempts int        `json:"attempts"`
	Salvaged bool       `json:"salvaged,omitempty"`
}

// Result is the canonical adapter output. Callers treat it as read-only.
type Result struct {
	Fields          Fields          `json:"fields"`
	FieldConfidence FieldConfidence `json:"field_confidence"`
	Confidence      float64         `json:"confidence"`
	Warnings        []string        `json:"warnings,omitempty"`
	Trace           *Trace          `json:"trace,omitempty"`
}

// EmptyResult is the result shape handed out when no engine produced anything.
func EmptyResult() *Result {
	return &Result{
		Fields:          defaultFields(),
		FieldConfidence: FieldConfidence{},
	}
}

// OutputKind tags the raw output shape an engine produces.
type OutputKind string

const (
	// KindStructured engines answer with a JSON document.
	KindStructured OutputKind = "structured"
	// KindLines engines answer with recognized text lines.
	KindLines OutputKind = "lines"
)

// Adapter wraps one extraction capability behind the canonical contract.
type Adapter interface {
	// Name identifies the engine in traces and logs.
	Name() string
	// Extract runs the engine for one request.
	Extract(ctx context.Context, req Request) (*Result, error)
}

// InvokeConfig carries per-call engine settings.
type InvokeConfig struct {
	// MaxOutputTokens caps the generated output; 0 leaves the engine default.
	MaxOutputTokens int
}

// StructuredInvoker calls a remote engine that answers with JSON text.
type StructuredInvoker interface {
	Name() string
	Invoke(ctx context.Context, data []byte, mediaType string, cfg InvokeConfig) (string, error)
}

// Line is one recognized line of text. Confidence is in [0,1], or negative
// when the engine did not report one.
type Line struct {
	Text       string
	Confidence float64
}

// LineInvoker calls an OCR engine that answers with recognized lines.
type LineInvoker interface {
	Name() string
	InvokeLines(ctx context.Context, data []byte, mediaType string) ([]Line, error)
}

// NormalizeMediaType lowercases and trims a content type and drops parameters.
func NormalizeMediaType(mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "image/jpg" {
		mt = "image/jpeg"
	}
	return mt
}

var supportedMediaTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/heic":      true,
	"image/heif":      true,
	"application/pdf": true,
}

// SupportedMediaType reports whether documents of this type can be prepared
// for any engine.
func SupportedMediaType(mediaType string) bool {
	return supportedMediaTypes[NormalizeMediaType(mediaType)]
}

func checkInput(req Request) error {
	if len(req.Data) == 0 {
		return fmt.Errorf("%w: empty document", ErrUnsupportedInput)
	}
	if !SupportedMediaType(req.MediaType) {
		return fmt.Errorf("%w: media type %q", ErrUnsupportedInput, req.MediaType)
	}
	return nil
}
