package receipt

import (
	"time"

	"github.com/zombor/receipt-router/internal/routing"
	"github.com/zombor/receipt-router/internal/scanning"
)

// Extraction is a stored extraction of one uploaded document
type Extraction struct {
	ID              string                   `json:"id"`
	Filename        string                   `json:"filename"` // storage key of the source file
	ContentType     string                   `json:"content_type"`
	Fields          scanning.Fields          `json:"fields"`
	Confidence      float64                  `json:"confidence"`
	FieldConfidence scanning.FieldConfidence `json:"field_confidence"`
	Warnings        []string                 `json:"warnings,omitempty"`
	Tier            string                   `json:"tier"`
	Reason          string                   `json:"reason"`
	Cost            float64                  `json:"cost"`
	Accepted        bool                     `json:"accepted"`
	NeedsReview     bool                     `json:"needs_review"` // set when no tier accepted the result
	Attempts        []routing.Attempt        `json:"attempts,omitempty"`
	Trace           *scanning.Trace          `json:"trace,omitempty"`
	Failed          bool                     `json:"failed,omitempty"`
	Error           string                   `json:"error,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
}

// Upload is one document submitted as part of a batch
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}
