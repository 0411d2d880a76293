package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-router/internal/batch"
	"github.com/zombor/receipt-router/internal/routing"
	"github.com/zombor/receipt-router/internal/scanning"
)

// ErrExtractionFailed is returned when no tier produced a result. The
// record is still saved with Failed set.
var ErrExtractionFailed = errors.New("no tier produced a result")

// Extractor routes a document through the configured tiers
type Extractor interface {
	Extract(ctx context.Context, req scanning.Request) (*scanning.Result, routing.Decision, error)
	Tiers() []routing.TierInfo
}

// IDGenerator generates unique IDs for extractions
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles extraction operations
type Service struct {
	db          DB
	extractor   Extractor
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, extractor Extractor, storage Storage) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor Extractor, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	reFilenameNoise = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	reSpaces        = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := filepath.Ext(filename)
	if reFilenameNoise.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = reFilenameNoise.ReplaceAllString(base, "")
	base = reSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// phone uploads carry very long generated names
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "document"
	}

	return base + ext
}

// Tiers lists the configured extraction tiers
func (s *Service) Tiers() []routing.TierInfo {
	return s.extractor.Tiers()
}

// ExtractOne stores a document, routes it and saves the resulting record.
// When the router rejects every tier in strict mode, or no tier produced a
// result at all, the record is still saved and returned together with the
// error.
func (s *Service) ExtractOne(ctx context.Context, filename string, data []byte, contentType string) (*Extraction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", scanning.ErrUnsupportedInput)
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()
	contentType = scanning.NormalizeMediaType(contentType)

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	req := scanning.Request{ID: id, Data: data, MediaType: contentType}
	result, decision, routeErr := s.extractor.Extract(ctx, req)
	if result == nil {
		slog.Error("Failed to extract document",
			"id", id,
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", routeErr,
		)
		s.storage.Delete(savedPath)
		if routeErr == nil {
			routeErr = errors.New("no result")
		}
		return nil, fmt.Errorf("extracting document: %w", routeErr)
	}

	extraction := &Extraction{
		ID:              id,
		Filename:        savedPath,
		ContentType:     contentType,
		Fields:          result.Fields,
		Confidence:      result.Confidence,
		FieldConfidence: result.FieldConfidence,
		Warnings:        result.Warnings,
		Tier:            decision.Tier,
		Reason:          decision.Reason,
		Cost:            decision.Cost,
		Accepted:        decision.Accepted,
		NeedsReview:     !decision.Accepted,
		Attempts:        decision.Attempts,
		Trace:           result.Trace,
		CreatedAt:       now,
	}
	if !decision.Produced() {
		extraction.Failed = true
		if routeErr == nil {
			routeErr = fmt.Errorf("%w: %s", ErrExtractionFailed, decision.Reason)
		}
	}
	if routeErr != nil {
		extraction.Error = routeErr.Error()
	}

	if err := s.db.SaveExtraction(extraction); err != nil {
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("saving extraction to database: %w", err)
	}

	slog.Info("Extracted document",
		"id", id,
		"failed", extraction.Failed,
		"tier", decision.Tier,
		"accepted", decision.Accepted,
		"confidence", result.Confidence,
		"cost", decision.Cost,
	)

	if routeErr != nil {
		return extraction, fmt.Errorf("extracting document: %w", routeErr)
	}
	return extraction, nil
}

// ExtractBatch runs ExtractOne over uploads with the given options. The
// returned slice is aligned with uploads: failed items carry Failed and the
// error text, items never started because the batch stopped are nil.
func (s *Service) ExtractBatch(ctx context.Context, uploads []Upload, opts batch.Options) ([]*Extraction, error) {
	outcomes, runErr := batch.Run(ctx, uploads, func(ctx context.Context, _ int, u Upload) (*Extraction, error) {
		return s.ExtractOne(ctx, u.Filename, u.Data, u.ContentType)
	}, opts)

	extractions := make([]*Extraction, len(uploads))
	for i, o := range outcomes {
		switch {
		case !o.Done:
			continue
		case o.Err == nil:
			extractions[i] = o.Value
		case o.Value != nil:
			o.Value.Failed = true
			extractions[i] = o.Value
		default:
			extractions[i] = &Extraction{
				Filename:    uploads[i].Filename,
				ContentType: uploads[i].ContentType,
				Failed:      true,
				Error:       o.Err.Error(),
				CreatedAt:   s.timeSource.Now(),
			}
		}
	}

	if runErr != nil {
		return extractions, fmt.Errorf("running batch: %w", runErr)
	}
	return extractions, nil
}

// GetExtraction retrieves an extraction by ID
func (s *Service) GetExtraction(id string) (*Extraction, error) {
	extraction, err := s.db.GetExtraction(id)
	if err != nil {
		return nil, fmt.Errorf("getting extraction: %w", err)
	}
	return extraction, nil
}

// ListExtractions returns all extractions
func (s *Service) ListExtractions() ([]*Extraction, error) {
	extractions, err := s.db.ListExtractions()
	if err != nil {
		return nil, fmt.Errorf("listing extractions: %w", err)
	}
	return extractions, nil
}

// DeleteExtraction removes an extraction and its source file
func (s *Service) DeleteExtraction(id string) error {
	extraction, err := s.db.GetExtraction(id)
	if err != nil {
		return fmt.Errorf("getting extraction for deletion: %w", err)
	}

	if err := s.storage.Delete(extraction.Filename); err != nil {
		// the record is still removed
		slog.Warn("Failed to delete file", "filename", extraction.Filename, "error", err)
	}

	if err := s.db.DeleteExtraction(id); err != nil {
		return fmt.Errorf("deleting extraction from database: %w", err)
	}
	return nil
}

// GetExtractionFile retrieves the source document of an extraction
func (s *Service) GetExtractionFile(id string) ([]byte, string, error) {
	extraction, err := s.db.GetExtraction(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting extraction: %w", err)
	}

	data, err := s.storage.Get(extraction.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting extraction file: %w", err)
	}

	return data, extraction.ContentType, nil
}
