package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/receipt-router/internal/routing"
	"github.com/zombor/receipt-router/internal/scanning"
)

type tierSettings struct {
	ladder []int

	tesseractBin  string
	tesseractLang string
	tesseractCost float64

	ollamaURL   string
	ollamaModel string
	ollamaCost  float64

	geminiKey   string
	geminiModel string
	geminiCost  float64

	claudeKey   string
	claudeModel string
	claudeCost  float64
}

// buildTiers constructs the named tiers in order. Engines that cannot be
// configured (missing credentials) are left out with a warning. The returned
// func closes every engine client that holds resources.
func buildTiers(names []string, s tierSettings, logger *slog.Logger) ([]routing.Tier, func(), error) {
	var (
		tiers   []routing.Tier
		closers []io.Closer
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("Failed to close engine", "error", err)
			}
		}
	}

	for _, name := range names {
		switch name {
		case "tesseract":
			ocr := scanning.NewTesseract(scanning.TesseractConfig{Binary: s.tesseractBin, Lang: s.tesseractLang}, logger)
			tiers = append(tiers, routing.Tier{
				Name:    name,
				Cost:    s.tesseractCost,
				Quality: "low",
				Adapter: scanning.NewLineAdapter(ocr, logger),
			})
		case "ollama":
			ollama := scanning.NewOllama(s.ollamaURL, s.ollamaModel)
			closers = append(closers, ollama)
			tiers = append(tiers, routing.Tier{
				Name:    name,
				Cost:    s.ollamaCost,
				Quality: "medium",
				Adapter: scanning.NewJSONAdapter(ollama, s.ladder, logger),
			})
		case "gemini":
			gemini, err := scanning.NewGemini(s.geminiKey, s.geminiModel)
			if errors.Is(err, scanning.ErrUnavailable) {
				logger.Warn("Skipping tier", "tier", name, "error", err)
				continue
			}
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("initializing gemini: %w", err)
			}
			closers = append(closers, gemini)
			tiers = append(tiers, routing.Tier{
				Name:    name,
				Cost:    s.geminiCost,
				Quality: "high",
				Adapter: scanning.NewJSONAdapter(gemini, s.ladder, logger),
			})
		case "claude":
			claude, err := scanning.NewClaude(s.claudeKey, s.claudeModel)
			if errors.Is(err, scanning.ErrUnavailable) {
				logger.Warn("Skipping tier", "tier", name, "error", err)
				continue
			}
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("initializing claude: %w", err)
			}
			tiers = append(tiers, routing.Tier{
				Name:    name,
				Cost:    s.claudeCost,
				Quality: "premium",
				Adapter: scanning.NewJSONAdapter(claude, s.ladder, logger),
			})
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown tier %q (valid: tesseract, ollama, gemini, claude)", name)
		}
	}
	return tiers, closeAll, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseLadder reads an ascending list of positive token budgets
func parseLadder(s string) ([]int, error) {
	var ladder []int
	for _, part := range splitList(s) {
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("budget %q is not a positive integer", part)
		}
		if len(ladder) > 0 && n <= ladder[len(ladder)-1] {
			return nil, fmt.Errorf("budgets must ascend: %d after %d", n, ladder[len(ladder)-1])
		}
		ladder = append(ladder, n)
	}
	if len(ladder) == 0 {
		return nil, errors.New("at least one budget is required")
	}
	return ladder, nil
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func contentTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}
