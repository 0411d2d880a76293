package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Runner lets tests stub the external OCR binary.
type Runner interface {
	Run(ctx context.Context, name string, logger *slog.Logger, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, logger *slog.Logger, args ...string) ([]byte, []byte, error) {
	start := time.Now()
	logger.Debug("running command", "cmd_line", strings.Join(append([]string{name}, args...), " "))

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)
	if err != nil {
		logger.Error("exec failed",
			"cmd", name,
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	} else {
		logger.Debug("exec ok",
			"cmd", name,
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len(),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// Tesseract runs the tesseract CLI in TSV mode and groups recognized words
// into lines.
type Tesseract struct {
	binary string
	lang   string
	runner Runner
	logger *slog.Logger
}

// TesseractConfig configures the OCR binary.
type TesseractConfig struct {
	Binary string // default "tesseract"
	Lang   string // default "eng"
}

// NewTesseract creates a Tesseract invoker backed by os/exec.
func NewTesseract(cfg TesseractConfig, logger *slog.Logger) *Tesseract {
	return NewTesseractWithRunner(cfg, execRunner{}, logger)
}

// NewTesseractWithRunner creates a Tesseract invoker with a custom runner
// (for testing).
func NewTesseractWithRunner(cfg TesseractConfig, r Runner, logger *slog.Logger) *Tesseract {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tesseract{binary: cfg.Binary, lang: cfg.Lang, runner: r, logger: logger}
}

// Name returns "tesseract".
func (t *Tesseract) Name() string { return "tesseract" }

// InvokeLines renders the document to PNG, runs OCR on it and returns the
// recognized lines in reading order.
func (t *Tesseract) InvokeLines(ctx context.Context, data []byte, mediaType string) ([]Line, error) {
	img, err := PrepareImage(data, mediaType)
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "receipt-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	in := filepath.Join(tmpDir, "page.png")
	if err := os.WriteFile(in, img, 0o600); err != nil {
		return nil, fmt.Errorf("writing temp image: %w", err)
	}

	out, errb, err := t.runner.Run(ctx, t.binary, t.logger, in, "stdout", "-l", t.lang, "--psm", "4", "tsv")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s not installed", ErrUnavailable, t.binary)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RemoteError{Engine: t.Name(), Err: fmt.Errorf("%w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))}
	}
	return parseTSV(out)
}

type lineKey struct{ block, par, line int }

type tsvLine struct {
	key   lineKey
	order int
	words []string
	confs []float64
}

// parseTSV groups tesseract TSV word rows (level 5) by block, paragraph and
// line. A line's confidence is the mean of its word confidences.
func parseTSV(out []byte) ([]Line, error) {
	rows := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(rows) == 0 || !strings.HasPrefix(rows[0], "level") {
		return nil, &RemoteError{Engine: "tesseract", Err: errors.New("missing TSV header")}
	}

	byKey := map[lineKey]*tsvLine{}
	for _, row := range rows[1:] {
		cols := strings.Split(row, "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		block, _ := strconv.Atoi(cols[2])
		par, _ := strconv.Atoi(cols[3])
		ln, _ := strconv.Atoi(cols[4])
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil {
			conf = -1
		}

		k := lineKey{block, par, ln}
		l, ok := byKey[k]
		if !ok {
			l = &tsvLine{key: k, order: len(byKey)}
			byKey[k] = l
		}
		l.words = append(l.words, text)
		if conf >= 0 {
			l.confs = append(l.confs, conf/100)
		}
	}

	grouped := make([]*tsvLine, 0, len(byKey))
	for _, l := range byKey {
		grouped = append(grouped, l)
	}
	sort.Slice(grouped, func(i, j int) bool { return grouped[i].order < grouped[j].order })

	lines := make([]Line, 0, len(grouped))
	for _, l := range grouped {
		conf := -1.0
		if len(l.confs) > 0 {
			var sum float64
			for _, c := range l.confs {
				sum += c
			}
			conf = sum / float64(len(l.confs))
		}
		lines = append(lines, Line{Text: strings.Join(l.words, " "), Confidence: conf})
	}
	return lines, nil
}
