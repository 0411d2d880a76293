package scanning

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// DefaultBudgetLadder is the ascending list of output token budgets tried
// when a structured engine's answer is cut off.
var DefaultBudgetLadder = []int{1024, 2048, 4096, 8192}

// truncationSignatures are parse-failure messages that mean the document
// ended before its structure did.
var truncationSignatures = []string{
	"unexpected end of json input",
	"unexpected end of input",
	"unexpected eof",
	"unterminated",
}

// IsTruncation reports whether a parse error means the input was cut off.
func IsTruncation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range truncationSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// JSONAdapter adapts an engine that answers with a JSON document.
type JSONAdapter struct {
	invoker StructuredInvoker
	ladder  []int
	logger  *slog.Logger
}

// NewJSONAdapter wraps invoker. A nil or empty ladder means a single call
// with the engine's default output budget.
func NewJSONAdapter(invoker StructuredInvoker, ladder []int, logger *slog.Logger) *JSONAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONAdapter{
		invoker: invoker,
		ladder:  append([]int(nil), ladder...),
		logger:  logger,
	}
}

// Name returns the engine name.
func (a *JSONAdapter) Name() string { return a.invoker.Name() }

// Extract invokes the engine, climbing the budget ladder while the answer is
// cut off, then salvages whatever is still broken.
func (a *JSONAdapter) Extract(ctx context.Context, req Request) (*Result, error) {
	if err := checkInput(req); err != nil {
		return nil, err
	}
	start := time.Now()
	engine := a.invoker.Name()

	budgets := a.ladder
	if len(budgets) == 0 {
		budgets = []int{0}
	}

	trace := &Trace{Engine: engine, Kind: KindStructured}
	var (
		raw      string
		parseErr error
	)
	for i, budget := range budgets {
		a.logger.Debug("scan.invoke.start", "req_id", req.ID, "engine", engine, "budget", budget, "attempt", i+1)

		out, err := a.invoker.Invoke(ctx, req.Data, req.MediaType, InvokeConfig{MaxOutputTokens: budget})
		trace.Attempts++
		trace.Budget = budget
		if err != nil {
			a.logger.Warn("scan.invoke.failed", "req_id", req.ID, "engine", engine, "budget", budget, "error", err,
				"elapsed_ms", time.Since(start).Milliseconds())
			return nil, remoteError(engine, 0, err)
		}
		raw = out
		trace.Raw = raw

		res, err := a.parse(raw, trace)
		if err == nil {
			a.logger.Info("scan.invoke.ok", "req_id", req.ID, "engine", engine, "budget", budget,
				"confidence", res.Confidence, "elapsed_ms", time.Since(start).Milliseconds())
			return res, nil
		}
		parseErr = err
		if !IsTruncation(err) {
			break
		}
		if i < len(budgets)-1 {
			a.logger.Warn("scan.invoke.truncated", "req_id", req.ID, "engine", engine, "budget", budget,
				"next_budget", budgets[i+1], "error", err)
		}
	}

	text, err := jsonText(raw)
	if err != nil {
		return nil, &MalformedOutputError{Engine: engine, Raw: raw, Err: err}
	}
	repaired, changed := Salvage(text)
	if !changed {
		return nil, &MalformedOutputError{Engine: engine, Raw: raw, Err: parseErr}
	}
	trace.Salvaged = true
	res, err := a.parse(repaired, trace)
	if err != nil {
		a.logger.Error("scan.salvage.failed", "req_id", req.ID, "engine", engine, "error", err)
		return nil, &MalformedOutputError{Engine: engine, Raw: raw, Err: errors.Join(parseErr, err)}
	}
	res.Warnings = append(res.Warnings, "output was incomplete; recovered the well-formed prefix")
	a.logger.Warn("scan.salvage.applied", "req_id", req.ID, "engine", engine,
		"confidence", res.Confidence, "elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}

func (a *JSONAdapter) parse(raw string, trace *Trace) (*Result, error) {
	text, err := jsonText(raw)
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument(text)
	if err != nil {
		return nil, err
	}

	fields, fc, warnings := fieldsFromDocument(doc)
	if v := validateDocument(text); v != "" {
		warnings = append(warnings, "schema: "+v)
	}
	t := *trace
	return &Result{
		Fields:          fields,
		FieldConfidence: fc,
		Confidence:      OverallConfidence(fc),
		Warnings:        warnings,
		Trace:           &t,
	}, nil
}
