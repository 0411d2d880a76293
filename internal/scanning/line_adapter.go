package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reTotalLine    = regexp.MustCompile(`(?i)\b(grand\s*total|total\s*due|amount\s*due|balance\s*due|total|summe|gesamt|montant\s*total)\b`)
	reSubtotalLine = regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|zwischensumme|netto)\b`)
	reTaxLine      = regexp.MustCompile(`(?i)\b(vat|tax|gst|hst|mwst|ust|tva|iva)\b[^%\d]*(\d{1,2}(?:[.,]\d{1,2})?)\s*%`)
	reAmountToken  = regexp.MustCompile(`-?\d{1,3}(?:[.,]\d{3})*[.,]\d{2}\b|-?\d+[.,]\d{2}\b`)
	reRegistration = regexp.MustCompile(`\b(?i:vat\s*(?:reg(?:istration)?\.?\s*)?(?:no|number|id|#)?|tax\s*id|tin|ein|abn|gst\s*(?:no|number|#)?|ust-?id(?:nr)?\.?|st\.?-?nr\.?|siret|nif|cif)\s*[:.#]?\s*([A-Z]{0,3}[0-9][0-9A-Z\-/]{4,}[0-9A-Z])`)
	reCurrency     = regexp.MustCompile(`(?i)\b(usd|eur|gbp|cad|aud|chf|jpy|inr)\b|[$€£¥]`)
	reDateToken    = regexp.MustCompile(`\b(\d{4}[-/]\d{2}[-/]\d{2}|\d{1,2}[./]\d{1,2}[./]\d{4}|\d{2}-\d{2}-\d{4}|(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.? \d{1,2},? \d{4}|\d{1,2} (?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]* \d{4})\b`)
)

var currencySymbols = map[string]string{"$": "USD", "€": "EUR", "£": "GBP", "¥": "JPY"}

// LineAdapter adapts an OCR engine that answers with text lines. Field
// values are pattern-matched out of the lines; a field's confidence is the
// confidence of the line it came from, lowered when the text looks garbled.
type LineAdapter struct {
	invoker LineInvoker
	logger  *slog.Logger
}

// NewLineAdapter wraps an OCR invoker.
func NewLineAdapter(invoker LineInvoker, logger *slog.Logger) *LineAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LineAdapter{invoker: invoker, logger: logger}
}

// Name returns the engine name.
func (a *LineAdapter) Name() string { return a.invoker.Name() }

// Extract runs OCR and reads the canonical fields out of the lines.
func (a *LineAdapter) Extract(ctx context.Context, req Request) (*Result, error) {
	if err := checkInput(req); err != nil {
		return nil, err
	}
	start := time.Now()
	engine := a.invoker.Name()

	lines, err := a.invoker.InvokeLines(ctx, req.Data, req.MediaType)
	if err != nil {
		a.logger.Warn("scan.ocr.failed", "req_id", req.ID, "engine", engine, "error", err)
		return nil, remoteError(engine, 0, err)
	}

	res := fieldsFromLines(lines)
	res.Trace = &Trace{Engine: engine, Kind: KindLines, Raw: joinLines(lines), Attempts: 1}
	a.logger.Info("scan.ocr.ok", "req_id", req.ID, "engine", engine, "lines", len(lines),
		"confidence", res.Confidence, "elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}

func fieldsFromLines(lines []Line) *Result {
	f := defaultFields()
	fc := FieldConfidence{}
	var warnings []string

	setConf := func(field string, l Line) {
		if l.Confidence >= 0 {
			fc.Set(field, l.Confidence)
		}
	}

	// issuer: first line that reads like words and not like an amount or date
	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		if text == "" || reDateToken.MatchString(text) || reAmountToken.MatchString(text) {
			continue
		}
		f.IssuerName = text
		setConf(FieldIssuerName, l)
		if LooksGarbled(text) {
			fc.Cap(FieldIssuerName, GarbledConfidence)
			warnings = append(warnings, fmt.Sprintf("issuer name looks garbled: %q", text))
		}
		break
	}

	for _, l := range lines {
		m := reDateToken.FindString(l.Text)
		if m == "" {
			continue
		}
		d, ok := normalizeDate(m)
		if !ok {
			// "Mar. 5, 2024"
			d, ok = normalizeDate(strings.Replace(m, ". ", " ", 1))
		}
		if !ok {
			continue
		}
		f.Date = d
		setConf(FieldDate, l)
		break
	}

	// totals: the last matching line wins, receipts repeat the total near the
	// payment block
	for _, l := range lines {
		switch {
		case reSubtotalLine.MatchString(l.Text):
			if m, ok := lastAmount(l.Text); ok {
				f.Subtotal = m
				setConf(FieldSubtotal, l)
			}
		case reTotalLine.MatchString(l.Text) && !reTaxLine.MatchString(l.Text):
			if m, ok := lastAmount(l.Text); ok {
				f.TotalAmount = m
				setConf(FieldTotalAmount, l)
			}
		}
	}

	var taxConf []float64
	for _, l := range lines {
		idx := reTaxLine.FindStringSubmatchIndex(l.Text)
		if idx == nil {
			continue
		}
		amount, ok := lastAmount(l.Text[idx[1]:])
		if !ok {
			continue
		}
		rate, _ := strconv.ParseFloat(strings.Replace(l.Text[idx[4]:idx[5]], ",", ".", 1), 64)
		f.TaxBreakdown = append(f.TaxBreakdown, TaxLine{Rate: rate, Amount: amount})
		if l.Confidence >= 0 {
			taxConf = append(taxConf, l.Confidence)
		}
	}
	if len(taxConf) > 0 {
		fc.Set(FieldTaxBreakdown, minFloat(taxConf))
	}

	for _, l := range lines {
		sm := reRegistration.FindStringSubmatch(l.Text)
		if sm == nil {
			continue
		}
		f.RegistrationNumber = strings.TrimSpace(sm[1])
		setConf(FieldRegistrationNumber, l)
		break
	}

	for _, l := range lines {
		m := reCurrency.FindString(l.Text)
		if m == "" {
			continue
		}
		if code, ok := currencySymbols[m]; ok {
			f.Currency = code
		} else {
			f.Currency = strings.ToUpper(m)
		}
		break
	}

	if f.TotalAmount == nil {
		warnings = append(warnings, "no total line recognized")
	}
	return &Result{
		Fields:          f,
		FieldConfidence: fc,
		Confidence:      OverallConfidence(fc),
		Warnings:        warnings,
	}
}

func lastAmount(s string) (*Money, bool) {
	matches := reAmountToken.FindAllString(s, -1)
	if len(matches) == 0 {
		return nil, false
	}
	return moneyValue(matches[len(matches)-1])
}

func minFloat(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func joinLines(lines []Line) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.Text)
	}
	return b.String()
}
