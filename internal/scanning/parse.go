package scanning

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order when normalizing a date to YYYY-MM-DD.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02.01.2006",
	"2.1.2006",
	"01-02-2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
}

var reMoneyNoise = regexp.MustCompile(`[^\d.,\-]`)

// jsonText strips markdown fences and anything before the first JSON object.
func jsonText(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return strings.TrimSpace(text[startIdx:]), nil
}

// decodeDocument decodes the first JSON object in text. Trailing text after
// the object is ignored.
func decodeDocument(text string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("unmarshaling json: null document")
	}
	return doc, nil
}

// fieldsFromDocument maps a decoded engine document onto the canonical fields.
// Values that cannot be interpreted are dropped with a warning, never guessed.
func fieldsFromDocument(doc map[string]any) (Fields, FieldConfidence, []string) {
	f := defaultFields()
	var warnings []string

	f.IssuerName = stringValue(doc[FieldIssuerName])
	f.Currency = strings.ToUpper(stringValue(doc[FieldCurrency]))
	f.RegistrationNumber = stringValue(doc[FieldRegistrationNumber])
	if c := stringValue(doc[FieldCategory]); c != "" {
		f.Category = c
	}

	invalid := map[string]bool{}
	if raw := stringValue(doc[FieldDate]); raw != "" {
		if d, ok := normalizeDate(raw); ok {
			f.Date = d
		} else {
			invalid[FieldDate] = true
			warnings = append(warnings, fmt.Sprintf("unparseable date %q", raw))
		}
	}
	for _, mf := range []struct {
		name string
		dst  **Money
	}{
		{FieldTotalAmount, &f.TotalAmount},
		{FieldSubtotal, &f.Subtotal},
	} {
		v, present := doc[mf.name]
		if !present || v == nil {
			continue
		}
		if m, ok := moneyValue(v); ok {
			*mf.dst = m
		} else {
			invalid[mf.name] = true
			warnings = append(warnings, fmt.Sprintf("unparseable %s %v", mf.name, v))
		}
	}

	if lines, ok := doc[FieldTaxBreakdown].([]any); ok {
		for _, item := range lines {
			tl, ok := taxLineValue(item)
			if !ok {
				warnings = append(warnings, "dropped incomplete tax line")
				continue
			}
			f.TaxBreakdown = append(f.TaxBreakdown, tl)
		}
	}

	fc := confidenceValue(doc["confidence"], f)
	for name := range invalid {
		fc.Set(name, 0)
	}
	if LooksGarbled(f.IssuerName) {
		fc.Cap(FieldIssuerName, GarbledConfidence)
		warnings = append(warnings, fmt.Sprintf("issuer name looks garbled: %q", f.IssuerName))
	}
	return f, fc, warnings
}

// confidenceValue reads either a per-field confidence object or a single
// number. Either way confidence is only kept for fields that carry a value.
func confidenceValue(v any, f Fields) FieldConfidence {
	fc := FieldConfidence{}
	switch t := v.(type) {
	case map[string]any:
		for k, raw := range t {
			if !hasValue(f, k) {
				continue
			}
			if c, ok := floatValue(raw); ok {
				fc.Set(k, c)
			}
		}
	default:
		c, ok := floatValue(t)
		if !ok {
			return fc
		}
		for _, name := range presentFields(f) {
			fc.Set(name, c)
		}
	}
	return fc
}

func presentFields(f Fields) []string {
	var names []string
	if f.IssuerName != "" {
		names = append(names, FieldIssuerName)
	}
	if f.Date != "" {
		names = append(names, FieldDate)
	}
	if f.TotalAmount != nil {
		names = append(names, FieldTotalAmount)
	}
	if len(f.TaxBreakdown) > 0 {
		names = append(names, FieldTaxBreakdown)
	}
	if f.RegistrationNumber != "" {
		names = append(names, FieldRegistrationNumber)
	}
	return names
}

// hasValue reports whether the named field was filled from the document
func hasValue(f Fields, name string) bool {
	switch name {
	case FieldSubtotal:
		return f.Subtotal != nil
	case FieldCurrency:
		return f.Currency != ""
	case FieldCategory:
		return f.Category != DefaultCategory
	}
	for _, present := range presentFields(f) {
		if present == name {
			return true
		}
	}
	return false
}

func taxLineValue(v any) (TaxLine, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return TaxLine{}, false
	}
	var tl TaxLine
	if r, ok := floatValue(m["rate"]); ok {
		tl.Rate = r
	}
	if b, ok := moneyValue(m["base"]); ok {
		tl.Base = b
	}
	if a, ok := moneyValue(m["amount"]); ok {
		tl.Amount = a
	}
	if tl.Amount == nil && tl.Base == nil {
		return TaxLine{}, false
	}
	return tl, true
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	}
	return ""
}

func floatValue(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil && !math.IsNaN(f)
	case float64:
		return t, !math.IsNaN(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%")), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}

// moneyValue accepts numbers in major units or strings such as "$1,234.50"
// and "12,50".
func moneyValue(v any) (*Money, bool) {
	var f float64
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		amount, ok := parseAmount(t)
		if !ok {
			return nil, false
		}
		f = amount
	default:
		amount, ok := floatValue(t)
		if !ok {
			return nil, false
		}
		f = amount
	}
	if math.IsInf(f, 0) {
		return nil, false
	}
	m := Money(math.Round(f * 100))
	return &m, true
}

// parseAmount reads an amount written with either '.' or ',' as the decimal
// separator.
func parseAmount(s string) (float64, bool) {
	s = reMoneyNoise.ReplaceAllString(strings.TrimSpace(s), "")
	if s == "" {
		return 0, false
	}
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastComma > lastDot && len(s)-lastComma-1 <= 2:
		// 1.234,56 or 12,50
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// normalizeDate converts a date in one of the known layouts to YYYY-MM-DD.
func normalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format("2006-01-02"), true
		}
	}
	return "", false
}

// ValidDate reports whether s is a YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
