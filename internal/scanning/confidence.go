package scanning

import "math"

// FieldConfidence maps canonical field names to a confidence in [0,1].
// Fields an engine cannot estimate are absent rather than zero.
type FieldConfidence map[string]float64

// fieldWeights is iterated in order so the float sum is reproducible.
var fieldWeights = []struct {
	field  string
	weight float64
}{
	{FieldTotalAmount, 0.30},
	{FieldIssuerName, 0.25},
	{FieldDate, 0.20},
	{FieldTaxBreakdown, 0.10},
	{FieldRegistrationNumber, 0.10},
	{FieldCategory, 0.05},
}

// OverallConfidence is the weighted mean of the weighted fields present in fc.
// Out-of-range values are clamped and NaN entries are ignored. An empty map
// yields 0.
func OverallConfidence(fc FieldConfidence) float64 {
	var sum, weights float64
	for _, fw := range fieldWeights {
		c, ok := fc[fw.field]
		if !ok || math.IsNaN(c) {
			continue
		}
		sum += fw.weight * clamp01(c)
		weights += fw.weight
	}
	if weights == 0 {
		return 0
	}
	return clamp01(sum / weights)
}

// Set records c for field, clamped to [0,1]. NaN is ignored.
func (fc FieldConfidence) Set(field string, c float64) {
	if math.IsNaN(c) {
		return
	}
	fc[field] = clamp01(c)
}

// Cap lowers the confidence of field to at most c. A missing entry is set to c,
// since the caller has just estimated it.
func (fc FieldConfidence) Cap(field string, c float64) {
	if cur, ok := fc[field]; ok && cur <= c {
		return
	}
	fc[field] = clamp01(c)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
