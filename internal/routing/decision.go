package routing

import (
	"fmt"
	"strings"
)

// Outcome is what happened at one tier.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Attempt records one tier considered for a request.
type Attempt struct {
	Tier    string  `json:"tier"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
	Cost    float64 `json:"cost"`
}

// Decision explains which tier produced a result and why. It is for
// observability only.
type Decision struct {
	// Tier produced the returned result. When no tier produced one it is the
	// last tier considered.
	Tier     string    `json:"tier"`
	Reason   string    `json:"reason"`
	Cost     float64   `json:"cost"`
	Accepted bool      `json:"accepted"`
	Attempts []Attempt `json:"attempts"`
}

func (d *Decision) record(a Attempt) {
	d.Attempts = append(d.Attempts, a)
	d.Cost += a.Cost
}

// Produced reports whether any tier returned a result, accepted or not.
// When it is false the result that came with the decision is the empty
// default.
func (d Decision) Produced() bool {
	for _, a := range d.Attempts {
		if a.Outcome == OutcomeAccepted || a.Outcome == OutcomeRejected {
			return true
		}
	}
	return false
}

// escalations returns the reasons of every attempt that did not accept.
func (d *Decision) escalations() []string {
	var reasons []string
	for _, a := range d.Attempts {
		if a.Outcome != OutcomeAccepted {
			reasons = append(reasons, a.Reason)
		}
	}
	return reasons
}

func acceptedReason(tier string, prior []string) string {
	if len(prior) == 0 {
		return "accepted at " + tier
	}
	return fmt.Sprintf("accepted at %s after: %s", tier, strings.Join(prior, "; "))
}

func exhaustedReason(last string) string {
	return "all tiers exhausted: " + last
}

func belowThresholdReason(tier string, got, threshold float64) string {
	return fmt.Sprintf("confidence below threshold at %s (%.2f < %.2f)", tier, got, threshold)
}

func missingFieldReason(tier, field string) string {
	return fmt.Sprintf("missing must-have field %s at %s", field, tier)
}

func garbledIssuerReason(tier string) string {
	return "garbled issuer name at " + tier
}

func unavailableReason(tier string) string {
	return tier + " unavailable, skipped"
}

func unsupportedReason(tier string) string {
	return "unsupported input at " + tier
}

func failedReason(tier string, err error) string {
	return fmt.Sprintf("%s failed: %v", tier, err)
}
