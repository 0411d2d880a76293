// Package routing picks the cheapest extraction tier whose result can be
// trusted, escalating to costlier tiers when it cannot.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/receipt-router/internal/scanning"
)

var (
	// ErrAllTiersRejected is returned in strict mode when no tier produced an
	// acceptable result.
	ErrAllTiersRejected = errors.New("all tiers rejected")
	// ErrInvalidConfig is returned by New for an unusable configuration.
	ErrInvalidConfig = errors.New("invalid routing config")

	errNoResult = errors.New("adapter returned no result")
)

// DefaultAcceptThreshold is the overall confidence a result needs to be
// accepted without escalation.
const DefaultAcceptThreshold = 0.85

// DefaultMustHave are the fields whose absence rejects a result outright.
var DefaultMustHave = []string{scanning.FieldDate, scanning.FieldTotalAmount, scanning.FieldIssuerName}

// ExhaustionPolicy decides what Extract returns when no tier accepts.
type ExhaustionPolicy int

const (
	// ReturnLast returns the last produced result without an error so a
	// reviewer can still see partial data.
	ReturnLast ExhaustionPolicy = iota
	// Strict returns the same result together with ErrAllTiersRejected.
	Strict
)

// ParseExhaustionPolicy reads "return-last" or "strict".
func ParseExhaustionPolicy(s string) (ExhaustionPolicy, error) {
	switch s {
	case "", "return-last":
		return ReturnLast, nil
	case "strict":
		return Strict, nil
	}
	return ReturnLast, fmt.Errorf("%w: unknown exhaustion policy %q", ErrInvalidConfig, s)
}

func (p ExhaustionPolicy) String() string {
	if p == Strict {
		return "strict"
	}
	return "return-last"
}

// Tier is one configured extraction capability. Cost is an estimate used
// for reporting only.
type Tier struct {
	Name    string
	Cost    float64
	Quality string
	Adapter scanning.Adapter
}

// Config is the complete routing policy. Tiers are tried in order.
type Config struct {
	Tiers           []Tier
	AcceptThreshold float64
	MustHave        []string
	Exhaustion      ExhaustionPolicy
	// ForceTier restricts routing to the named tier.
	ForceTier string
}

// TierInfo describes a configured tier.
type TierInfo struct {
	Name    string  `json:"name"`
	Engine  string  `json:"engine"`
	Cost    float64 `json:"cost"`
	Quality string  `json:"quality"`
}

// Router runs the try-cheap, verify, escalate policy.
type Router struct {
	tiers      []Tier
	threshold  float64
	mustHave   []string
	exhaustion ExhaustionPolicy
	logger     *slog.Logger
}

var knownFields = map[string]bool{
	scanning.FieldIssuerName:         true,
	scanning.FieldDate:               true,
	scanning.FieldSubtotal:           true,
	scanning.FieldTotalAmount:        true,
	scanning.FieldCurrency:           true,
	scanning.FieldTaxBreakdown:       true,
	scanning.FieldRegistrationNumber: true,
	scanning.FieldCategory:           true,
}

// New validates cfg and builds a Router. A zero threshold and a nil MustHave
// take the defaults.
func New(cfg Config, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers configured", ErrInvalidConfig)
	}

	seen := map[string]bool{}
	for _, t := range cfg.Tiers {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: tier without a name", ErrInvalidConfig)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("%w: duplicate tier %q", ErrInvalidConfig, t.Name)
		}
		if t.Adapter == nil {
			return nil, fmt.Errorf("%w: tier %q has no adapter", ErrInvalidConfig, t.Name)
		}
		seen[t.Name] = true
	}

	threshold := cfg.AcceptThreshold
	if threshold == 0 {
		threshold = DefaultAcceptThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: accept threshold %v outside (0,1]", ErrInvalidConfig, threshold)
	}

	mustHave := cfg.MustHave
	if mustHave == nil {
		mustHave = DefaultMustHave
	}
	for _, f := range mustHave {
		if !knownFields[f] {
			return nil, fmt.Errorf("%w: unknown must-have field %q", ErrInvalidConfig, f)
		}
	}

	tiers := append([]Tier(nil), cfg.Tiers...)
	if cfg.ForceTier != "" {
		if !seen[cfg.ForceTier] {
			return nil, fmt.Errorf("%w: forced tier %q is not configured", ErrInvalidConfig, cfg.ForceTier)
		}
		for _, t := range cfg.Tiers {
			if t.Name == cfg.ForceTier {
				tiers = []Tier{t}
			}
		}
	}

	return &Router{
		tiers:      tiers,
		threshold:  threshold,
		mustHave:   append([]string(nil), mustHave...),
		exhaustion: cfg.Exhaustion,
		logger:     logger,
	}, nil
}

// Tiers lists the tiers the router will try, in order.
func (r *Router) Tiers() []TierInfo {
	infos := make([]TierInfo, 0, len(r.tiers))
	for _, t := range r.tiers {
		infos = append(infos, TierInfo{Name: t.Name, Engine: t.Adapter.Name(), Cost: t.Cost, Quality: t.Quality})
	}
	return infos
}

// Extract routes one request through the tiers. It returns an error only
// for an empty document, a cancelled context, or exhaustion in strict mode;
// every other tier failure becomes an escalation. The returned result is
// never nil unless the document was empty.
func (r *Router) Extract(ctx context.Context, req scanning.Request) (*scanning.Result, Decision, error) {
	if len(req.Data) == 0 {
		return nil, Decision{}, fmt.Errorf("%w: empty document", scanning.ErrUnsupportedInput)
	}

	start := time.Now()
	var (
		decision   Decision
		last       *scanning.Result
		lastReason string
	)
	for _, tier := range r.tiers {
		if err := ctx.Err(); err != nil {
			return r.fallback(last), decision, err
		}

		tierStart := time.Now()
		res, err := tier.Adapter.Extract(ctx, req)
		elapsed := time.Since(tierStart).Milliseconds()
		if err == nil && res == nil {
			err = errNoResult
		}

		if err != nil {
			if errors.Is(err, scanning.ErrUnavailable) {
				lastReason = unavailableReason(tier.Name)
				decision.record(Attempt{Tier: tier.Name, Outcome: OutcomeSkipped, Reason: lastReason})
				r.logger.Info("route.tier.skipped", "req_id", req.ID, "tier", tier.Name, "error", err)
			} else {
				if errors.Is(err, scanning.ErrUnsupportedInput) {
					lastReason = unsupportedReason(tier.Name)
				} else {
					lastReason = failedReason(tier.Name, err)
				}
				decision.record(Attempt{Tier: tier.Name, Outcome: OutcomeFailed, Reason: lastReason, Cost: tier.Cost})
				r.logger.Warn("route.tier.failed", "req_id", req.ID, "tier", tier.Name, "error", err, "elapsed_ms", elapsed)
			}
			if last == nil {
				decision.Tier = tier.Name
			}
			continue
		}

		if reason := r.evaluate(tier.Name, res); reason != "" {
			lastReason = reason
			last = res
			decision.Tier = tier.Name
			decision.record(Attempt{Tier: tier.Name, Outcome: OutcomeRejected, Reason: reason, Cost: tier.Cost})
			r.logger.Info("route.tier.rejected", "req_id", req.ID, "tier", tier.Name, "reason", reason,
				"confidence", res.Confidence, "elapsed_ms", elapsed)
			continue
		}

		prior := decision.escalations()
		decision.record(Attempt{Tier: tier.Name, Outcome: OutcomeAccepted, Reason: "accepted", Cost: tier.Cost})
		decision.Tier = tier.Name
		decision.Accepted = true
		decision.Reason = acceptedReason(tier.Name, prior)
		r.logger.Info("route.accepted", "req_id", req.ID, "tier", tier.Name, "confidence", res.Confidence,
			"cost", decision.Cost, "attempts", len(decision.Attempts), "elapsed_ms", time.Since(start).Milliseconds())
		return res, decision, nil
	}

	decision.Reason = exhaustedReason(lastReason)
	r.logger.Warn("route.exhausted", "req_id", req.ID, "tier", decision.Tier, "reason", lastReason,
		"cost", decision.Cost, "elapsed_ms", time.Since(start).Milliseconds())

	res := r.fallback(last)
	if r.exhaustion == Strict {
		return res, decision, fmt.Errorf("%w: %s", ErrAllTiersRejected, lastReason)
	}
	return res, decision, nil
}

func (r *Router) fallback(last *scanning.Result) *scanning.Result {
	if last != nil {
		return last
	}
	return scanning.EmptyResult()
}

// evaluate applies the acceptance checks in order and returns the first
// failing reason, or "" when the result is acceptable.
func (r *Router) evaluate(tier string, res *scanning.Result) string {
	if res.Confidence < r.threshold {
		return belowThresholdReason(tier, res.Confidence, r.threshold)
	}
	for _, f := range r.mustHave {
		if !hasField(res.Fields, f) {
			return missingFieldReason(tier, f)
		}
	}
	if scanning.LooksGarbled(res.Fields.IssuerName) {
		return garbledIssuerReason(tier)
	}
	return ""
}

// hasField reports whether a field carries a usable value. Dates must be
// real calendar dates.
func hasField(f scanning.Fields, name string) bool {
	switch name {
	case scanning.FieldIssuerName:
		return f.IssuerName != ""
	case scanning.FieldDate:
		return scanning.ValidDate(f.Date)
	case scanning.FieldSubtotal:
		return f.Subtotal != nil
	case scanning.FieldTotalAmount:
		return f.TotalAmount != nil
	case scanning.FieldCurrency:
		return f.Currency != ""
	case scanning.FieldTaxBreakdown:
		return len(f.TaxBreakdown) > 0
	case scanning.FieldRegistrationNumber:
		return f.RegistrationNumber != ""
	case scanning.FieldCategory:
		return f.Category != "" && f.Category != scanning.DefaultCategory
	}
	return false
}
