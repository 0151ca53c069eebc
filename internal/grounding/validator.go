// Package grounding gates what the assistant is allowed to say: a fixed
// battery of trap checks inspects every draft answer against the retrieved
// citations and decides whether to allow, soften, or refuse it.
//
// The validator is a local, synchronous, single-pass classifier. It holds no
// state between turns, so the same (query, citations, draft) triple always
// produces the same result.
package grounding

import (
	"log/slog"

	"github.com/kjellm/anchor/internal/retrieval"
)

// Verdict is the validator's decision for a draft answer.
type Verdict string

const (
	// VerdictAllow passes the draft through unchanged.
	VerdictAllow Verdict = "ALLOW"

	// VerdictSoften passes the draft with an explicit uncertainty hedge.
	VerdictSoften Verdict = "SOFTEN"

	// VerdictRefuse replaces the draft with an honest refusal.
	VerdictRefuse Verdict = "REFUSE"
)

// Confidence thresholds. A hard violation forces REFUSE regardless of the
// numeric score; below allowThreshold without a hard violation the answer is
// softened rather than suppressed.
const allowThreshold = 0.6

// softPenalty is subtracted from the confidence per triggered soft rule.
const softPenalty = 0.2

// Result is the outcome of grounding analysis on one draft answer.
type Result struct {
	Verdict    Verdict  `json:"verdict"`
	Confidence float64  `json:"confidence"` // in [0,1]
	Triggered  []string `json:"triggered,omitempty"`
}

// Validator runs the trap battery and derives a verdict.
type Validator struct {
	rules  []Rule
	logger *slog.Logger
}

// NewValidator creates a validator with the given rules; nil rules means
// DefaultRules().
func NewValidator(rules []Rule, logger *slog.Logger) *Validator {
	if rules == nil {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{rules: rules, logger: logger}
}

// Validate inspects a draft answer against the retrieved citations.
//
// The confidence score is monotone in the citation set: removing citations
// can only lower it (and can only add rule violations), so the verdict never
// becomes more permissive as evidence shrinks.
func (v *Validator) Validate(query, draft string, citations []retrieval.Citation) Result {
	in := Input{Query: query, Draft: draft, Citations: citations}

	var triggered []string
	hard := false
	softCount := 0
	for _, rule := range v.rules {
		if rule.Evaluate(in) {
			triggered = append(triggered, rule.ID)
			if rule.Hard {
				hard = true
			} else {
				softCount++
			}
		}
	}

	confidence := baseConfidence(citations) - softPenalty*float64(softCount)
	if confidence < 0 {
		confidence = 0
	}

	result := Result{Confidence: confidence, Triggered: triggered}
	switch {
	case hard:
		result.Verdict = VerdictRefuse
	case confidence >= allowThreshold:
		result.Verdict = VerdictAllow
	default:
		result.Verdict = VerdictSoften
	}

	v.logger.Debug("grounding verdict",
		"verdict", result.Verdict,
		"confidence", result.Confidence,
		"citations", len(citations),
		"triggered", triggered)
	return result
}

// baseConfidence derives a score from the citation evidence. Both terms are
// monotone non-decreasing in the citation set: the best single score and a
// saturating total of all scores. An empty citation list scores zero.
func baseConfidence(citations []retrieval.Citation) float64 {
	if len(citations) == 0 {
		return 0
	}
	var maxScore, sum float64
	for _, c := range citations {
		if c.Score > maxScore {
			maxScore = c.Score
		}
		sum += c.Score
	}
	saturated := sum / 2
	if saturated > 1 {
		saturated = 1
	}
	return 0.7*maxScore + 0.3*saturated
}
