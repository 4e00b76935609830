// Package evaluator grades a terminal workflow state. Evaluation is a pure
// function of the projected state: same state in, same evaluation out, and
// it never fails.
package evaluator

import (
	"fmt"
	"math"

	"github.com/jcflow/jc/internal/workflow"
)

// Default efficiency thresholds. A feature at or under the threshold scores
// a full 1.0; at four times the threshold or beyond it scores 0.
const (
	DefaultCostThresholdUSD = 0.5
	DefaultTimeThresholdMS  = 120_000
)

// Metric weights. They sum to 1.
const (
	weightCompletion   = 0.30
	weightTestPass     = 0.20
	weightNoFailures   = 0.15
	weightIteration    = 0.10
	weightCost         = 0.10
	weightTime         = 0.10
	weightVerification = 0.05
)

// Grade is the letter grade derived from the quality score.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// Metrics are the individual score components, each in [0, 1].
type Metrics struct {
	CompletionRate      float64 `json:"completion_rate"`
	TestPassRate        float64 `json:"test_pass_rate"`
	IterationEfficiency float64 `json:"iteration_efficiency"`
	CostEfficiency      float64 `json:"cost_efficiency"`
	TimeEfficiency      float64 `json:"time_efficiency"`
	VerificationRate    float64 `json:"verification_rate"`
	NoFailures          float64 `json:"no_failures"`
}

// Evaluation is the graded result for one workflow.
type Evaluation struct {
	WorkflowID      string   `json:"workflow_id"`
	QualityScore    float64  `json:"quality_score"`
	Grade           Grade    `json:"grade"`
	Metrics         Metrics  `json:"metrics"`
	Recommendations []string `json:"recommendations"`
}

// Thresholds tune the cost and time efficiency curves.
type Thresholds struct {
	CostUSD float64
	TimeMS  float64
}

// DefaultThresholds returns the standard thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{CostUSD: DefaultCostThresholdUSD, TimeMS: DefaultTimeThresholdMS}
}

// Evaluate grades a workflow state with the default thresholds.
func Evaluate(s *workflow.State) Evaluation {
	return EvaluateWith(s, DefaultThresholds())
}

// EvaluateWith grades a workflow state with explicit thresholds.
func EvaluateWith(s *workflow.State, th Thresholds) Evaluation {
	if th.CostUSD <= 0 {
		th.CostUSD = DefaultCostThresholdUSD
	}
	if th.TimeMS <= 0 {
		th.TimeMS = DefaultTimeThresholdMS
	}

	total := len(s.Features)
	completed := s.CompletedCount()
	failed := s.FailedCount()

	passing := 0
	for _, f := range s.Features {
		if f.Status == workflow.FeatureCompleted && f.TestsPassing {
			passing++
		}
	}

	m := Metrics{
		CompletionRate:      ratio(completed, total),
		TestPassRate:        ratio(passing, completed),
		IterationEfficiency: iterationEfficiency(completed, s.IterationCount),
		CostEfficiency:      efficiency(perFeature(s.TotalCostUSD, completed), th.CostUSD),
		TimeEfficiency:      efficiency(perFeature(float64(s.TotalDurationMS), completed), th.TimeMS),
		VerificationRate:    verificationRate(s),
		NoFailures:          boolMetric(failed == 0),
	}

	score := weightCompletion*m.CompletionRate +
		weightTestPass*m.TestPassRate +
		weightNoFailures*m.NoFailures +
		weightIteration*m.IterationEfficiency +
		weightCost*m.CostEfficiency +
		weightTime*m.TimeEfficiency +
		weightVerification*m.VerificationRate
	score = math.Round(score*10000) / 10000

	return Evaluation{
		WorkflowID:      s.WorkflowID,
		QualityScore:    score,
		Grade:           gradeFor(score),
		Metrics:         m,
		Recommendations: recommendations(s, m, total, completed, failed),
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return clamp(float64(num) / float64(den))
}

func iterationEfficiency(completed, iterations int) float64 {
	if completed == 0 || iterations == 0 {
		return 0
	}
	return clamp(float64(completed) / float64(iterations))
}

// perFeature spreads a workflow total across its completed features. With
// nothing completed the spend bought nothing, so the cost per feature is
// effectively infinite unless nothing was spent at all.
func perFeature(total float64, completed int) float64 {
	if completed == 0 {
		if total == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return total / float64(completed)
}

// efficiency maps a per-feature spend onto [0, 1]: full marks at or under
// the threshold, zero at four times the threshold, linear in between.
func efficiency(perFeature, threshold float64) float64 {
	if perFeature <= threshold {
		return 1
	}
	ceiling := 4 * threshold
	if perFeature >= ceiling {
		return 0
	}
	return clamp((ceiling - perFeature) / (3 * threshold))
}

func verificationRate(s *workflow.State) float64 {
	if s.VerificationCount == 0 || s.LastVerificationPassed {
		return 1
	}
	return 0
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func gradeFor(score float64) Grade {
	switch {
	case score >= 0.90:
		return GradeA
	case score >= 0.80:
		return GradeB
	case score >= 0.70:
		return GradeC
	case score >= 0.60:
		return GradeD
	default:
		return GradeF
	}
}

// recommendations derives deterministic follow-up advice from the metrics.
func recommendations(s *workflow.State, m Metrics, total, completed, failed int) []string {
	recs := []string{}
	if m.CompletionRate < 1.0 && total > 0 {
		recs = append(recs, fmt.Sprintf("resume to complete %d remaining features", total-completed))
	}
	if failed > 0 {
		recs = append(recs, fmt.Sprintf("investigate %d failed features", failed))
	}
	if m.TestPassRate < 1.0 && completed > 0 {
		recs = append(recs, "re-run verification for completed features without passing tests")
	}
	if m.IterationEfficiency < 0.5 && s.IterationCount > 0 {
		recs = append(recs, "high iteration count relative to completed features; consider smaller feature scopes")
	}
	if m.CostEfficiency < 0.5 {
		recs = append(recs, "cost per feature well above threshold; review agent prompts and retries")
	}
	if m.TimeEfficiency < 0.5 {
		recs = append(recs, "duration per feature well above threshold; review verification loops")
	}
	if m.VerificationRate == 0 {
		recs = append(recs, "last verification failed; re-verify before merging")
	}
	return recs
}
