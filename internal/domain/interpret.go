package domain

import "fmt"

const (
	LowRisk  = "Low Risk"
	HighRisk = "High Risk"
)

type PredictionResult struct {
	RawClass      int
	Probabilities []float64
	RiskLabel     string
	Confidence    float64
}

// Interpret maps the classifier output to a risk label and confidence.
// Confidence is the largest class probability, clamped to [0,1].
func Interpret(rawClass int, probs []float64) PredictionResult {
	label := LowRisk
	if rawClass == 1 {
		label = HighRisk
	}
	confidence := 0.0
	for _, p := range probs {
		if p > confidence {
			confidence = p
		}
	}
	if confidence > 1 {
		confidence = 1
	}
	return PredictionResult{
		RawClass:      rawClass,
		Probabilities: append([]float64(nil), probs...),
		RiskLabel:     label,
		Confidence:    confidence,
	}
}

// ConfidencePercent formats the confidence the way it is shown to users.
func (r PredictionResult) ConfidencePercent() string {
	return fmt.Sprintf("%.2f%%", r.Confidence*100)
}
