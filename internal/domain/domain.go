package domain

import (
	"fmt"
	"strings"
	"time"
)

type Domain string

const (
	Diabetes Domain = "diabetes"
	Heart    Domain = "heart"
)

// All lists the supported risk domains in route order.
var All = []Domain{Diabetes, Heart}

func ParseDomain(s string) (Domain, error) {
	switch Domain(strings.ToLower(strings.TrimSpace(s))) {
	case Diabetes:
		return Diabetes, nil
	case Heart:
		return Heart, nil
	default:
		return "", fmt.Errorf("unknown risk domain %q", s)
	}
}

// DisplayName is the human-facing name used in prompts and messages.
func (d Domain) DisplayName() string {
	switch d {
	case Diabetes:
		return "Diabetes"
	case Heart:
		return "Heart Disease"
	default:
		return string(d)
	}
}

// PredictionRequest is one validated input record. Values is keyed by field
// name; integer fields hold integral values.
type PredictionRequest struct {
	Domain Domain
	Values map[string]float64
}

// FeatureVector is a row in the exact column order the classifier was
// trained on.
type FeatureVector []float64

type PredictionRecord struct {
	UserID      string
	ModelName   string
	Input       map[string]float64
	Prediction  int
	Probability float64
	CreatedAt   time.Time
}
