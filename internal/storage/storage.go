package storage

import (
	"context"

	"riskapi/internal/domain"
)

// Filter narrows a probability query. An empty Domain means every domain.
type Filter struct {
	Domain domain.Domain
}

// ProbabilitySource returns the stored probability of every matching
// prediction.
type ProbabilitySource interface {
	Probabilities(ctx context.Context, f Filter) ([]float64, error)
}

type PredictionWriter interface {
	InsertPrediction(ctx context.Context, rec domain.PredictionRecord) error
}

type Store interface {
	ProbabilitySource
	PredictionWriter
	Close() error
}
