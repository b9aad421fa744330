package analytics

import (
	"context"
	"errors"
	"fmt"
	"log"

	"riskapi/internal/storage"
)

// ErrFetchFailed marks a store failure. It is never reported as a zero
// average.
var ErrFetchFailed = errors.New("fetching stored probabilities failed")

type Aggregator struct {
	source storage.ProbabilitySource
}

func NewAggregator(source storage.ProbabilitySource) *Aggregator {
	return &Aggregator{source: source}
}

// AverageProbability returns the mean stored probability, or 0 when no rows
// match the filter.
func (a *Aggregator) AverageProbability(ctx context.Context, f storage.Filter) (float64, error) {
	values, err := a.source.Probabilities(ctx, f)
	if err != nil {
		log.Printf("analytics fetch error domain=%q err=%v", f.Domain, err)
		return 0, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return Mean(values), nil
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
