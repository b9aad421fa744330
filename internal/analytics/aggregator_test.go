package analytics

import (
	"context"
	"errors"
	"testing"

	"riskapi/internal/domain"
	"riskapi/internal/storage"
)

type fakeSource struct {
	values []float64
	err    error
	filter storage.Filter
}

func (f *fakeSource) Probabilities(_ context.Context, filter storage.Filter) ([]float64, error) {
	f.filter = filter
	return f.values, f.err
}

func TestAverageProbability(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"two rows", []float64{0.2, 0.8}, 0.5},
		{"single row", []float64{0.73}, 0.73},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(&fakeSource{values: tt.values})
			got, err := agg.AverageProbability(context.Background(), storage.Filter{})
			if err != nil {
				t.Fatalf("AverageProbability failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("AverageProbability = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAverageProbabilityFetchFailureIsAnError(t *testing.T) {
	agg := NewAggregator(&fakeSource{values: []float64{0.9}, err: errors.New("connection refused")})

	got, err := agg.AverageProbability(context.Background(), storage.Filter{})
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if got != 0 {
		t.Fatalf("expected no value alongside the error, got %v", got)
	}
}

func TestAverageProbabilityPassesFilter(t *testing.T) {
	src := &fakeSource{values: []float64{0.4}}
	agg := NewAggregator(src)

	if _, err := agg.AverageProbability(context.Background(), storage.Filter{Domain: domain.Heart}); err != nil {
		t.Fatalf("AverageProbability failed: %v", err)
	}
	if src.filter.Domain != domain.Heart {
		t.Fatalf("filter not passed through: %+v", src.filter)
	}
}
