package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"riskapi/internal/domain"
)

const (
	KindXGBoostTrees       = "xgboost_trees"
	KindLogisticRegression = "logistic_regression"

	defaultThreshold = 0.5
)

var ErrModelUnavailable = errors.New("model not loaded")

// Artifact is the manifest written by the training step next to the model
// weights. FeatureNames is the column order the model was fitted on.
type Artifact struct {
	Domain       string      `json:"domain"`
	Version      string      `json:"version"`
	Kind         string      `json:"kind"`
	FeatureNames []string    `json:"feature_names"`
	Threshold    float64     `json:"threshold,omitempty"`
	BaseScore    *float64    `json:"base_score,omitempty"`
	Trees        []*TreeNode `json:"trees,omitempty"`
	Coefficients []float64   `json:"coefficients,omitempty"`
	Intercept    float64     `json:"intercept,omitempty"`
}

// TreeNode follows the XGBoost get_dump(dump_format="json") layout.
type TreeNode struct {
	NodeID         int         `json:"nodeid"`
	Split          string      `json:"split,omitempty"`
	SplitCondition float64     `json:"split_condition,omitempty"`
	Yes            int         `json:"yes,omitempty"`
	No             int         `json:"no,omitempty"`
	Missing        int         `json:"missing,omitempty"`
	Leaf           *float64    `json:"leaf,omitempty"`
	Children       []*TreeNode `json:"children,omitempty"`
}

func ReadArtifact(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("read model artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return Artifact{}, fmt.Errorf("parse model artifact %s: %w", path, err)
	}
	return a, nil
}

// Build checks the artifact against the serving schema for d and returns a
// ready classifier. A column order that differs from the schema is an error:
// the model would silently score the wrong features.
func Build(d domain.Domain, a Artifact) (Classifier, error) {
	if a.Domain != "" && a.Domain != string(d) {
		return nil, fmt.Errorf("artifact is for domain %q, want %q", a.Domain, d)
	}
	want := domain.FeatureOrder(d)
	if want == nil {
		return nil, fmt.Errorf("unknown risk domain %q", d)
	}
	if err := checkFeatureOrder(want, a.FeatureNames); err != nil {
		return nil, err
	}
	threshold := a.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("invalid threshold %v: must be between 0 and 1", threshold)
	}

	switch a.Kind {
	case KindXGBoostTrees:
		return newXGBoostTrees(a, threshold)
	case KindLogisticRegression:
		return newLogisticRegression(a, threshold)
	default:
		return nil, fmt.Errorf("unsupported model kind %q", a.Kind)
	}
}

func checkFeatureOrder(want, got []string) error {
	if len(got) != len(want) {
		return fmt.Errorf("feature order mismatch: artifact has %d columns, schema has %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("feature order mismatch at column %d: artifact=%s schema=%s", i, got[i], want[i])
		}
	}
	return nil
}

// featureIndex resolves a split name, either a column name or XGBoost's
// positional "f<N>" form.
func featureIndex(names []string, split string) (int, error) {
	for i, n := range names {
		if n == split {
			return i, nil
		}
	}
	if strings.HasPrefix(split, "f") {
		if i, err := strconv.Atoi(split[1:]); err == nil && i >= 0 && i < len(names) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown split feature %q", split)
}
