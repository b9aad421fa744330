package model

import (
	"fmt"
	"math"

	"riskapi/internal/domain"
)

// Classifier is a loaded binary classifier. Implementations are read-only
// after construction and safe for concurrent use.
type Classifier interface {
	Predict(x domain.FeatureVector) (int, error)
	PredictProba(x domain.FeatureVector) ([]float64, error)
	Version() string
}

// Classify runs both the discrete prediction and the probability estimate.
func Classify(c Classifier, x domain.FeatureVector) (int, []float64, error) {
	class, err := c.Predict(x)
	if err != nil {
		return 0, nil, fmt.Errorf("predict: %w", err)
	}
	probs, err := c.PredictProba(x)
	if err != nil {
		return 0, nil, fmt.Errorf("predict proba: %w", err)
	}
	return class, probs, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

// binary turns P(class 1) into the sklearn-style [p0, p1] pair.
type binary struct {
	version   string
	width     int
	threshold float64
	p1        func(x domain.FeatureVector) float64
}

func (b *binary) Version() string { return b.version }

func (b *binary) check(x domain.FeatureVector) error {
	if len(x) != b.width {
		return fmt.Errorf("feature vector has %d values, model expects %d", len(x), b.width)
	}
	return nil
}

func (b *binary) Predict(x domain.FeatureVector) (int, error) {
	if err := b.check(x); err != nil {
		return 0, err
	}
	if b.p1(x) > b.threshold {
		return 1, nil
	}
	return 0, nil
}

func (b *binary) PredictProba(x domain.FeatureVector) ([]float64, error) {
	if err := b.check(x); err != nil {
		return nil, err
	}
	p := b.p1(x)
	return []float64{1 - p, p}, nil
}

type treeNode struct {
	present bool
	leaf    bool
	value   float64
	feature int
	cond    float64
	yes     int
	no      int
	missing int
}

type tree []treeNode

func (t tree) eval(x domain.FeatureVector) float64 {
	id := 0
	for steps := 0; steps <= len(t); steps++ {
		n := t[id]
		if n.leaf {
			return n.value
		}
		v := x[n.feature]
		switch {
		case math.IsNaN(v):
			id = n.missing
		case v < n.cond:
			id = n.yes
		default:
			id = n.no
		}
	}
	// compileTree rejects cycles, so this is unreachable.
	return 0
}

func newXGBoostTrees(a Artifact, threshold float64) (Classifier, error) {
	if len(a.Trees) == 0 {
		return nil, fmt.Errorf("xgboost artifact has no trees")
	}
	baseScore := 0.5
	if a.BaseScore != nil {
		baseScore = *a.BaseScore
	}
	if baseScore <= 0 || baseScore >= 1 {
		return nil, fmt.Errorf("invalid base_score %v: must be between 0 and 1", baseScore)
	}
	trees := make([]tree, 0, len(a.Trees))
	for i, root := range a.Trees {
		t, err := compileTree(root, a.FeatureNames)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		trees = append(trees, t)
	}
	baseMargin := logit(baseScore)
	return &binary{
		version:   a.Version,
		width:     len(a.FeatureNames),
		threshold: threshold,
		p1: func(x domain.FeatureVector) float64 {
			margin := baseMargin
			for _, t := range trees {
				margin += t.eval(x)
			}
			return sigmoid(margin)
		},
	}, nil
}

func compileTree(root *TreeNode, names []string) (tree, error) {
	if root == nil {
		return nil, fmt.Errorf("empty tree")
	}
	byID := make(map[int]*TreeNode)
	maxID := 0
	var walk func(n *TreeNode) error
	walk = func(n *TreeNode) error {
		if n.NodeID < 0 {
			return fmt.Errorf("negative node id %d", n.NodeID)
		}
		if _, dup := byID[n.NodeID]; dup {
			return fmt.Errorf("duplicate node id %d", n.NodeID)
		}
		byID[n.NodeID] = n
		if n.NodeID > maxID {
			maxID = n.NodeID
		}
		for _, c := range n.Children {
			if c == nil {
				return fmt.Errorf("node %d has a nil child", n.NodeID)
			}
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	if root.NodeID != 0 {
		return nil, fmt.Errorf("root node id is %d, want 0", root.NodeID)
	}

	t := make(tree, maxID+1)
	for id, n := range byID {
		if n.Leaf != nil {
			t[id] = treeNode{present: true, leaf: true, value: *n.Leaf}
			continue
		}
		feature, err := featureIndex(names, n.Split)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
		missing := n.Missing
		if missing == 0 {
			missing = n.Yes
		}
		t[id] = treeNode{
			present: true,
			feature: feature,
			cond:    n.SplitCondition,
			yes:     n.Yes,
			no:      n.No,
			missing: missing,
		}
	}
	for id, n := range t {
		if !n.present || n.leaf {
			continue
		}
		for _, next := range []int{n.yes, n.no, n.missing} {
			if next <= id || next >= len(t) || !t[next].present {
				return nil, fmt.Errorf("node %d points to invalid node %d", id, next)
			}
		}
	}
	return t, nil
}

func newLogisticRegression(a Artifact, threshold float64) (Classifier, error) {
	if len(a.Coefficients) != len(a.FeatureNames) {
		return nil, fmt.Errorf("logistic regression has %d coefficients for %d features", len(a.Coefficients), len(a.FeatureNames))
	}
	coef := append([]float64(nil), a.Coefficients...)
	intercept := a.Intercept
	return &binary{
		version:   a.Version,
		width:     len(coef),
		threshold: threshold,
		p1: func(x domain.FeatureVector) float64 {
			z := intercept
			for i, w := range coef {
				z += w * x[i]
			}
			return sigmoid(z)
		},
	}, nil
}
