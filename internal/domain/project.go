package domain

import (
	"fmt"
	"strconv"
)

// Project orders a validated request into the training column order.
func Project(req PredictionRequest) (FeatureVector, error) {
	schema, ok := SchemaFor(req.Domain)
	if !ok {
		return nil, fmt.Errorf("unknown risk domain %q", req.Domain)
	}
	row := make(FeatureVector, len(schema.FeatureOrder))
	for i, name := range schema.FeatureOrder {
		v, ok := req.Values[name]
		if !ok {
			return nil, fmt.Errorf("project %s: field %s not set", req.Domain, name)
		}
		row[i] = v
	}
	return row, nil
}

// Field is a single input value rendered for display.
type Field struct {
	Name  string
	Value string
}

// DisplayFields returns the request values in declaration order, integers
// without a fractional part.
func DisplayFields(req PredictionRequest) []Field {
	schema, ok := SchemaFor(req.Domain)
	if !ok {
		return nil
	}
	out := make([]Field, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		v, ok := req.Values[f.Name]
		if !ok {
			continue
		}
		var s string
		if f.Kind == Int {
			s = strconv.FormatInt(int64(v), 10)
		} else {
			s = strconv.FormatFloat(v, 'f', -1, 64)
		}
		out = append(out, Field{Name: f.Name, Value: s})
	}
	return out
}
