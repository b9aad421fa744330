package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// ValidationError lists every missing or mistyped field of a request body.
type ValidationError struct {
	Domain  Domain
	Reason  string
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s request: %s", e.Domain, e.Reason)
	}
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.Invalid, ", "))
	}
	return fmt.Sprintf("invalid %s request: %s", e.Domain, strings.Join(parts, "; "))
}

// maxExactInt is the largest integer a float64 holds exactly.
const maxExactInt = 1 << 53

// Validate checks a raw JSON body against the domain schema. Every declared
// field is required and must be a JSON number; integer fields must be
// integral and within ±2^53. Non-finite numbers are rejected. Unknown
// fields are ignored and no range checks are applied.
func Validate(d Domain, body []byte) (PredictionRequest, error) {
	schema, ok := SchemaFor(d)
	if !ok {
		return PredictionRequest{}, fmt.Errorf("unknown risk domain %q", d)
	}
	if !gjson.ValidBytes(body) {
		return PredictionRequest{}, &ValidationError{Domain: d, Reason: "body is not valid JSON"}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return PredictionRequest{}, &ValidationError{Domain: d, Reason: "body must be a JSON object"}
	}

	values := make(map[string]float64, len(schema.Fields))
	verr := &ValidationError{Domain: d}
	for _, f := range schema.Fields {
		res := root.Get(gjson.Escape(f.Name))
		if !res.Exists() || res.Type == gjson.Null {
			verr.Missing = append(verr.Missing, f.Name)
			continue
		}
		if res.Type != gjson.Number {
			verr.Invalid = append(verr.Invalid, f.Name)
			continue
		}
		v := res.Float()
		if math.IsInf(v, 0) || math.IsNaN(v) {
			verr.Invalid = append(verr.Invalid, f.Name)
			continue
		}
		if f.Kind == Int && (math.Trunc(v) != v || math.Abs(v) > maxExactInt) {
			verr.Invalid = append(verr.Invalid, f.Name)
			continue
		}
		values[f.Name] = v
	}
	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return PredictionRequest{}, verr
	}
	return PredictionRequest{Domain: d, Values: values}, nil
}
