// Package constraint implements the six-tag constraint predicate model and
// its evaluation against a caller-supplied parameter tree.
package constraint

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ErrUnknownTag is returned when a constraint entry carries a tag outside
// the six recognized forms.
var ErrUnknownTag = errors.New("constraint: unknown tag")

// ErrInvalidPattern is returned when a pattern tag does not compile as a
// regular expression.
var ErrInvalidPattern = errors.New("constraint: pattern does not compile")

// ErrInvalidOperand is returned when a tag's operand has the wrong shape
// (e.g. a non-numeric min, a non-sequence in/not_in).
var ErrInvalidOperand = errors.New("constraint: invalid operand")

// Spec is a single constraint predicate: a tagged variant over the six
// forms in spec section 4.2. Any combination of tags may be set on one
// Spec; ParseSpec does not reject combinations, and Evaluate checks every
// tag that is set.
type Spec struct {
	HasMin bool
	Min    float64

	HasMax bool
	Max    float64

	HasIn bool
	In    []any

	HasNotIn bool
	NotIn    []any

	HasEquals bool
	Equals    any

	HasPattern bool
	Pattern    *regexp.Regexp
	PatternSrc string
}

// IsZero reports whether no tag has been set.
func (s Spec) IsZero() bool {
	return !s.HasMin && !s.HasMax && !s.HasIn && !s.HasNotIn && !s.HasEquals && !s.HasPattern
}

// ParseSpec builds a Spec from a raw decoded constraint entry (as produced
// by decoding a policy document's constraints map), rejecting unknown tags
// and malformed operands. Called from policy.Load at policy-load time.
func ParseSpec(raw map[string]any) (Spec, error) {
	var s Spec
	for tag, v := range raw {
		switch tag {
		case "min":
			n, ok := asFloat(v)
			if !ok {
				return Spec{}, fmt.Errorf("%w: min must be numeric, got %T", ErrInvalidOperand, v)
			}
			s.HasMin = true
			s.Min = n
		case "max":
			n, ok := asFloat(v)
			if !ok {
				return Spec{}, fmt.Errorf("%w: max must be numeric, got %T", ErrInvalidOperand, v)
			}
			s.HasMax = true
			s.Max = n
		case "in":
			items, ok := v.([]any)
			if !ok {
				return Spec{}, fmt.Errorf("%w: in must be a sequence, got %T", ErrInvalidOperand, v)
			}
			s.HasIn = true
			s.In = items
		case "not_in":
			items, ok := v.([]any)
			if !ok {
				return Spec{}, fmt.Errorf("%w: not_in must be a sequence, got %T", ErrInvalidOperand, v)
			}
			s.HasNotIn = true
			s.NotIn = items
		case "equals":
			s.HasEquals = true
			s.Equals = v
		case "pattern":
			src, ok := v.(string)
			if !ok {
				return Spec{}, fmt.Errorf("%w: pattern must be a string, got %T", ErrInvalidOperand, v)
			}
			re, err := regexp.Compile(src)
			if err != nil {
				return Spec{}, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, src, err)
			}
			s.HasPattern = true
			s.Pattern = re
			s.PatternSrc = src
		default:
			return Spec{}, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
		}
	}
	if s.IsZero() {
		return Spec{}, fmt.Errorf("%w: constraint entry has no recognized tags", ErrUnknownTag)
	}
	return s, nil
}

// AsNumber exposes the numeric-promotion rules used internally by min/max
// so callers outside this package (the aggregate-limit field extractor in
// particular) apply the identical coercion.
func AsNumber(v any) (float64, bool) {
	return asFloat(v)
}

// asFloat promotes the common numeric representations a decoded JSON/YAML
// document produces (float64, int, int64, json.Number) into float64, so
// constraint comparisons never care whether a value arrived as 5 or 5.0.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
