package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/castleinc/cveagent/pkg/errmodel"
)

// Params holds bound arguments. After Bind every declared parameter that is
// required or has a default is present, integers are int, floats are float64,
// and strings and enums are string.
type Params map[string]any

// String returns the named string or enum parameter.
func (p Params) String(name string) string {
	s, _ := p[name].(string)
	return s
}

// Int returns the named integer parameter.
func (p Params) Int(name string) int {
	n, _ := p[name].(int)
	return n
}

// Float returns the named float parameter.
func (p Params) Float(name string) float64 {
	f, _ := p[name].(float64)
	return f
}

// Has reports whether name was bound.
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Bind validates args against s: unknown names are rejected, values are
// coerced to their declared type (numeric strings included), enum values are
// matched case-insensitively and canonicalised, bounds are enforced, and
// defaults fill absent optional parameters. Errors are *errmodel.Error with
// code invalid_parameter.
func (s Spec) Bind(args map[string]any) (Params, error) {
	for name := range args {
		if _, ok := s.Param(name); !ok {
			return nil, errmodel.InvalidParameter(s.Name, name, "unknown parameter")
		}
	}
	out := make(Params, len(s.Params))
	for _, ps := range s.Params {
		raw, present := args[ps.Name]
		if present && raw == nil {
			present = false
		}
		if !present {
			if ps.Required {
				return nil, errmodel.InvalidParameter(s.Name, ps.Name, "missing required parameter")
			}
			if ps.Default == nil {
				continue
			}
			raw = ps.Default
		}
		v, err := coerce(ps, raw)
		if err != nil {
			return nil, errmodel.InvalidParameter(s.Name, ps.Name, err.Error())
		}
		out[ps.Name] = v
	}
	return out, nil
}

func coerce(ps ParamSpec, raw any) (any, error) {
	switch ps.Type {
	case TypeString:
		s, err := asString(raw)
		if err != nil {
			return nil, err
		}
		if ps.Required && strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("must not be empty")
		}
		return s, nil
	case TypeEnum:
		s, err := asString(raw)
		if err != nil {
			return nil, err
		}
		for _, e := range ps.Enum {
			if strings.EqualFold(strings.TrimSpace(s), e) {
				return e, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(ps.Enum, ", "))
	case TypeInteger:
		f, err := asNumber(raw)
		if err != nil {
			return nil, err
		}
		if !isIntegral(f) {
			return nil, fmt.Errorf("%v is not an integer", f)
		}
		f, err = inBounds(ps, f)
		if err != nil {
			return nil, err
		}
		return int(f), nil
	case TypeFloat:
		f, err := asNumber(raw)
		if err != nil {
			return nil, err
		}
		f, err = inBounds(ps, f)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown type %q", ps.Type)
	}
}

func inBounds(ps ParamSpec, f float64) (float64, error) {
	if ps.Min != nil && f < *ps.Min {
		if ps.Clamp {
			return *ps.Min, nil
		}
		return 0, fmt.Errorf("%v is below the minimum %v", f, *ps.Min)
	}
	if ps.Max != nil && f > *ps.Max {
		if ps.Clamp {
			return *ps.Max, nil
		}
		return 0, fmt.Errorf("%v is above the maximum %v", f, *ps.Max)
	}
	return f, nil
}

func asString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case int, int32, int64, float32, float64:
		return fmt.Sprint(v), nil
	default:
		return "", fmt.Errorf("expected a string, got %T", raw)
	}
}

func asNumber(raw any) (float64, error) {
	var f float64
	switch v := raw.(type) {
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v.String())
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		f = n
	default:
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not a finite number", f)
	}
	return f, nil
}
