// Package tool is the catalog of named read operations the resolver can pick:
// typed parameter schemas, a registry, argument binding, and the uniform
// result envelope.
package tool

import (
	"fmt"
	"math"
	"strings"
)

// ParamType is the declared type of a parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeFloat   ParamType = "float"
	TypeEnum    ParamType = "enum"
)

// ParamSpec declares one parameter of a tool.
type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	// Default is substituted when an optional parameter is absent.
	Default any      `json:"default,omitempty"`
	Enum    []string `json:"enum,omitempty"`
	Min     *float64 `json:"minimum,omitempty"`
	Max     *float64 `json:"maximum,omitempty"`
	// Clamp pulls out-of-range numbers to the nearest bound instead of
	// rejecting them.
	Clamp bool `json:"-"`
}

// Spec declares a tool. Params keep their declaration order.
type Spec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ParamSpec `json:"parameters"`
}

// Param looks up a parameter by name.
func (s Spec) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// Bounds returns an inclusive numeric range for use in ParamSpec.
func Bounds(min, max float64) (*float64, *float64) {
	return &min, &max
}

func (s Spec) check() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("tool name is empty")
	}
	seen := make(map[string]bool, len(s.Params))
	for _, p := range s.Params {
		if p.Name == "" {
			return fmt.Errorf("tool %q: parameter with empty name", s.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("tool %q: duplicate parameter %q", s.Name, p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case TypeString, TypeInteger, TypeFloat:
		case TypeEnum:
			if len(p.Enum) == 0 {
				return fmt.Errorf("tool %q: enum parameter %q has no values", s.Name, p.Name)
			}
		default:
			return fmt.Errorf("tool %q: parameter %q has unknown type %q", s.Name, p.Name, p.Type)
		}
		if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
			return fmt.Errorf("tool %q: parameter %q has min > max", s.Name, p.Name)
		}
		if p.Default != nil {
			if p.Required {
				return fmt.Errorf("tool %q: required parameter %q declares a default", s.Name, p.Name)
			}
			if _, err := coerce(p, p.Default); err != nil {
				return fmt.Errorf("tool %q: default for %q: %v", s.Name, p.Name, err)
			}
		}
	}
	return nil
}

func isIntegral(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f)
}
