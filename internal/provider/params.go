package provider

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// ParamType is the input kind of a connection parameter
type ParamType string

// Parameter input kinds
const (
	ParamString ParamType = "string"
	ParamSecret ParamType = "secret"
	ParamChoice ParamType = "choice"
)

// ParamSpec declares one connection field of a provider
type ParamSpec struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Type     ParamType `json:"type"`
	Choices  []string  `json:"choices,omitempty"`
	ReadOnly bool      `json:"readonly"`
}

// NewParam builds a ParamSpec, rejecting choice params without choices
func NewParam(key, label string, typ ParamType, choices ...string) (ParamSpec, error) {
	p := ParamSpec{Key: key, Label: label, Type: typ, Choices: choices}
	if err := p.Validate(); err != nil {
		return ParamSpec{}, err
	}
	return p, nil
}

// MustParam is NewParam for static declaration tables
func MustParam(key, label string, typ ParamType, choices ...string) ParamSpec {
	p, err := NewParam(key, label, typ, choices...)
	if err != nil {
		panic(err)
	}
	return p
}

// AsReadOnly returns a copy of p flagged read-only
func (p ParamSpec) AsReadOnly() ParamSpec {
	p.ReadOnly = true
	return p
}

// Validate checks the declaration itself
func (p ParamSpec) Validate() error {
	if p.Key == "" {
		return fmt.Errorf("param key is empty")
	}
	switch p.Type {
	case ParamString, ParamSecret:
		if len(p.Choices) > 0 {
			return fmt.Errorf("param %q: choices are only allowed on choice params", p.Key)
		}
	case ParamChoice:
		if len(p.Choices) == 0 {
			return fmt.Errorf("param %q: choices must be provided for choice type", p.Key)
		}
	default:
		return fmt.Errorf("param %q: unknown type %q", p.Key, p.Type)
	}
	return nil
}

// ValidationError reports connection data that does not match a provider's params
type ValidationError struct {
	Provider string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s account data: %s", e.Provider, strings.Join(e.Problems, "; "))
}

// Values is connection data that passed Bind for a given provider
type Values struct {
	m map[string]string
}

// Get returns the bound value for key
func (v Values) Get(key string) string {
	return v.m[key]
}

// Bind validates data against params: every declared key must be present and
// non-empty, no undeclared key may appear, and choice values must be one of the
// declared choices.
func Bind(providerName string, params []ParamSpec, data map[string]string) (Values, error) {
	var problems []string
	declared := make(map[string]ParamSpec, len(params))
	for _, p := range params {
		declared[p.Key] = p
	}

	for _, p := range params {
		v, ok := data[p.Key]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("missing field %q", p.Key))
		case strings.TrimSpace(v) == "":
			problems = append(problems, fmt.Sprintf("field %q is empty", p.Key))
		case p.Type == ParamChoice && !slices.Contains(p.Choices, v):
			problems = append(problems, fmt.Sprintf("field %q: %q is not one of %s", p.Key, v, strings.Join(p.Choices, ", ")))
		}
	}

	var unknown []string
	for k := range data {
		if _, ok := declared[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		problems = append(problems, fmt.Sprintf("unknown field %q", k))
	}

	if len(problems) > 0 {
		return Values{}, &ValidationError{Provider: providerName, Problems: problems}
	}

	m := make(map[string]string, len(data))
	for k, v := range data {
		m[k] = v
	}
	return Values{m: m}, nil
}
