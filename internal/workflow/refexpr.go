package workflow

import (
	"fmt"
	"strings"
)

// Reference expressions wire data between steps:
//
//	$input.<path>            reads from the workflow's initial inputs
//	$steps.<stepId>.<path>   reads from a previous step's output
//
// The literal segment "output" after the step id is elided, so
// $steps.x.output.y and $steps.x.y resolve identically. Expressions are
// parsed once at workflow registration; unknown prefixes are rejected.

const (
	inputPrefix = "$input."
	stepsPrefix = "$steps."
)

type refKind int

const (
	refInput refKind = iota
	refStep
)

// Reference is a parsed reference expression.
type Reference struct {
	kind   refKind
	stepID string
	path   []string
}

// IsReference reports whether a raw input value is a reference expression.
func IsReference(value interface{}) bool {
	s, ok := value.(string)
	return ok && strings.HasPrefix(s, "$")
}

// ParseReference parses a reference expression.
func ParseReference(expr string) (*Reference, error) {
	switch {
	case strings.HasPrefix(expr, inputPrefix):
		path := splitPath(expr[len(inputPrefix):])
		if len(path) == 0 {
			return nil, fmt.Errorf("invalid reference %q: empty path", expr)
		}
		return &Reference{kind: refInput, path: path}, nil

	case strings.HasPrefix(expr, stepsPrefix):
		segments := splitPath(expr[len(stepsPrefix):])
		if len(segments) == 0 {
			return nil, fmt.Errorf("invalid reference %q: missing step id", expr)
		}
		stepID := segments[0]
		path := segments[1:]
		if len(path) > 0 && path[0] == "output" {
			path = path[1:]
		}
		return &Reference{kind: refStep, stepID: stepID, path: path}, nil

	case strings.HasPrefix(expr, "$"):
		return nil, fmt.Errorf("invalid reference %q: unknown prefix", expr)

	default:
		return nil, fmt.Errorf("%q is not a reference expression", expr)
	}
}

// StepID returns the referenced step id, empty for input references.
func (r *Reference) StepID() string {
	return r.stepID
}

// Resolve navigates the reference against the initial inputs and prior step
// outputs. Undefined paths resolve to nil without error; the caller passes
// the nil through and lets schema validation reject it.
func (r *Reference) Resolve(initialInputs map[string]interface{}, stepOutputs map[string]map[string]interface{}) interface{} {
	var current interface{}

	switch r.kind {
	case refInput:
		current = mapToAny(initialInputs)
	case refStep:
		output, ok := stepOutputs[r.stepID]
		if !ok {
			return nil
		}
		current = mapToAny(output)
	}

	for _, segment := range r.path {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = obj[segment]
		if !ok {
			return nil
		}
	}
	return current
}

func splitPath(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ".")
	for _, part := range parts {
		if part == "" {
			return nil
		}
	}
	return parts
}

func mapToAny(m map[string]interface{}) interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// compiledValue is a step input after registration-time parsing: either a
// literal passed through verbatim or a parsed reference.
type compiledValue struct {
	literal interface{}
	ref     *Reference
}

func compileValue(value interface{}) (compiledValue, error) {
	if !IsReference(value) {
		return compiledValue{literal: value}, nil
	}
	ref, err := ParseReference(value.(string))
	if err != nil {
		return compiledValue{}, err
	}
	return compiledValue{ref: ref}, nil
}

func (v compiledValue) resolve(initialInputs map[string]interface{}, stepOutputs map[string]map[string]interface{}) interface{} {
	if v.ref == nil {
		return v.literal
	}
	return v.ref.Resolve(initialInputs, stepOutputs)
}
