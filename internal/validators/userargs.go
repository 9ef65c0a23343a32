// Package validators implements the user-args schema checker (C8) and the
// guest result validator (C9).
//
// New code: no example repo carries a flat scalar/array-of-scalar schema
// validator, so this is hand-rolled against stdlib encoding/json, the
// same way internal/chain/contracts_parsers.go hand-rolls its own
// type-tag switch over a StackItem rather than reaching for a schema
// library — that parser is this package's nearest stylistic relative,
// even though its domain (Neo VM stack items) is unrelated.
package validators

import (
	"encoding/json"
	"fmt"

	"github.com/R3E-Network/w3f-runner/internal/errors"
	"github.com/R3E-Network/w3f-runner/types"
)

// exampleLiteral names a representative value of each schema type, used
// in error messages the way spec §4.7 requires.
func exampleLiteral(t types.ArgType) string {
	switch t {
	case types.ArgBoolean:
		return "true"
	case types.ArgNumber:
		return "42"
	case types.ArgString:
		return `"example"`
	case types.ArgBooleanArray:
		return "[true, false]"
	case types.ArgNumberArray:
		return "[1, 2, 3]"
	case types.ArgStringArray:
		return `["a", "b"]`
	default:
		return ""
	}
}

// ValidateUserArgs checks that every schema key is present in args and
// matches its declared type. Arrays must be homogeneous.
func ValidateUserArgs(schema types.UserArgsSchema, args map[string]any) error {
	for key, want := range schema {
		value, ok := args[key]
		if !ok {
			return errors.Schema(fmt.Sprintf("userArgs missing required key %q (expected %s, e.g. %s)", key, want, exampleLiteral(want))).
				WithDetails("key", key).WithDetails("expected", string(want))
		}
		if err := checkType(key, want, value); err != nil {
			return err
		}
	}
	return nil
}

// ParseUserArgs decodes a string map — as arrives from a CLI invocation —
// against schema, JSON-decoding each raw string value before applying the
// same type constraints as ValidateUserArgs.
func ParseUserArgs(schema types.UserArgsSchema, raw map[string]string) (map[string]any, error) {
	parsed := make(map[string]any, len(schema))
	for key, want := range schema {
		rawValue, ok := raw[key]
		if !ok {
			return nil, errors.Schema(fmt.Sprintf("userArgs missing required key %q (expected %s, e.g. %s)", key, want, exampleLiteral(want))).
				WithDetails("key", key).WithDetails("expected", string(want))
		}

		var value any
		if err := json.Unmarshal([]byte(rawValue), &value); err != nil {
			return nil, errors.Schema(fmt.Sprintf("userArgs key %q is not valid JSON for type %s (expected e.g. %s)", key, want, exampleLiteral(want))).
				WithDetails("key", key).WithDetails("expected", string(want))
		}

		if err := checkType(key, want, value); err != nil {
			return nil, err
		}
		parsed[key] = value
	}
	return parsed, nil
}

func checkType(key string, want types.ArgType, value any) error {
	bad := func() error {
		return errors.Schema(fmt.Sprintf("userArgs key %q has wrong type (expected %s, e.g. %s)", key, want, exampleLiteral(want))).
			WithDetails("key", key).WithDetails("expected", string(want))
	}

	switch want {
	case types.ArgBoolean:
		if _, ok := value.(bool); !ok {
			return bad()
		}
	case types.ArgNumber:
		if _, ok := value.(float64); !ok {
			return bad()
		}
	case types.ArgString:
		if _, ok := value.(string); !ok {
			return bad()
		}
	case types.ArgBooleanArray:
		return checkHomogeneousArray(key, want, value, func(v any) bool { _, ok := v.(bool); return ok })
	case types.ArgNumberArray:
		return checkHomogeneousArray(key, want, value, func(v any) bool { _, ok := v.(float64); return ok })
	case types.ArgStringArray:
		return checkHomogeneousArray(key, want, value, func(v any) bool { _, ok := v.(string); return ok })
	default:
		return errors.Schema(fmt.Sprintf("userArgs key %q declares unknown type %q", key, want)).WithDetails("key", key)
	}
	return nil
}

func checkHomogeneousArray(key string, want types.ArgType, value any, elemOK func(any) bool) error {
	bad := func() error {
		return errors.Schema(fmt.Sprintf("userArgs key %q has wrong type (expected %s, e.g. %s)", key, want, exampleLiteral(want))).
			WithDetails("key", key).WithDetails("expected", string(want))
	}

	arr, ok := value.([]any)
	if !ok {
		return bad()
	}
	for _, elem := range arr {
		if !elemOK(elem) {
			return bad()
		}
	}
	return nil
}
