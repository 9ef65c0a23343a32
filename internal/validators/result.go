// Result validation (C9): enforces the V1/V2 shape spec §4.6 names.
//
// The hex/address syntactic checks are grounded on internal/chain/
// contracts_parsers.go's ParseHash160 (hex.DecodeString round-tripping
// of a 0x-prefixed 20-byte value) and its sibling Parse* functions' habit
// of treating "wrong shape" as a typed error naming the offending value,
// generalized here from a Neo VM stack-item source to an untrusted
// script's JSON reply.
package validators

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/R3E-Network/w3f-runner/internal/errors"
	"github.com/R3E-Network/w3f-runner/types"
)

var decimalDigits = regexp.MustCompile(`^\d+$`)

// ValidateResult enforces the version-tagged result shape. A false
// canExec is accepted unconditionally regardless of callData presence.
func ValidateResult(version types.Version, result types.Result) error {
	if !result.CanExec {
		return nil
	}

	if version == types.V2 {
		return validateV2(result.CallDataV2)
	}
	return validateCallDataHex("callData", result.CallDataV1)
}

func validateV2(calls []types.CallV2) error {
	if calls == nil {
		return errors.Validation("result must return a callData array when canExec is true (V2)").
			WithDetails("canExec", true)
	}
	for i, call := range calls {
		if !isValidAddress(call.To) {
			return errors.Validation(fmt.Sprintf("result callData[%d].to %q is not a syntactically valid 20-byte address", i, call.To)).
				WithDetails("index", i).WithDetails("to", call.To)
		}
		if err := validateCallDataHex(fmt.Sprintf("callData[%d].data", i), call.Data); err != nil {
			return err
		}
		if call.Value != "" && !decimalDigits.MatchString(call.Value) {
			return errors.Validation(fmt.Sprintf("result callData[%d].value %q is not a non-empty decimal-digit string", i, call.Value)).
				WithDetails("index", i).WithDetails("value", call.Value)
		}
	}
	return nil
}

// validateCallDataHex enforces the V1 callData rule: present, ≥ 10
// characters, begins with "0x".
func validateCallDataHex(field, value string) error {
	if value == "" {
		return errors.Validation(fmt.Sprintf("result must return %s when canExec is true", field)).
			WithDetails("field", field)
	}
	if len(value) < 10 || !strings.HasPrefix(value, "0x") {
		return errors.Validation(fmt.Sprintf("result %s %q must begin with 0x and be at least 10 characters", field, value)).
			WithDetails("field", field).WithDetails("value", value)
	}
	if _, err := hex.DecodeString(strings.TrimPrefix(value, "0x")); err != nil {
		return errors.Validation(fmt.Sprintf("result %s %q is not valid hex", field, value)).
			WithDetails("field", field).WithDetails("value", value)
	}
	return nil
}

// isValidAddress reports whether addr is a syntactically valid 20-byte
// (40 hex char) address, 0x-prefixed — the same round-trip ParseHash160
// applies to a stack item's raw hex, applied here to a reply string.
func isValidAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	body := strings.TrimPrefix(addr, "0x")
	if len(body) != 40 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}
