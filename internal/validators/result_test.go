package validators

import (
	"testing"

	"github.com/R3E-Network/w3f-runner/types"
)

func TestValidateResult_V1_OK(t *testing.T) {
	err := ValidateResult(types.V1, types.Result{CanExec: true, CallDataV1: "0xdeadbeef"})
	if err != nil {
		t.Fatalf("ValidateResult() error = %v", err)
	}
}

func TestValidateResult_V1_CanExecFalse_NoCallDataRequired(t *testing.T) {
	err := ValidateResult(types.V1, types.Result{CanExec: false})
	if err != nil {
		t.Fatalf("ValidateResult() error = %v, want nil for canExec=false", err)
	}
}

func TestValidateResult_V1_MissingCallData(t *testing.T) {
	err := ValidateResult(types.V1, types.Result{CanExec: true})
	if err == nil {
		t.Fatal("ValidateResult() should error when callData missing and canExec true")
	}
}

func TestValidateResult_V1_TooShort(t *testing.T) {
	err := ValidateResult(types.V1, types.Result{CanExec: true, CallDataV1: "0x1"})
	if err == nil {
		t.Fatal("ValidateResult() should error on callData shorter than 10 chars")
	}
}

func TestValidateResult_V2_OK(t *testing.T) {
	err := ValidateResult(types.V2, types.Result{
		CanExec: true,
		CallDataV2: []types.CallV2{
			{To: "0x0000000000000000000000000000000000000001", Data: "0xdeadbeef", Value: "100"},
		},
	})
	if err != nil {
		t.Fatalf("ValidateResult() error = %v", err)
	}
}

func TestValidateResult_V2_BadAddress(t *testing.T) {
	err := ValidateResult(types.V2, types.Result{
		CanExec:    true,
		CallDataV2: []types.CallV2{{To: "not-an-address", Data: "0xdeadbeef"}},
	})
	if err == nil {
		t.Fatal("ValidateResult() should error on malformed address")
	}
}

func TestValidateResult_V2_BadValue(t *testing.T) {
	err := ValidateResult(types.V2, types.Result{
		CanExec: true,
		CallDataV2: []types.CallV2{
			{To: "0x0000000000000000000000000000000000000001", Data: "0xdeadbeef", Value: "12.5"},
		},
	})
	if err == nil {
		t.Fatal("ValidateResult() should error on non-decimal value")
	}
}
