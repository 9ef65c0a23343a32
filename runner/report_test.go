package runner

import (
	"strings"
	"testing"

	"github.com/R3E-Network/w3f-runner/internal/errors"
	"github.com/R3E-Network/w3f-runner/internal/rpcproxy"
	"github.com/R3E-Network/w3f-runner/types"
)

func TestBuildReport_Success(t *testing.T) {
	o := outcome{
		result: &types.Result{Version: types.V2, CanExec: true},
		storage: &types.StorageDelta{
			State:   types.StorageUpdated,
			Storage: map[string]string{"k": "v"},
			Diff:    map[string]*string{"k": strPtr("v")},
		},
		logs: []string{"hello"},
	}
	net := netMeasurements{stats: types.NetworkCounters{NBRequests: 3}}
	report := buildReport(types.V2, o, 1.5, 12.0, net, rpcproxy.Counters{Total: 2}, 1024)

	if !report.Success {
		t.Fatalf("expected success, got error %q", report.Error)
	}
	if report.Result == nil || !report.Result.CanExec {
		t.Fatalf("expected result to carry through, got %+v", report.Result)
	}
	if report.Throttled.Any() {
		t.Fatalf("expected no throttle flags, got %+v", report.Throttled)
	}
	if report.StorageKB <= 0 {
		t.Fatalf("expected non-zero storage size, got %v", report.StorageKB)
	}
}

func TestBuildReport_NilLogsBecomeEmptySlice(t *testing.T) {
	report := buildReport(types.V1, outcome{}, 0, 0, netMeasurements{}, rpcproxy.Counters{}, 0)
	if report.Logs == nil {
		t.Fatal("expected Logs to be an empty slice, not nil")
	}
	if len(report.Logs) != 0 {
		t.Fatalf("expected no logs, got %v", report.Logs)
	}
}

func TestBuildReport_ThrottleError(t *testing.T) {
	o := outcome{err: errors.Throttle(errors.ThrottleMemory, "guest process was OOM-killed")}
	report := buildReport(types.V1, o, 0.2, 300, netMeasurements{}, rpcproxy.Counters{}, 0)

	if report.Success {
		t.Fatal("expected failure")
	}
	if !report.Throttled.Memory {
		t.Fatalf("expected memory throttle flag set, got %+v", report.Throttled)
	}
	if report.Result != nil {
		t.Fatalf("expected no result on error, got %+v", report.Result)
	}
}

func TestBuildReport_RuntimeErrorLeavesThrottleFlagsUnset(t *testing.T) {
	o := outcome{err: errors.Runtime("guest exited with code 1", nil)}
	report := buildReport(types.V1, o, 0.1, 5, netMeasurements{}, rpcproxy.Counters{}, 0)

	if report.Success {
		t.Fatal("expected failure")
	}
	if report.Throttled.Any() {
		t.Fatalf("expected no throttle flags for a plain runtime error, got %+v", report.Throttled)
	}
}

func TestBuildReport_ByteBudgetAndRPCThrottleFlags(t *testing.T) {
	net := netMeasurements{
		stats:             types.NetworkCounters{NBRequests: 5, NBThrottled: 1},
		downloadThrottled: true,
	}
	report := buildReport(types.V1, outcome{result: &types.Result{}}, 1, 1, net, rpcproxy.Counters{Total: 4, Throttled: 2}, 0)

	if !report.Throttled.NetworkRequest {
		t.Error("expected networkRequest throttle flag")
	}
	if !report.Throttled.Download {
		t.Error("expected download throttle flag")
	}
	if report.Throttled.Upload {
		t.Error("did not expect upload throttle flag")
	}
	if !report.Throttled.RPCRequest {
		t.Error("expected rpcRequest throttle flag")
	}
}

func TestBuildReport_StorageOverLimitThrottles(t *testing.T) {
	o := outcome{
		result: &types.Result{},
		storage: &types.StorageDelta{
			State:   types.StorageUpdated,
			Storage: map[string]string{"a": strings.Repeat("x", 2000)},
		},
	}
	report := buildReport(types.V1, o, 0, 0, netMeasurements{}, rpcproxy.Counters{}, 0 /* no limit configured */)
	if report.Throttled.Storage {
		t.Fatal("expected no storage throttle when no limit is configured")
	}

	report = buildReport(types.V1, o, 0, 0, netMeasurements{}, rpcproxy.Counters{}, 1)
	if !report.Throttled.Storage {
		t.Fatal("expected storage throttle once the serialized size exceeds a 1KB limit")
	}
}

func TestBuildReport_StorageOverLimitOnlyOnSuccessWithUpdatedState(t *testing.T) {
	// A guest error still carries its pre-run storage snapshot with
	// state "last" (see guest/agent.go) — that must never trip the
	// storage throttle even if it happens to be large.
	o := outcome{
		err: errors.Runtime("guest reported an error", nil),
		storage: &types.StorageDelta{
			State:   types.StorageLast,
			Storage: map[string]string{"a": strings.Repeat("x", 2000)},
		},
	}
	report := buildReport(types.V1, o, 0, 0, netMeasurements{}, rpcproxy.Counters{}, 1)
	if report.Throttled.Storage {
		t.Fatal("did not expect a storage throttle on a non-success, non-updated storage state")
	}
}

func strPtr(s string) *string { return &s }
