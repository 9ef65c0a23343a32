package runner

import (
	"encoding/json"

	"github.com/R3E-Network/w3f-runner/internal/errors"
	"github.com/R3E-Network/w3f-runner/internal/rpcproxy"
	"github.com/R3E-Network/w3f-runner/types"
)

// outcome is the internal shape the four-way event race (§4.1 step 10)
// resolves to, before it is folded into a types.ExecutionReport.
type outcome struct {
	result  *types.Result
	storage *types.StorageDelta
	logs    []string
	err     *errors.ServiceError
}

// netMeasurements carries the byte-budget throttle bits Stats() alone
// cannot express, alongside the aggregate counters.
type netMeasurements struct {
	stats             types.NetworkCounters
	downloadThrottled bool
	uploadThrottled   bool
}

// buildReport assembles the final ExecutionReport from the resolved
// outcome plus the per-run measurements the supervisor collected
// alongside it: elapsed duration, peak sampled memory, and the two
// proxies' counters. storageSizeKB is computed from the JSON-serialized
// size of the post-run storage map, per spec's storage.size ≈
// serialized-bytes/1024.
func buildReport(version types.Version, o outcome, durationSeconds, peakMemoryMB float64, net netMeasurements, rpc rpcproxy.Counters, storageLimitKB int64) types.ExecutionReport {
	report := types.ExecutionReport{
		Version:  version,
		Logs:     o.logs,
		Duration: durationSeconds,
		MemoryMB: peakMemoryMB,
		RPCCalls: types.RPCCounters(rpc),
		Network:  net.stats,
	}
	if report.Logs == nil {
		report.Logs = []string{}
	}

	if o.storage != nil {
		report.Storage = o.storage
		report.StorageKB = storageSizeKB(o.storage.Storage)
	}

	if net.stats.NBThrottled > 0 {
		report.Throttled.NetworkRequest = true
	}
	if net.downloadThrottled {
		report.Throttled.Download = true
	}
	if net.uploadThrottled {
		report.Throttled.Upload = true
	}
	if rpc.Throttled > 0 {
		report.Throttled.RPCRequest = true
	}
	if storageLimitKB > 0 && o.err == nil && o.storage != nil && o.storage.State == types.StorageUpdated && report.StorageKB > float64(storageLimitKB) {
		report.Throttled.Storage = true
	}

	if o.err != nil {
		report.Success = false
		report.Error = o.err.Error()
		if o.err.Kind == errors.KindThrottle {
			applyThrottle(&report.Throttled, o.err.Throttle)
		}
		return report
	}

	report.Success = true
	report.Result = o.result
	return report
}

func applyThrottle(t *types.ThrottleReasons, reason errors.ThrottleReason) {
	switch reason {
	case errors.ThrottleDuration:
		t.Duration = true
	case errors.ThrottleMemory:
		t.Memory = true
	case errors.ThrottleRPCRequest:
		t.RPCRequest = true
	case errors.ThrottleNetworkRequest:
		t.NetworkRequest = true
	case errors.ThrottleDownload:
		t.Download = true
	case errors.ThrottleUpload:
		t.Upload = true
	case errors.ThrottleStorage:
		t.Storage = true
	}
}

func storageSizeKB(storage map[string]string) float64 {
	if len(storage) == 0 {
		return 0
	}
	encoded, err := json.Marshal(storage)
	if err != nil {
		return 0
	}
	return float64(len(encoded)) / 1024
}
