// Package sandbox hosts the two variants of the guest process behind one
// contract: start/stop/waitForProcessEnd/getMemoryUsage/getLogs.
//
// The dual-variant-behind-one-interface shape is grounded on
// tee/enclave/runtime.go's Mode (Simulation vs Hardware) selecting which
// concrete backend a single Enclave interface talks to — generalized
// here from a build-time simulation/hardware split to the spec's
// runtime-selected thread/container split. Neither variant execs the
// teacher's own marble binary; they both exec cmd/w3f-guest, the module's
// own guest entry point, built separately.
package sandbox

import (
	"context"
	"fmt"

	"github.com/R3E-Network/w3f-runner/types"
)

// ExitSignal reports how the guest process ended.
type ExitSignal struct {
	Code     int
	OOMKilled bool
}

// StartOptions configures one sandbox run, mirroring the variant-neutral
// argument list spec §4.5 gives both backends.
type StartOptions struct {
	ScriptPath       string
	Version          types.Version
	ServerPort       int
	MountPath        string
	ProxyHost        string
	ProxyPort        int
	BlacklistedHosts []string
	MemoryLimit      int64
	ShowLogs         bool
}

// Variant is the contract both the worker (thread) and container
// sandboxes implement.
type Variant interface {
	Start(ctx context.Context, opts StartOptions) error
	Stop() error
	WaitForProcessEnd(ctx context.Context) (ExitSignal, error)
	GetMemoryUsage() (int64, error)
	GetLogs() []string
}

// New constructs the Variant selected by runtime.
func New(runtime types.Runtime) (Variant, error) {
	switch runtime {
	case types.RuntimeContainer:
		return NewContainer(), nil
	case types.RuntimeThread, "":
		return NewWorker(), nil
	default:
		return nil, fmt.Errorf("sandbox: unknown runtime %q", runtime)
	}
}
