package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	internalerrors "github.com/R3E-Network/w3f-runner/internal/errors"
	"github.com/R3E-Network/w3f-runner/internal/protocol"
	"github.com/R3E-Network/w3f-runner/internal/sandbox"
	"github.com/R3E-Network/w3f-runner/types"
)

func TestInterpretExit_SilentExitIsFatal(t *testing.T) {
	o := interpretExit(sandbox.ExitSignal{Code: 0}, types.RuntimeThread)
	if o.err == nil || o.err.Kind != internalerrors.KindRuntime {
		t.Fatalf("expected a runtime error for a silent exit, got %+v", o)
	}
}

func TestInterpretExit_OOMKilledIsMemoryThrottle(t *testing.T) {
	o := interpretExit(sandbox.ExitSignal{Code: 1, OOMKilled: true}, types.RuntimeThread)
	if o.err == nil || o.err.Kind != internalerrors.KindThrottle || o.err.Throttle != internalerrors.ThrottleMemory {
		t.Fatalf("expected a memory throttle error, got %+v", o)
	}
}

func TestInterpretExit_ContainerExit137IsMemoryThrottle(t *testing.T) {
	o := interpretExit(sandbox.ExitSignal{Code: 137}, types.RuntimeContainer)
	if o.err == nil || o.err.Throttle != internalerrors.ThrottleMemory {
		t.Fatalf("expected a memory throttle error for container exit 137, got %+v", o)
	}
}

func TestInterpretExit_ThreadExit137IsNotSpecialCased(t *testing.T) {
	o := interpretExit(sandbox.ExitSignal{Code: 137}, types.RuntimeThread)
	if o.err == nil || o.err.Kind != internalerrors.KindRuntime {
		t.Fatalf("expected a plain runtime error for a thread-runtime exit 137 without OOMKilled, got %+v", o)
	}
}

func TestInterpretExit_250IsRPCThrottle(t *testing.T) {
	o := interpretExit(sandbox.ExitSignal{Code: 250}, types.RuntimeThread)
	if o.err == nil || o.err.Throttle != internalerrors.ThrottleRPCRequest {
		t.Fatalf("expected an rpcRequest throttle error, got %+v", o)
	}
}

func TestInterpretExit_OtherCodeIsGenericFailure(t *testing.T) {
	o := interpretExit(sandbox.ExitSignal{Code: 7}, types.RuntimeThread)
	if o.err == nil || o.err.Kind != internalerrors.KindRuntime {
		t.Fatalf("expected a generic runtime error, got %+v", o)
	}
}

func TestInterpretReply_Result(t *testing.T) {
	out := protocol.OutputEvent{
		Action: protocol.ActionResult,
		Data:   protocol.OutputData{Result: &types.Result{CanExec: true}},
	}
	o := interpretReply(out, nil)
	if o.err != nil || o.result == nil || !o.result.CanExec {
		t.Fatalf("expected a clean result outcome, got %+v", o)
	}
}

func TestInterpretReply_GuestError(t *testing.T) {
	out := protocol.OutputEvent{
		Action: protocol.ActionError,
		Data: protocol.OutputData{
			Error:   &protocol.ErrorPayload{Name: "TypeError", Message: "boom"},
			Storage: &types.StorageDelta{},
		},
	}
	o := interpretReply(out, nil)
	if o.err == nil || o.err.Kind != internalerrors.KindRuntime {
		t.Fatalf("expected a runtime error carrying the guest's message, got %+v", o)
	}
	if o.storage == nil {
		t.Fatal("expected the storage delta to survive an error outcome")
	}
}

func TestInterpretReply_UnrecognizedAction(t *testing.T) {
	o := interpretReply(protocol.OutputEvent{Action: "bogus"}, nil)
	if o.err == nil {
		t.Fatal("expected an error for an unrecognized action")
	}
}

func TestInterpretReply_DeadlineExceededBecomesDurationThrottle(t *testing.T) {
	o := interpretReply(protocol.OutputEvent{}, context.DeadlineExceeded)
	if o.err == nil || o.err.Kind != internalerrors.KindThrottle || o.err.Throttle != internalerrors.ThrottleDuration {
		t.Fatalf("expected a duration throttle error, got %+v", o)
	}
}

func TestInterpretReply_WrappedDeadlineExceeded(t *testing.T) {
	wrapped := fmt.Errorf("protocol: request failed: %w", context.DeadlineExceeded)
	o := interpretReply(protocol.OutputEvent{}, wrapped)
	if o.err == nil || o.err.Throttle != internalerrors.ThrottleDuration {
		t.Fatalf("expected the wrapped deadline-exceeded to still be recognized, got %+v", o)
	}
}

func TestInterpretReply_OtherErrorIsGenericRuntime(t *testing.T) {
	o := interpretReply(protocol.OutputEvent{}, errors.New("connection reset"))
	if o.err == nil || o.err.Kind != internalerrors.KindRuntime || o.err.Throttle != "" {
		t.Fatalf("expected a plain runtime error, got %+v", o)
	}
}

func TestPeakTracker_RecordsRunningMaximum(t *testing.T) {
	p := &peakTracker{}
	p.Record(100)
	p.Record(50)
	p.Record(300)
	p.Record(10)
	if got := p.Value(); got != 300 {
		t.Fatalf("expected running max 300, got %d", got)
	}
}

func TestPeakTracker_ConcurrentRecordsAreSafe(t *testing.T) {
	p := &peakTracker{}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			p.Record(v)
		}(int64(i))
	}
	wg.Wait()
	if got := p.Value(); got != 99 {
		t.Fatalf("expected running max 99, got %d", got)
	}
}

func TestFuncComponent_ShutdownInvokesFn(t *testing.T) {
	called := false
	c := funcComponent{name: "thing", fn: func() error { called = true; return nil }}
	if c.Name() != "thing" {
		t.Fatalf("expected name %q, got %q", "thing", c.Name())
	}
	if err := c.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected the shutdown function to be invoked")
	}
}

func TestValidateOutcome_InvalidResultBecomesFailure(t *testing.T) {
	o := outcome{result: &types.Result{CanExec: true}} // no callData
	got := validateOutcome(types.V1, o)

	if got.result != nil {
		t.Fatalf("expected the invalid result to be dropped, got %+v", got.result)
	}
	if got.err == nil || got.err.Kind != internalerrors.KindValidation {
		t.Fatalf("expected a validation error, got %+v", got.err)
	}
	if !strings.Contains(got.err.Error(), "must return") {
		t.Fatalf("expected the error message to mention the missing callData, got %q", got.err.Error())
	}
}

func TestValidateOutcome_ValidResultPassesThrough(t *testing.T) {
	o := outcome{result: &types.Result{CanExec: true, CallDataV1: "0xdeadbeef"}}
	got := validateOutcome(types.V1, o)
	if got.err != nil {
		t.Fatalf("unexpected error: %v", got.err)
	}
	if got.result == nil {
		t.Fatal("expected the valid result to survive")
	}
}

func TestValidateOutcome_ExistingErrorIsUntouched(t *testing.T) {
	o := outcome{err: internalerrors.Runtime("guest exited with code 1", nil)}
	got := validateOutcome(types.V1, o)
	if got.err != o.err {
		t.Fatalf("expected the existing error to pass through unchanged, got %+v", got.err)
	}
}

func TestValidateOutcome_NoResultNoErrorPassesThrough(t *testing.T) {
	got := validateOutcome(types.V1, outcome{})
	if got.err != nil || got.result != nil {
		t.Fatalf("expected an empty outcome to remain empty, got %+v", got)
	}
}

func TestSupervisor_SetHooksStoresThem(t *testing.T) {
	s := NewSupervisor(nil, nil)
	called := false
	s.SetHooks(LifecycleHooks{OnBeforeStart: func(state ServiceState) {
		called = true
		if state != StateStarting {
			t.Fatalf("expected StateStarting, got %v", state)
		}
	}})
	transition(s.hooks.OnBeforeStart, StateStarting)
	if !called {
		t.Fatal("expected the installed hook to be invoked")
	}
}

func TestTransition_NilHookIsNoop(t *testing.T) {
	transition(nil, StateRunning)
}

func TestIsDeadlineExceeded(t *testing.T) {
	if !isDeadlineExceeded(context.DeadlineExceeded) {
		t.Error("expected context.DeadlineExceeded to be recognized directly")
	}
	if !isDeadlineExceeded(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)) {
		t.Error("expected a wrapped context.DeadlineExceeded to be recognized")
	}
	if isDeadlineExceeded(errors.New("unrelated")) {
		t.Error("did not expect an unrelated error to be recognized as a deadline")
	}
}
