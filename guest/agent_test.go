package guest

import (
	"context"
	"testing"

	internalerrors "github.com/R3E-Network/w3f-runner/internal/errors"
	"github.com/R3E-Network/w3f-runner/internal/protocol"
	"github.com/R3E-Network/w3f-runner/types"
)

func TestAgent_S1_V2HappyPathStorageUpdated(t *testing.T) {
	script := `
Web3Function.onRun(function(ctx) {
	ctx.storage.set("k", "v");
	return {
		canExec: true,
		callData: [{to: "0x0000000000000000000000000000000000000001", data: "0xdeadbeef"}]
	};
});
`
	agent, err := New(script, types.V2, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out := agent.Handle(context.Background(), protocol.InputEvent{
		Action: protocol.ActionStart,
		Data:   protocol.InputData{Context: types.ContextData{Storage: map[string]string{}}},
	})

	if out.Action != protocol.ActionResult {
		t.Fatalf("Action = %s, want result", out.Action)
	}
	if !out.Data.Result.CanExec {
		t.Error("CanExec = false, want true")
	}
	if len(out.Data.Result.CallDataV2) != 1 || out.Data.Result.CallDataV2[0].Data != "0xdeadbeef" {
		t.Errorf("CallDataV2 = %+v", out.Data.Result.CallDataV2)
	}
	if out.Data.Storage.State != types.StorageUpdated {
		t.Errorf("Storage.State = %s, want updated", out.Data.Storage.State)
	}
	if out.Data.Storage.Diff["k"] == nil || *out.Data.Storage.Diff["k"] != "v" {
		t.Errorf("Storage.Diff[k] = %v, want v", out.Data.Storage.Diff["k"])
	}
}

func TestAgent_S2_V1HappyPathNoStorageChange(t *testing.T) {
	script := `
Web3Function.onRun(function(ctx) {
	return {canExec: false, callData: "0x"};
});
`
	agent, err := New(script, types.V1, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out := agent.Handle(context.Background(), protocol.InputEvent{
		Data: protocol.InputData{Context: types.ContextData{Storage: map[string]string{}}},
	})

	if out.Data.Result.CanExec {
		t.Error("CanExec = true, want false")
	}
	if out.Data.Storage.State != types.StorageLast {
		t.Errorf("Storage.State = %s, want last", out.Data.Storage.State)
	}
	if len(out.Data.Storage.Diff) != 0 {
		t.Errorf("Storage.Diff = %v, want empty", out.Data.Storage.Diff)
	}
}

func TestAgent_ThrownErrorReportsPreStorage(t *testing.T) {
	script := `
Web3Function.onRun(function(ctx) {
	throw new Error("boom");
});
`
	agent, err := New(script, types.V1, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out := agent.Handle(context.Background(), protocol.InputEvent{
		Data: protocol.InputData{Context: types.ContextData{Storage: map[string]string{"pre": "existing"}}},
	})

	if out.Action != protocol.ActionError {
		t.Fatalf("Action = %s, want error", out.Action)
	}
	if out.Data.Error == nil || out.Data.Error.Message == "" {
		t.Error("Error payload missing message")
	}
	if out.Data.Storage.State != types.StorageLast {
		t.Errorf("Storage.State = %s, want last", out.Data.Storage.State)
	}
	if out.Data.Storage.Storage["pre"] != "existing" {
		t.Errorf("Storage.Storage[pre] = %v, want existing", out.Data.Storage.Storage["pre"])
	}
}

func TestNew_RejectsScriptWithNoHandler(t *testing.T) {
	_, err := New(`var x = 1;`, types.V1, false)
	if err == nil {
		t.Fatal("New() should error when no handler is registered")
	}
	if se := internalerrors.GetServiceError(err); se.Kind != internalerrors.KindRegistration {
		t.Errorf("Kind = %v, want %v", se.Kind, internalerrors.KindRegistration)
	}
}

func TestNew_RejectsScriptWithBothHandlers(t *testing.T) {
	script := `
Web3Function.onRun(function(ctx) { return {canExec: false}; });
Web3Function.onEvent(function(ctx) { return {canExec: false}; });
`
	_, err := New(script, types.V1, false)
	if err == nil {
		t.Fatal("New() should error when both handlers are registered")
	}
	if se := internalerrors.GetServiceError(err); se.Kind != internalerrors.KindRegistration {
		t.Errorf("Kind = %v, want %v", se.Kind, internalerrors.KindRegistration)
	}
}

func TestAgent_ConsoleLogCaptured(t *testing.T) {
	script := `
Web3Function.onRun(function(ctx) {
	console.log("hello", 42);
	return {canExec: false};
});
`
	agent, err := New(script, types.V1, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	agent.Handle(context.Background(), protocol.InputEvent{
		Data: protocol.InputData{Context: types.ContextData{Storage: map[string]string{}}},
	})

	if len(agent.Logs()) != 1 || agent.Logs()[0] != "hello42" {
		t.Errorf("Logs() = %v, want [\"hello42\"]", agent.Logs())
	}
}
