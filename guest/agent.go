// Package guest is the in-sandbox agent: it boots a protocol server,
// evaluates the untrusted script once under goja, invokes whichever
// handler the script registered, and replies with the computed result
// and storage delta.
//
// The goja setup — vm.Interrupt-driven timeout, injected globals,
// console.log capture into a logs buffer, entry-point invocation, and
// export-to-map result conversion — is adapted directly from
// services/confidential/marble/core.go's executeScript, generalized from
// that function's fixed entry-point-name contract to the spec's
// register-then-invoke Web3Function.onRun/onEvent handler model.
package guest

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dop251/goja"

	"github.com/R3E-Network/w3f-runner/internal/errors"
	"github.com/R3E-Network/w3f-runner/internal/protocol"
	"github.com/R3E-Network/w3f-runner/types"
)

// MaxScriptSize bounds the untrusted script source, mirroring core.go's
// own script-size guard.
const MaxScriptSize = 1 << 20 // 1 MiB

// Agent is the guest's single-shot event loop.
type Agent struct {
	version types.Version
	showLogs bool

	vm         *goja.Runtime
	onRun      goja.Callable
	onEvent    goja.Callable
	logs       []string
}

// New evaluates script under a fresh goja runtime, registering whichever
// of Web3Function.onRun / Web3Function.onEvent the script calls. It does
// not invoke either handler yet — that happens once per run, on receipt
// of the start message.
func New(script string, version types.Version, showLogs bool) (*Agent, error) {
	if len(script) > MaxScriptSize {
		return nil, fmt.Errorf("guest: script exceeds maximum size of %d bytes", MaxScriptSize)
	}

	a := &Agent{version: version, showLogs: showLogs, vm: goja.New()}

	web3Function := a.vm.NewObject()
	web3Function.Set("onRun", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(a.vm.NewTypeError("Web3Function.onRun requires a function argument"))
		}
		a.onRun = fn
		return goja.Undefined()
	})
	web3Function.Set("onEvent", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(a.vm.NewTypeError("Web3Function.onEvent requires a function argument"))
		}
		a.onEvent = fn
		return goja.Undefined()
	})
	if err := a.vm.Set("Web3Function", web3Function); err != nil {
		return nil, fmt.Errorf("guest: set Web3Function global: %w", err)
	}

	console := a.vm.NewObject()
	console.Set("log", a.consoleLog)
	console.Set("error", a.consoleLog)
	console.Set("warn", a.consoleLog)
	if err := a.vm.Set("console", console); err != nil {
		return nil, fmt.Errorf("guest: set console global: %w", err)
	}

	if _, err := a.vm.RunString(script); err != nil {
		return nil, fmt.Errorf("guest: script evaluation failed: %w", err)
	}

	if a.onRun == nil && a.onEvent == nil {
		return nil, errors.Registration("script must register exactly one of Web3Function.onRun or Web3Function.onEvent")
	}
	if a.onRun != nil && a.onEvent != nil {
		return nil, errors.Registration("script registered both Web3Function.onRun and Web3Function.onEvent")
	}

	return a, nil
}

func (a *Agent) consoleLog(call goja.FunctionCall) goja.Value {
	args := make([]any, len(call.Arguments))
	for i, arg := range call.Arguments {
		args[i] = arg.Export()
	}
	line := fmt.Sprint(args...)
	a.logs = append(a.logs, line)
	if a.showLogs {
		fmt.Fprintln(os.Stderr, line)
	}
	return goja.Undefined()
}

// Logs returns the buffered console output.
func (a *Agent) Logs() []string { return a.logs }

// flushLogs writes every captured console line to stdout once the run
// completes, regardless of showLogs — the sandbox variant (worker or
// container) always drains its child's stdout/stderr into its own logs
// buffer for the supervisor's report, per spec's "buffers silently for
// retrieval" even when showLogs live-echo to stderr is off.
func (a *Agent) flushLogs() {
	for _, line := range a.logs {
		fmt.Fprintln(os.Stdout, line)
	}
}

// Handle implements protocol.Handler: it runs the registered handler
// against the incoming context and assembles the output_event per spec
// §4.2(c)-(e).
func (a *Agent) Handle(ctx context.Context, in protocol.InputEvent) protocol.OutputEvent {
	defer a.flushLogs()

	facade := NewFacade(in.Data.Context)
	facadeObj := a.buildFacadeObject(facade, in.Data.Context.Log)

	handler := a.onRun
	if in.Data.Context.Log != nil {
		handler = a.onEvent
	}

	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			a.vm.Interrupt("execution timeout")
		case <-done:
		}
	}()
	defer close(done)

	result, err := a.invoke(handler, facadeObj)
	if err != nil {
		return protocol.OutputEvent{
			Action: protocol.ActionError,
			Data: protocol.OutputData{
				Error: &protocol.ErrorPayload{Name: errorName(err), Message: err.Error()},
				Storage: &types.StorageDelta{
					State:   types.StorageLast,
					Storage: facade.PreStorageSnapshot(),
					Diff:    map[string]*string{},
				},
			},
		}
	}

	diff := facade.Diff()
	return protocol.OutputEvent{
		Action: protocol.ActionResult,
		Data:   protocol.OutputData{Result: &result, Storage: &diff},
	}
}

// buildFacadeObject exposes a Facade to the script as a plain JS object:
// gelatoArgs (gasPrice as a decimal string the script can wrap in
// BigInt()), userArgs, secrets.get, storage.get/set/delete, and
// multiChainProvider.rpc.
func (a *Agent) buildFacadeObject(f *Facade, log *types.EventLog) *goja.Object {
	obj := a.vm.NewObject()

	gelatoArgs := a.vm.NewObject()
	gelatoArgs.Set("chainId", f.GelatoArgs.ChainID)
	gelatoArgs.Set("taskId", f.GelatoArgs.TaskID)
	if f.GelatoArgs.GasPrice != nil {
		gelatoArgs.Set("gasPrice", f.GelatoArgs.GasPrice.String())
	}
	if f.GelatoArgs.BlockTime != nil {
		gelatoArgs.Set("blockTime", *f.GelatoArgs.BlockTime)
	}
	obj.Set("gelatoArgs", gelatoArgs)

	obj.Set("userArgs", f.UserArgs)

	secrets := a.vm.NewObject()
	secrets.Set("get", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if v, ok := f.SecretsGet(key); ok {
			return a.vm.ToValue(v)
		}
		return goja.Undefined()
	})
	obj.Set("secrets", secrets)

	storage := a.vm.NewObject()
	storage.Set("get", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if v, ok := f.StorageGet(key); ok {
			return a.vm.ToValue(v)
		}
		return goja.Undefined()
	})
	storage.Set("set", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if err := f.StorageSet(key, call.Argument(1).Export()); err != nil {
			panic(a.vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	storage.Set("delete", func(call goja.FunctionCall) goja.Value {
		f.StorageDelete(call.Argument(0).String())
		return goja.Undefined()
	})
	obj.Set("storage", storage)

	multiChainProvider := a.vm.NewObject()
	multiChainProvider.Set("rpc", func(call goja.FunctionCall) goja.Value {
		method := call.Argument(0).String()
		params := call.Argument(1).Export()
		body, err := marshalRPCRequest(method, params)
		if err != nil {
			panic(a.vm.NewGoError(err))
		}
		resp, err := f.RPCCall(strconv.FormatInt(f.GelatoArgs.ChainID, 10), body)
		if err != nil {
			panic(a.vm.NewGoError(err))
		}
		return a.vm.ToValue(string(resp))
	})
	obj.Set("multiChainProvider", multiChainProvider)

	if log != nil {
		logObj := a.vm.NewObject()
		logObj.Set("blockNumber", log.BlockNumber)
		logObj.Set("txHash", log.TxHash)
		logObj.Set("data", log.Data)
		obj.Set("log", logObj)
	}

	return obj
}

func (a *Agent) invoke(handler goja.Callable, facadeObj *goja.Object) (result types.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	value, callErr := handler(goja.Undefined(), facadeObj)
	if callErr != nil {
		return types.Result{}, callErr
	}

	exported := value.Export()
	m, ok := exported.(map[string]any)
	if !ok {
		return types.Result{}, fmt.Errorf("handler must return an object with canExec and callData")
	}

	result.Version = a.version
	if canExec, ok := m["canExec"].(bool); ok {
		result.CanExec = canExec
	}
	switch a.version {
	case types.V2:
		result.CallDataV2 = parseCallDataV2(m["callData"])
	default:
		if s, ok := m["callData"].(string); ok {
			result.CallDataV1 = s
		}
	}
	return result, nil
}

func parseCallDataV2(v any) []types.CallV2 {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	calls := make([]types.CallV2, 0, len(arr))
	for _, entry := range arr {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		call := types.CallV2{}
		if s, ok := m["to"].(string); ok {
			call.To = s
		}
		if s, ok := m["data"].(string); ok {
			call.Data = s
		}
		switch v := m["value"].(type) {
		case string:
			call.Value = v
		case float64:
			call.Value = strconv.FormatInt(int64(v), 10)
		}
		calls = append(calls, call)
	}
	return calls
}

func errorName(err error) string {
	if gojaErr, ok := err.(*goja.Exception); ok {
		return fmt.Sprintf("%T", gojaErr.Value())
	}
	return "Error"
}
