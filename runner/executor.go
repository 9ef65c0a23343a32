// FunctionExecutor is the seam an external caller's dispatch layer plugs
// into, shaped after internal/app/services/functions/service.go's
// FunctionExecutor interface and the FunctionRunner adapter-func pattern
// internal/app/services/automation/function_dispatcher.go uses to hand
// jobs to a runner without depending on its concrete type. Bundle
// fetching, wallet auth, and CLI ergonomics around *how* a Definition is
// produced are out of this runtime's scope (spec.md's Non-goals) — this
// file only defines the boundary a caller crosses to get one supervised
// execution.
package runner

import (
	"context"

	"github.com/R3E-Network/w3f-runner/types"
)

// Definition names the script and its declared options for one execution.
// An external dispatcher is expected to have already resolved the script
// bundle to a local path and validated user args against the schema
// before calling Execute.
type Definition struct {
	ScriptPath string
	Schema     types.UserArgsSchema
	Options    types.RunnerOptions
	Providers  types.MultiChainProviderConfig
}

// FunctionExecutor is implemented by Supervisor. A dispatcher holding this
// interface never needs to know about ports, proxies, or sandboxes.
type FunctionExecutor interface {
	Execute(ctx context.Context, def Definition, invocation types.ContextData, version types.Version) (*types.ExecutionReport, error)
}

// FunctionRunner adapts a plain function into a FunctionExecutor, mirroring
// automation/function_dispatcher.go's adapter-func pattern for wiring a
// runner into test harnesses without a full Supervisor.
type FunctionRunner func(ctx context.Context, def Definition, invocation types.ContextData, version types.Version) (*types.ExecutionReport, error)

func (f FunctionRunner) Execute(ctx context.Context, def Definition, invocation types.ContextData, version types.Version) (*types.ExecutionReport, error) {
	return f(ctx, def, invocation, version)
}

// Execute implements FunctionExecutor by running the payload assembled
// from def and invocation through the supervisor's Run.
func (s *Supervisor) Execute(ctx context.Context, def Definition, invocation types.ContextData, version types.Version) (*types.ExecutionReport, error) {
	payload := types.Payload{
		ScriptPath: def.ScriptPath,
		Version:    version,
		Context:    invocation,
		Schema:     def.Schema,
		Providers:  def.Providers,
		Options:    def.Options,
	}
	return s.Run(ctx, payload)
}

var _ FunctionExecutor = (*Supervisor)(nil)
var _ FunctionExecutor = FunctionRunner(nil)
