package runner

import (
	"context"
	"testing"

	"github.com/R3E-Network/w3f-runner/types"
)

func TestFunctionRunner_AdaptsPlainFunction(t *testing.T) {
	var gotDef Definition
	var gotVersion types.Version

	var executor FunctionExecutor = FunctionRunner(func(ctx context.Context, def Definition, invocation types.ContextData, version types.Version) (*types.ExecutionReport, error) {
		gotDef = def
		gotVersion = version
		return &types.ExecutionReport{Success: true, Version: version}, nil
	})

	def := Definition{ScriptPath: "/tmp/script.js", Options: types.DefaultRunnerOptions()}
	report, err := executor.Execute(context.Background(), def, types.ContextData{}, types.V2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Success {
		t.Fatal("expected the adapted function's report to come through untouched")
	}
	if gotDef.ScriptPath != def.ScriptPath {
		t.Fatalf("expected the definition to be passed through, got %+v", gotDef)
	}
	if gotVersion != types.V2 {
		t.Fatalf("expected version v2, got %v", gotVersion)
	}
}
