// Package runner implements the C7 Runner Supervisor: the orchestrator
// that acquires ports, starts the egress/RPC proxies and the sandbox,
// drives exactly one protocol exchange with the guest, and assembles the
// execution report.
//
// Structurally this follows services/base/service.go's BaseService
// lifecycle shape (Start/Stop, LifecycleHooks, a Component interface for
// sub-resources), generalized from a long-lived service to a one-shot
// per-run orchestrator — see lifecycle.go.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/w3f-runner/internal/errors"
	"github.com/R3E-Network/w3f-runner/internal/logging"
	"github.com/R3E-Network/w3f-runner/internal/metrics"
	"github.com/R3E-Network/w3f-runner/internal/netproxy"
	"github.com/R3E-Network/w3f-runner/internal/portalloc"
	"github.com/R3E-Network/w3f-runner/internal/protocol"
	"github.com/R3E-Network/w3f-runner/internal/rpcproxy"
	"github.com/R3E-Network/w3f-runner/internal/sandbox"
	"github.com/R3E-Network/w3f-runner/internal/validators"
	"github.com/R3E-Network/w3f-runner/types"
)

// connectBudget is the start-up budget step 8 of the run contract grants
// the guest to begin accepting connections.
const connectBudget = 5 * time.Second

// exitGrace absorbs the race between the guest's single protocol reply
// and its subsequent process exit (step 10.iv).
const exitGrace = 100 * time.Millisecond

// memorySampleInterval is the periodic memory sampler's tick (step 7).
const memorySampleInterval = 100 * time.Millisecond

// Supervisor runs one supervised script execution per call to Run. It
// holds no per-run state between calls — everything scoped to a run
// lives in Run's local variables.
type Supervisor struct {
	log     *logging.Logger
	metrics *metrics.Recorder
	ports   *portalloc.Allocator
	hooks   LifecycleHooks
}

// NewSupervisor constructs a Supervisor. metrics may be nil to disable
// the optional Prometheus surface.
func NewSupervisor(log *logging.Logger, m *metrics.Recorder) *Supervisor {
	if log == nil {
		log = logging.New("runner")
	}
	return &Supervisor{log: log, metrics: m, ports: portalloc.New(0)}
}

// SetHooks installs LifecycleHooks applied to every subsequent Run call,
// mirroring services/base/service.go's SetHooks.
func (s *Supervisor) SetHooks(hooks LifecycleHooks) {
	s.hooks = hooks
}

// Run executes one supervised run for payload (ports, both proxies, the
// sandbox, the single protocol exchange, result validation) and returns
// the resulting ExecutionReport. It registers no process-exit hook: the
// deferred cleanup runs when Run returns, not when the supervisor process
// itself is terminated. A non-nil error return means no report was
// produced: a user-args schema violation, or a failure to acquire the
// ports or to start a proxy or the sandbox. From the dial to the guest
// onward, every outcome (including a guest that never accepts the
// protocol connection) folds into a report instead of an error.
func (s *Supervisor) Run(ctx context.Context, payload types.Payload) (*types.ExecutionReport, error) {
	if len(payload.Schema) > 0 {
		if err := validators.ValidateUserArgs(payload.Schema, payload.Context.UserArgs); err != nil {
			return nil, err
		}
	}

	opts := payload.Options
	runLog := s.log.WithField("run_id", uuid.NewString())

	transition(s.hooks.OnBeforeStart, StateStarting)

	ports, err := s.ports.PickN(3)
	if err != nil {
		return nil, fmt.Errorf("runner: acquire ports: %w", err)
	}
	protocolPort, proxyPort, rpcPort := ports[0], ports[1], ports[2]

	var components []Component
	defer func() {
		transition(s.hooks.OnBeforeStop, StateStopping)
		runLog.Info("runner: stop")
		shutdownAll(runLog, components)
		transition(s.hooks.OnAfterStop, StateStopped)
	}()

	egress := netproxy.New(netproxy.Options{
		RequestLimit:     opts.RequestLimit,
		DownloadLimit:    opts.DownloadLimit,
		UploadLimit:      opts.UploadLimit,
		BlacklistedHosts: opts.BlacklistedHosts,
	}, runLog.WithField("component", "netproxy"))

	proxyPort.Release()
	if err := egress.Start(proxyPort.Number); err != nil {
		return nil, fmt.Errorf("runner: start egress proxy: %w", err)
	}
	components = append(components, funcComponent{"netproxy", func() error { egress.Stop(); return nil }})

	proxyHost := "127.0.0.1"
	if opts.Runtime == types.RuntimeContainer {
		proxyHost = "host.docker.internal"
	}

	mountPath := uuid.NewString()
	variant, err := sandbox.New(opts.Runtime)
	if err != nil {
		return nil, err
	}

	protocolPort.Release()
	sandboxCtx, cancelSandbox := context.WithCancel(context.Background())
	components = append(components, funcComponent{"sandbox", func() error { cancelSandbox(); return variant.Stop() }})

	if err := variant.Start(sandboxCtx, sandbox.StartOptions{
		ScriptPath:       payload.ScriptPath,
		Version:          payload.Version,
		ServerPort:       protocolPort.Number,
		MountPath:        mountPath,
		ProxyHost:        proxyHost,
		ProxyPort:        proxyPort.Number,
		BlacklistedHosts: opts.BlacklistedHosts,
		MemoryLimit:      opts.Memory,
		ShowLogs:         opts.ShowLogs,
	}); err != nil {
		return nil, fmt.Errorf("runner: start sandbox: %w", err)
	}

	rpcProxy := rpcproxy.New(rpcproxy.Options{
		Providers: payload.Providers,
		Primary:   fmt.Sprintf("%d", payload.Context.GelatoArgs.ChainID),
		RPCLimit:  opts.RPCLimit,
	}, runLog.WithField("component", "rpcproxy"))

	rpcPort.Release()
	if err := rpcProxy.Start(rpcPort.Number); err != nil {
		return nil, fmt.Errorf("runner: start rpc proxy: %w", err)
	}
	components = append(components, funcComponent{"rpcproxy", func() error { rpcProxy.Stop(); return nil }})

	invocation := payload.Context
	invocation.RPCProviderURL = fmt.Sprintf("http://127.0.0.1:%d/", rpcPort.Number)
	if payload.Version == types.V1 {
		now := time.Now().Unix()
		invocation.GelatoArgs.BlockTime = &now
	}

	peak := &peakTracker{}
	memDone := make(chan struct{})
	go s.sampleMemory(variant, peak, memDone)
	defer close(memDone)

	start := time.Now()

	runCtx := ctx
	var cancelTimeout context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, opts.Timeout)
		defer cancelTimeout()
	}

	var o outcome
	client, err := protocol.Dial(runCtx, "127.0.0.1", protocolPort.Number, mountPath, connectBudget)
	if err != nil {
		o = interpretReply(protocol.OutputEvent{}, err)
	} else {
		transition(s.hooks.OnAfterStart, StateRunning)
		o = s.race(runCtx, client, variant, invocation, opts)
	}
	o = validateOutcome(payload.Version, o)
	duration := time.Since(start).Seconds()

	peakSpent := peak.Value()
	peakMemoryMB := float64(peakSpent) / (1024 * 1024)
	if opts.Memory > 0 && peakSpent >= opts.Memory {
		if o.err == nil || o.err.Kind != errors.KindThrottle {
			o.err = errors.Throttle(errors.ThrottleMemory, "guest process exceeded the configured memory limit")
		}
	}

	if len(o.logs) == 0 {
		o.logs = variant.GetLogs()
	}

	downloadThrottled, uploadThrottled := egress.ByteBudgetsThrottled()
	net := netMeasurements{
		stats:             egress.Stats(),
		downloadThrottled: downloadThrottled,
		uploadThrottled:   uploadThrottled,
	}

	report := buildReport(payload.Version, o, duration, peakMemoryMB, net, rpcProxy.Counters(), opts.StorageLimitKB)

	if s.metrics != nil {
		s.metrics.ObserveRun(report.Success, duration, peakMemoryMB)
		s.metrics.ObserveRPC(report.RPCCalls.Total, report.RPCCalls.Throttled)
		s.metrics.ObserveNetwork(report.Network.NBRequests, report.Network.NBThrottled)
		for reason, hit := range map[string]bool{
			"duration": report.Throttled.Duration, "memory": report.Throttled.Memory,
			"rpcRequest": report.Throttled.RPCRequest, "networkRequest": report.Throttled.NetworkRequest,
			"download": report.Throttled.Download, "upload": report.Throttled.Upload,
			"storage": report.Throttled.Storage,
		} {
			if hit {
				s.metrics.ObserveThrottle(reason)
			}
		}
	}

	return &report, nil
}

// race implements step 10: the guest's single protocol reply races its
// own process exit, with a grace window to absorb the reply-then-exit
// ordering a well-behaved guest always produces.
func (s *Supervisor) race(ctx context.Context, client *protocol.Client, variant sandbox.Variant, invocation types.ContextData, opts types.RunnerOptions) outcome {
	type reply struct {
		out protocol.OutputEvent
		err error
	}
	replyCh := make(chan reply, 1)
	go func() {
		out, err := client.Start(ctx, invocation)
		replyCh <- reply{out, err}
	}()

	exitCh := make(chan sandbox.ExitSignal, 1)
	exitErrCh := make(chan error, 1)
	go func() {
		sig, err := variant.WaitForProcessEnd(context.Background())
		if err != nil {
			exitErrCh <- err
			return
		}
		exitCh <- sig
	}()

	select {
	case r := <-replyCh:
		return interpretReply(r.out, r.err)
	case sig := <-exitCh:
		select {
		case r := <-replyCh:
			return interpretReply(r.out, r.err)
		case <-time.After(exitGrace):
			return interpretExit(sig, opts.Runtime)
		}
	case err := <-exitErrCh:
		return outcome{err: errors.Runtime("sandbox process wait failed", err)}
	}
}

func interpretReply(out protocol.OutputEvent, err error) outcome {
	if err != nil {
		if err == context.DeadlineExceeded || isDeadlineExceeded(err) {
			return outcome{err: errors.Throttle(errors.ThrottleDuration, "guest handler exceeded the configured timeout")}
		}
		return outcome{err: errors.Runtime("protocol exchange with guest failed", err)}
	}

	switch out.Action {
	case protocol.ActionResult:
		return outcome{result: out.Data.Result, storage: out.Data.Storage}
	case protocol.ActionError:
		msg := "guest reported an error"
		if out.Data.Error != nil {
			msg = fmt.Sprintf("%s: %s", out.Data.Error.Name, out.Data.Error.Message)
		}
		return outcome{storage: out.Data.Storage, err: errors.Runtime(msg, nil)}
	default:
		return outcome{err: errors.Runtime(fmt.Sprintf("guest sent unrecognized action %q", out.Action), nil)}
	}
}

// isDeadlineExceeded reports whether err is (or wraps) a context deadline
// exceeded error, the shape protocol.Client.Start surfaces when runCtx's
// timeout fires mid-request.
func isDeadlineExceeded(err error) bool {
	type deadliner interface{ Timeout() bool }
	if d, ok := err.(deadliner); ok {
		return d.Timeout()
	}
	for u := err; u != nil; {
		unwrapper, ok := u.(interface{ Unwrap() error })
		if !ok {
			break
		}
		u = unwrapper.Unwrap()
		if u == context.DeadlineExceeded {
			return true
		}
	}
	return false
}

// interpretExit applies the exit-code table (spec §6/§7) when the sandbox
// process ends without the guest ever producing a result.
func interpretExit(sig sandbox.ExitSignal, runtime types.Runtime) outcome {
	switch {
	case sig.Code == 0:
		return outcome{err: errors.Runtime("guest exited silently without producing a result", nil)}
	case sig.OOMKilled || (runtime == types.RuntimeContainer && sig.Code == 137):
		return outcome{err: errors.Throttle(errors.ThrottleMemory, "guest process was OOM-killed")}
	case sig.Code == 250:
		return outcome{err: errors.Throttle(errors.ThrottleRPCRequest, "rpc proxy rejected a call over the configured limit")}
	default:
		return outcome{err: errors.Runtime(fmt.Sprintf("guest exited with code %d", sig.Code), nil)}
	}
}

// validateOutcome runs the result validator (spec §4.6) over a
// successful outcome's result and folds a validation failure into a
// failure outcome, dropping the invalid result. Only reached when the
// guest actually produced a result — an outcome that already carries an
// error (throttle, protocol failure, non-result action) passes through
// untouched.
func validateOutcome(version types.Version, o outcome) outcome {
	if o.err != nil || o.result == nil {
		return o
	}
	if err := validators.ValidateResult(version, *o.result); err != nil {
		o.result = nil
		o.err = errors.GetServiceError(err)
	}
	return o
}

// peakTracker is a mutex-guarded running maximum, used to record the
// sandbox's peak sampled memory over a run without reusing quota's
// spend-once-and-stay-throttled ByteBudget for a concern it wasn't
// shaped for.
type peakTracker struct {
	mu  sync.Mutex
	max int64
}

func (p *peakTracker) Record(v int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v > p.max {
		p.max = v
	}
}

func (p *peakTracker) Value() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

// sampleMemory polls the sandbox's RSS every memorySampleInterval and
// records the running maximum (spec §4.1 step 7 and §9's
// documented-not-fixed sub-interval OOM gap).
func (s *Supervisor) sampleMemory(variant sandbox.Variant, peak *peakTracker, done <-chan struct{}) {
	ticker := time.NewTicker(memorySampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			usage, err := variant.GetMemoryUsage()
			if err != nil {
				continue
			}
			peak.Record(usage)
		}
	}
}

// funcComponent adapts a cleanup closure to the Component interface.
type funcComponent struct {
	name string
	fn   func() error
}

func (f funcComponent) Name() string   { return f.name }
func (f funcComponent) Shutdown() error { return f.fn() }
