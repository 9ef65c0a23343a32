// Lifecycle shapes for the runner supervisor, generalized from
// services/base/service.go's BaseService: a ServiceState machine, a
// Component interface for the sub-resources a run tears down (the
// proxies and the sandbox), and LifecycleHooks around the phase transitions. The
// teacher's version models a long-lived service that starts once and
// serves many requests; here the supervisor is a single-run orchestrator,
// so State moves through its machine exactly once per Run call instead of
// for the life of a process.
package runner

import "github.com/R3E-Network/w3f-runner/internal/logging"

// ServiceState mirrors services/base/service.go's state machine, narrowed
// to the phases a single run passes through.
type ServiceState string

const (
	StateIdle     ServiceState = "idle"
	StateStarting ServiceState = "starting"
	StateRunning  ServiceState = "running"
	StateStopping ServiceState = "stopping"
	StateStopped  ServiceState = "stopped"
)

// Component is a per-run sub-resource the supervisor is responsible for
// tearing down: a proxy or the sandbox. (Allocated ports are released
// to their consumers as each one starts, not as Components.) Shutdown must
// never panic and should log its own failures — stop() must not abort
// early because one component failed to release cleanly.
type Component interface {
	Name() string
	Shutdown() error
}

// LifecycleHooks mirrors services/base/service.go's hook struct, invoked
// around the run's start/stop transitions. Any hook may be nil. A
// Supervisor applies the same hooks to every run it executes — unlike
// BaseService's one-hooks-per-long-lived-instance, a single Supervisor is
// reused across many one-shot runs, so the hooks here observe every one.
type LifecycleHooks struct {
	OnBeforeStart func(state ServiceState)
	OnAfterStart  func(state ServiceState)
	OnBeforeStop  func(state ServiceState)
	OnAfterStop   func(state ServiceState)
}

// transition invokes hook with state if hook is non-nil.
func transition(hook func(ServiceState), state ServiceState) {
	if hook != nil {
		hook(state)
	}
}

// shutdownAll releases every component regardless of individual failures,
// the same idempotent-no-early-return policy services/base/enclave.go's
// Shutdown uses, logging each failure rather than propagating it — spec
// §7 requires stop() to never fail the run's outcome.
func shutdownAll(log *logging.Logger, components []Component) {
	for _, c := range components {
		if c == nil {
			continue
		}
		if err := c.Shutdown(); err != nil {
			log.WithError(err).WithField("component", c.Name()).Warn("runner: component shutdown failed")
		}
	}
}
