package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	gopsutil "github.com/shirou/gopsutil/v3/process"
)

// guestBinaryEnv overrides the guest executable path, defaulting to
// "w3f-guest" resolved against PATH — the binary built from
// cmd/w3f-guest.
const guestBinaryEnv = "W3F_GUEST_BINARY"

// Worker is the thread-runtime sandbox variant: it execs the guest
// binary as a child OS process (the closest process-isolation analog
// available without a language-level worker-thread primitive) and
// samples its RSS via gopsutil, the dependency the teacher's go.mod
// declared but never exercised.
type Worker struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	proc    *gopsutil.Process
	logs    []string
	logsMu  sync.Mutex
	showLogs bool
}

// NewWorker constructs an unstarted Worker.
func NewWorker() *Worker { return &Worker{} }

func guestBinaryPath() string {
	if p := os.Getenv(guestBinaryEnv); p != "" {
		return p
	}
	return "w3f-guest"
}

// Start execs the guest binary with the spec's environment inputs
// (WEB3_FUNCTION_SERVER_PORT, WEB3_FUNCTION_MOUNT_PATH) plus the script
// path and egress proxy coordinates, and begins capturing its stdout and
// stderr into the logs buffer.
func (w *Worker) Start(ctx context.Context, opts StartOptions) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.showLogs = opts.ShowLogs

	cmd := exec.CommandContext(ctx, guestBinaryPath(), opts.ScriptPath)
	cmd.Env = append(os.Environ(),
		"WEB3_FUNCTION_SERVER_PORT="+strconv.Itoa(opts.ServerPort),
		"WEB3_FUNCTION_MOUNT_PATH="+opts.MountPath,
		"WEB3_FUNCTION_SCRIPT_PATH="+opts.ScriptPath,
		"WEB3_FUNCTION_VERSION="+string(opts.Version),
		"HTTP_PROXY=http://"+opts.ProxyHost+":"+strconv.Itoa(opts.ProxyPort),
		"HTTPS_PROXY=http://"+opts.ProxyHost+":"+strconv.Itoa(opts.ProxyPort),
	)
	if opts.ShowLogs {
		cmd.Env = append(cmd.Env, "WEB3_FUNCTION_SHOW_LOGS=true")
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("sandbox: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("sandbox: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("sandbox: start guest process: %w", err)
	}
	w.cmd = cmd

	proc, err := gopsutil.NewProcess(int32(cmd.Process.Pid))
	if err == nil {
		w.proc = proc
	}

	go w.drain(stdout)
	go w.drain(stderr)

	return nil
}

func (w *Worker) drain(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		w.logsMu.Lock()
		w.logs = append(w.logs, line)
		w.logsMu.Unlock()
	}
}

// Stop terminates the guest process if still running. Errors are
// swallowed by design — stop() must never fail the supervisor's cleanup.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmd == nil || w.cmd.Process == nil {
		return nil
	}
	_ = w.cmd.Process.Kill()
	return nil
}

// WaitForProcessEnd blocks until the guest process exits or ctx is done.
func (w *Worker) WaitForProcessEnd(ctx context.Context) (ExitSignal, error) {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd == nil {
		return ExitSignal{}, fmt.Errorf("sandbox: worker not started")
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err == nil {
			return ExitSignal{Code: 0}, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			return ExitSignal{Code: code, OOMKilled: code == 137}, nil
		}
		return ExitSignal{}, err
	case <-ctx.Done():
		return ExitSignal{}, ctx.Err()
	}
}

// GetMemoryUsage returns the guest process's current RSS in bytes via
// gopsutil, used by the supervisor's 100 ms memory sampler.
func (w *Worker) GetMemoryUsage() (int64, error) {
	w.mu.Lock()
	proc := w.proc
	w.mu.Unlock()
	if proc == nil {
		return 0, fmt.Errorf("sandbox: worker process not available")
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return int64(memInfo.RSS), nil
}

// GetLogs returns the captured stdout/stderr lines.
func (w *Worker) GetLogs() []string {
	w.logsMu.Lock()
	defer w.logsMu.Unlock()
	out := make([]string, len(w.logs))
	copy(out, w.logs)
	return out
}
