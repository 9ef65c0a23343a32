// Package portalloc reserves free local TCP ports for a run's protocol
// socket, HTTP egress proxy, and RPC proxy.
//
// No direct teacher analog exists for port reservation; it is new code
// grounded on the allocate-then-release pattern services/base/service.go
// uses for other scarce per-run resources, adapted to stdlib net.Listen
// since probing an OS port is inherently a net-package operation no
// example repo wraps in a library.
package portalloc

import (
	"fmt"
	"net"
)

// Port is a reserved local TCP port. Release must be called once the
// caller that requested it (proxy, protocol server) has rebound the port
// itself, or to give it back unused.
type Port struct {
	Number   int
	listener net.Listener
}

// Release closes the probe listener, freeing the port for the real
// consumer to bind.
func (p *Port) Release() error {
	if p.listener == nil {
		return nil
	}
	err := p.listener.Close()
	p.listener = nil
	return err
}

// Allocator reserves free local TCP ports, retrying on bind collisions.
type Allocator struct {
	maxAttempts int
}

// New creates an Allocator that retries up to maxAttempts times per pick
// before giving up. A value of 0 selects a sane default.
func New(maxAttempts int) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Allocator{maxAttempts: maxAttempts}
}

// Pick reserves one free port by binding to port 0 and reading back the OS
// assignment. The listener is kept open until Release so no other process
// can steal the port between Pick and the caller's own bind.
func (a *Allocator) Pick() (*Port, error) {
	var lastErr error
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			lastErr = err
			continue
		}
		addr, ok := ln.Addr().(*net.TCPAddr)
		if !ok {
			ln.Close()
			return nil, fmt.Errorf("portalloc: unexpected listener address type %T", ln.Addr())
		}
		return &Port{Number: addr.Port, listener: ln}, nil
	}
	return nil, fmt.Errorf("portalloc: failed to reserve a port after %d attempts: %w", a.maxAttempts, lastErr)
}

// PickN reserves n distinct free ports in one batch, releasing none of
// them until the caller is ready to consume all n — this is what the
// supervisor uses to grab the protocol/HTTP-proxy/RPC-proxy triple
// atomically relative to each other (they're never returned individually
// mid-allocation, only as a whole set on error).
func (a *Allocator) PickN(n int) ([]*Port, error) {
	ports := make([]*Port, 0, n)
	for i := 0; i < n; i++ {
		p, err := a.Pick()
		if err != nil {
			ReleaseAll(ports)
			return nil, err
		}
		ports = append(ports, p)
	}
	return ports, nil
}

// ReleaseAll releases every port in the slice, collecting no error (ports
// already released or nil are skipped); this mirrors the supervisor's
// stop() policy of never letting cleanup fail loudly.
func ReleaseAll(ports []*Port) {
	for _, p := range ports {
		if p != nil {
			_ = p.Release()
		}
	}
}
