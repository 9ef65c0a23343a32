// Package rpcproxy forwards guest JSON-RPC calls to the upstream endpoint
// selected from a run's MultiChainProviderConfig, counting calls and
// enforcing the run's rpcLimit.
//
// The envelope shape (JSON-RPC 2.0 request/response, POST with a JSON
// body, single upstream Call per request) is grounded on internal/chain/
// client.go's Client.Call, generalized from one hardcoded Neo N3 endpoint
// to a per-chain-id routing table since the guest's multiChainProvider
// facade can address more than one chain per run.
package rpcproxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/w3f-runner/internal/logging"
	"github.com/R3E-Network/w3f-runner/internal/quota"
	"github.com/R3E-Network/w3f-runner/types"
)

// Counters is the counter snapshot returned by getNbRpcCalls().
type Counters = types.RPCCounters

// Proxy is a per-run JSON-RPC forwarding proxy bound to loopback.
type Proxy struct {
	log       *logging.Logger
	providers types.MultiChainProviderConfig
	primary   string
	calls     *quota.Counter
	client    *http.Client

	server   *http.Server
	listener net.Listener
}

// Options configures a Proxy.
type Options struct {
	Providers types.MultiChainProviderConfig
	// Primary is the chain id used when a request arrives at "/" with no
	// chain id segment — the run's own GelatoArgs.ChainID.
	Primary  string
	RPCLimit int
}

// New constructs a Proxy. It does not start listening until Start.
func New(opts Options, log *logging.Logger) *Proxy {
	return &Proxy{
		log:       log,
		providers: opts.Providers,
		primary:   opts.Primary,
		calls:     quota.NewCounter(opts.RPCLimit),
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Start binds the proxy to the given local port and begins serving.
func (p *Proxy) Start(port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return err
	}
	p.listener = ln
	p.server = &http.Server{Handler: http.HandlerFunc(p.handle)}
	go func() {
		if err := p.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.log.WithError(err).Error("rpcproxy: serve exited")
		}
	}()
	return nil
}

// Stop shuts the proxy down. Errors are logged, never propagated.
func (p *Proxy) Stop() {
	if p.server == nil {
		return
	}
	if err := p.server.Close(); err != nil {
		p.log.WithError(err).Warn("rpcproxy: close error during stop")
	}
}

// Counters returns the (total, throttled) call counters the supervisor
// folds into the execution report's rpcCalls field.
func (p *Proxy) Counters() Counters {
	total, throttled := p.calls.Snapshot()
	return Counters{Total: total, Throttled: throttled}
}

func (p *Proxy) handle(w http.ResponseWriter, r *http.Request) {
	chainID := strings.Trim(r.URL.Path, "/")
	if chainID == "" {
		chainID = p.primary
	}

	if !p.calls.Allow() {
		p.log.LogSecurityEvent(r.Context(), "rpc_call_throttled", map[string]any{"chainId": chainID})
		http.Error(w, "rpc call limit exceeded", http.StatusTooManyRequests)
		return
	}

	provider, ok := p.providers[chainID]
	if !ok {
		http.Error(w, fmt.Sprintf("no provider configured for chain %q", chainID), http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, provider.RPCURL, strings.NewReader(string(body)))
	if err != nil {
		http.Error(w, "build upstream request", http.StatusInternalServerError)
		return
	}
	upstreamReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(upstreamReq)
	if err != nil {
		p.log.WithError(err).Warn("rpcproxy: upstream call failed")
		http.Error(w, "upstream call failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, io.LimitReader(resp.Body, 8<<20))
}

// Envelope is the minimal JSON-RPC 2.0 request/response shape forwarded
// opaquely — the proxy never interprets params or results, per
// spec's "chain-specific RPC semantics beyond opaque forwarding" being
// out of scope; it exists only so callers constructing test fixtures
// have a typed shape to marshal.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      int             `json:"id"`
}
