// Package netproxy is the HTTP egress proxy the guest's outbound traffic
// is routed through: it enforces a host blocklist and per-run request and
// byte caps, and meters every transfer so the supervisor can report
// accurate network counters.
//
// Grounded on internal/httputil/client.go's bounded-body-read call sites
// (ReadAllWithLimit/ReadAllStrict — referenced there but, like
// internal/errors and internal/logging, not themselves present in the
// retrieved pack, so their copy/cap-at-n-bytes contract is reconstructed
// here as meteredReader) and internal/middleware/ratelimit.go's
// reject-and-LogSecurityEvent-on-limit shape, retargeted from a per-user
// rate limiter to the quota package's per-run hard caps.
package netproxy

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/R3E-Network/w3f-runner/internal/logging"
	"github.com/R3E-Network/w3f-runner/internal/quota"
	"github.com/R3E-Network/w3f-runner/types"
)

// Stats is the counter snapshot returned by getStats() in spec terms.
type Stats = types.NetworkCounters

// Proxy is a forwarding HTTP proxy bound to loopback that enforces a host
// blocklist and request/byte caps while guest code runs.
type Proxy struct {
	log        *logging.Logger
	blocklist  map[string]bool
	requests   *quota.Counter
	downloaded *quota.ByteBudget
	uploaded   *quota.ByteBudget

	server   *http.Server
	listener net.Listener
}

// Options configures a Proxy's caps and blocklist.
type Options struct {
	RequestLimit  int
	DownloadLimit int64
	UploadLimit   int64
	BlacklistedHosts []string
}

// New constructs a Proxy with the given options. It does not start
// listening until Start is called.
func New(opts Options, log *logging.Logger) *Proxy {
	blocklist := make(map[string]bool, len(opts.BlacklistedHosts))
	for _, h := range opts.BlacklistedHosts {
		blocklist[strings.ToLower(h)] = true
	}
	return &Proxy{
		log:        log,
		blocklist:  blocklist,
		requests:   quota.NewCounter(opts.RequestLimit),
		downloaded: quota.NewByteBudget(opts.DownloadLimit),
		uploaded:   quota.NewByteBudget(opts.UploadLimit),
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
			p.log.WithError(err).Error("netproxy: serve exited")
		}
	}()
	return nil
}

// Stop shuts the proxy down, releasing its listener. Errors are logged,
// never propagated, so the supervisor's stop() always completes.
func (p *Proxy) Stop() {
	if p.server == nil {
		return
	}
	if err := p.server.Close(); err != nil {
		p.log.WithError(err).Warn("netproxy: close error during stop")
	}
}

// Stats returns the counter snapshot the supervisor folds into the
// execution report's network field.
func (p *Proxy) Stats() Stats {
	nbRequests, nbThrottled := p.requests.Snapshot()
	download, _ := p.downloaded.Snapshot()
	upload, _ := p.uploaded.Snapshot()
	return Stats{
		NBRequests:  nbRequests,
		NBThrottled: nbThrottled,
		Download:    download,
		Upload:      upload,
	}
}

// ByteBudgetsThrottled reports whether the download and/or upload caps
// were exceeded at any point during the run, the two throttle flags the
// aggregate NetworkCounters shape cannot itself express.
func (p *Proxy) ByteBudgetsThrottled() (download, upload bool) {
	_, downloadThrottled := p.downloaded.Snapshot()
	_, uploadThrottled := p.uploaded.Snapshot()
	return downloadThrottled, uploadThrottled
}

func (p *Proxy) handle(w http.ResponseWriter, r *http.Request) {
	host := hostOnly(r.Host)
	if p.blocklist[strings.ToLower(host)] {
		p.requests.RecordThrottled()
		p.log.LogSecurityEvent(r.Context(), "egress_host_blocked", map[string]any{"host": host})
		http.Error(w, "host blocked", http.StatusForbidden)
		return
	}

	if !p.requests.Allow() {
		p.log.LogSecurityEvent(r.Context(), "egress_request_throttled", map[string]any{"host": host})
		http.Error(w, "request limit exceeded", http.StatusTooManyRequests)
		return
	}

	target := &url.URL{Scheme: schemeFor(r), Host: r.Host}
	rp := httputil.NewSingleHostReverseProxy(target)

	rp.ModifyResponse = func(resp *http.Response) error {
		resp.Body = &meteredReader{r: resp.Body, budget: p.downloaded}
		return nil
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.log.WithError(err).Warn("netproxy: upstream forward failed")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	if r.Body != nil {
		r.Body = &meteredReader{r: r.Body, budget: p.uploaded}
	}

	rp.ServeHTTP(w, r)
}

// meteredReader wraps a body reader, spending bytes read against a
// ByteBudget as they pass through. Once the budget has tripped, a read
// returns its bytes together with errByteBudgetExceeded, and httputil's
// reverse proxy aborts the transfer on that error: the stream is cut off
// at the first read that crosses the cap, and the budget reports
// throttled in Stats.
type meteredReader struct {
	r      io.ReadCloser
	budget *quota.ByteBudget
}

var errByteBudgetExceeded = errors.New("netproxy: byte budget exceeded")

func (m *meteredReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 && m.budget.Spend(int64(n)) && err == nil {
		err = errByteBudgetExceeded
	}
	return n, err
}

func (m *meteredReader) Close() error { return m.r.Close() }

func hostOnly(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}

func schemeFor(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
