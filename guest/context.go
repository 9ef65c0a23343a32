// Facade exposes the per-run context to the untrusted script: gelato
// arguments, user args, secrets, a mutating storage view, and an RPC
// call facade pointed at the supervisor's RPC proxy.
//
// Grounded on platform/os's capability-scoped facade family
// (context.go/network_api.go/storage_api.go/secrets_api.go — a
// ServiceOS exposing storage/secrets/network behind narrow per-call
// methods rather than a raw map) generalized from Android-style
// capability gating to the spec's always-available single-run facade:
// every run gets the same four capabilities, there is no per-capability
// grant/deny step.
package guest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/R3E-Network/w3f-runner/internal/errors"
	"github.com/R3E-Network/w3f-runner/types"
)

// Facade is the mutable per-run context handed to the user handler. It
// is not safe for concurrent use — the guest is single-threaded
// cooperative by design (spec §4.2).
type Facade struct {
	GelatoArgs types.GelatoArgs
	UserArgs   map[string]any
	secrets    map[string]string

	pre     map[string]string
	storage map[string]string
	deleted map[string]bool

	rpcProviderURL string
	httpClient     *http.Client
}

// NewFacade snapshots ctx's storage map by value (spec §4.2(a)) and
// builds the mutable facade the handler operates against.
func NewFacade(ctx types.ContextData) *Facade {
	pre := make(map[string]string, len(ctx.Storage))
	storage := make(map[string]string, len(ctx.Storage))
	for k, v := range ctx.Storage {
		pre[k] = v
		storage[k] = v
	}
	return &Facade{
		GelatoArgs:     ctx.GelatoArgs,
		UserArgs:       ctx.UserArgs,
		secrets:        ctx.Secrets,
		pre:            pre,
		storage:        storage,
		deleted:        make(map[string]bool),
		rpcProviderURL: ctx.RPCProviderURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
}

// SecretsGet returns the stored value for key, or ("", false) if absent.
func (f *Facade) SecretsGet(key string) (string, bool) {
	v, ok := f.secrets[key]
	return v, ok
}

// StorageGet returns the current (possibly mutated) value for key, or
// ("", false) if absent or deleted.
func (f *Facade) StorageGet(key string) (string, bool) {
	if f.deleted[key] {
		return "", false
	}
	v, ok := f.storage[key]
	return v, ok
}

// StorageSet mutates the local storage copy. value must be a string;
// anything else is rejected with a typed error per spec §4.2(b).
func (f *Facade) StorageSet(key string, value any) error {
	s, ok := value.(string)
	if !ok {
		return errors.StorageType(fmt.Sprintf("storage.set(%q, ...) requires a string value, got %T", key, value)).
			WithDetails("key", key)
	}
	delete(f.deleted, key)
	f.storage[key] = s
	return nil
}

// StorageDelete records a tombstone for key.
func (f *Facade) StorageDelete(key string) {
	delete(f.storage, key)
	f.deleted[key] = true
}

// Diff computes the storage delta by shallow comparison of pre- and
// post-invocation maps (spec §4.2(d)): keys present pre but absent post
// appear in Diff as nil (the tombstone).
func (f *Facade) Diff() types.StorageDelta {
	diff := make(map[string]*string)

	for k, postV := range f.storage {
		preV, existed := f.pre[k]
		if !existed || preV != postV {
			v := postV
			diff[k] = &v
		}
	}
	for k := range f.pre {
		if f.deleted[k] {
			diff[k] = nil
		}
	}

	state := types.StorageLast
	if len(diff) > 0 {
		state = types.StorageUpdated
	}
	return types.StorageDelta{State: state, Storage: f.storage, Diff: diff}
}

// PreStorageSnapshot returns the pre-invocation storage map, used to
// build the "state: last" reply on a thrown error (spec §4.2(e)).
func (f *Facade) PreStorageSnapshot() map[string]string {
	return f.pre
}

// rpcThrottledExit is the process exit code the RPC facade uses when the
// proxy signals a 429 — spec §4.2's "exits the process with status code
// 250 so the supervisor can classify the failure as RPC-throttled."
const rpcThrottledExit = 250

// RPCCall forwards a JSON-RPC request to the supervisor's RPC proxy. A
// 429 response is not returned as an error to the caller: per spec it is
// an unconditional fatal signal, so the guest process exits immediately
// with code 250 rather than letting the script observe and retry.
func (f *Facade) RPCCall(chainID string, body []byte) ([]byte, error) {
	url := f.rpcProviderURL
	if chainID != "" {
		url = url + "/" + chainID
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		os.Exit(rpcThrottledExit)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// marshalRPCRequest is a convenience used by the goja binding to build a
// JSON-RPC request body from script-supplied method/params.
func marshalRPCRequest(method string, params any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
}
