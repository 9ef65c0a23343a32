// Package quota provides the hard-cap counters the HTTP egress proxy and
// RPC proxy share: a run gets a fixed budget (request count, RPC call
// count, download/upload bytes), not a sustained rate — once the budget
// is spent every further call is throttled for the rest of the run.
//
// Grounded on internal/middleware/ratelimit.go's mutex-guarded per-key
// rate.Limiter map and its LogSecurityEvent-on-rejection behavior, but
// generalized from a token-bucket (limiter never runs fully dry) to a
// monotonically-spent budget (limiter does run dry and stays dry), which
// is what spec's rpcLimit/requestLimit/downloadLimit/uploadLimit mean.
package quota

import "sync"

// Counter is a mutex-guarded call counter with a hard cap. Limit <= 0
// means unlimited.
type Counter struct {
	mu        sync.Mutex
	limit     int
	total     int
	throttled int
}

// NewCounter creates a Counter with the given cap.
func NewCounter(limit int) *Counter {
	return &Counter{limit: limit}
}

// Allow records one call attempt and reports whether it is within budget.
// Every call — allowed or not — increments Total; rejected calls also
// increment Throttled, matching the report's rpcCalls.{total,throttled}
// and network.{nbRequests,nbThrottled} shapes.
func (c *Counter) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if c.limit > 0 && c.total > c.limit {
		c.throttled++
		return false
	}
	return true
}

// Snapshot returns the current (total, throttled) pair.
func (c *Counter) Snapshot() (total, throttled int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total, c.throttled
}

// RecordThrottled counts one call rejected for a reason outside this
// counter's own cap (e.g. a host blocklist hit) as both a call and a
// throttle event, without consulting limit.
func (c *Counter) RecordThrottled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	c.throttled++
}

// ByteBudget is a mutex-guarded byte counter with a hard cap, used
// independently for download and upload accounting since spec gives them
// separate limits.
type ByteBudget struct {
	mu        sync.Mutex
	limit     int64
	spent     int64
	throttled bool
}

// NewByteBudget creates a ByteBudget with the given cap in bytes. A limit
// <= 0 means unlimited.
func NewByteBudget(limit int64) *ByteBudget {
	return &ByteBudget{limit: limit}
}

// Spend records n additional bytes transferred and reports whether this
// transfer pushed the budget over its cap. Once tripped, Throttled stays
// true for the rest of the run even if later transfers are small.
func (b *ByteBudget) Spend(n int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.spent += n
	if b.limit > 0 && b.spent > b.limit {
		b.throttled = true
	}
	return b.throttled
}

// Snapshot returns the bytes spent so far and whether the budget has been
// exceeded at any point.
func (b *ByteBudget) Snapshot() (spent int64, throttled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent, b.throttled
}

// Remaining reports how many bytes may still be read before the cap
// trips: zero once the budget is used up exactly, negative once it has
// been overspent. A
// limit <= 0 reports a very large remaining value (unlimited).
func (b *ByteBudget) Remaining() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit <= 0 {
		return 1 << 62
	}
	return b.limit - b.spent
}
