// Package resilience wraps remote operations in a circuit breaker, a
// retry/backoff loop with per-attempt timeouts, and result caching, so that
// application logic on a resource-constrained client is shielded from
// unreliable, slow, or rate-limited remote services.
//
// The pieces compose as follows:
//
//   - Breaker is a per-operation-name failure state machine
//     (CLOSED/OPEN/HALF_OPEN). Registry creates breakers lazily and owns
//     process-wide suspension and reset.
//   - Invoker ties a cache, a breaker registry, and a performance monitor
//     around an arbitrary remote operation. Invoke checks the cache first
//     (a valid cached answer bypasses the breaker entirely), then asks the
//     breaker for admission, then races each attempt against a timeout and
//     backs off exponentially between attempts.
//
// Remote operations run under this layer must be safe to invoke more than
// once: an attempt that loses its timeout race is abandoned, never
// cancelled.
package resilience
