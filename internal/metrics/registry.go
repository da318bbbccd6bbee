// Package metrics exposes the gateway's Prometheus collectors: one file per
// concern (handshake, session, data plane, crypto), all registered against a
// single process-wide registry so a single /metrics endpoint serves them all.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// namespace prefixes every metric name registered by this package, e.g.
// gateway_handshakes_initiated_total.
const namespace = "gateway"

// Registry is the process-wide collector registry. cmd/gateway-server serves
// it over HTTP via Handler/StartServer; tests may swap in a fresh registry
// per-case if isolation from the package-level collectors is needed.
var Registry = prometheus.NewRegistry()
