package metrics

// GatewayMetrics adapts the package-level Prometheus collectors to the
// engine's narrow Metrics interface, so the engine depends on an
// interface rather than this package's globals directly.
type GatewayMetrics struct{}

// NewGatewayMetrics returns the default Metrics implementation, backed by
// the collectors registered against Registry.
func NewGatewayMetrics() *GatewayMetrics {
	return &GatewayMetrics{}
}

func (GatewayMetrics) HandshakeStart() {
	HandshakesInitiated.WithLabelValues("wss").Inc()
}

func (GatewayMetrics) HandshakeComplete() {
	HandshakesCompleted.WithLabelValues("success").Inc()
}

func (GatewayMetrics) AuthSuccess() {
	CryptoOperations.WithLabelValues("verify", "ed25519").Inc()
}

func (GatewayMetrics) AuthFailure(reason string) {
	HandshakesFailed.WithLabelValues(reason).Inc()
	CryptoErrors.WithLabelValues("verify").Inc()
}
