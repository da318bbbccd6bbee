package metrics

// NetworkMonitor is the default NetworkMonitor implementation, backed by
// the PacketSize and PacketProcessingDuration collectors.
type NetworkMonitor struct{}

// NewNetworkMonitor returns the default Prometheus-backed monitor.
func NewNetworkMonitor() *NetworkMonitor {
	return &NetworkMonitor{}
}

func (NetworkMonitor) RecordClientTraffic(clientID string, rx, tx uint64) {
	if rx > 0 {
		PacketSize.WithLabelValues("inbound").Observe(float64(rx))
	}
	if tx > 0 {
		PacketSize.WithLabelValues("outbound").Observe(float64(tx))
	}
}

func (NetworkMonitor) RecordSent(n uint64) {
	PacketSize.WithLabelValues("outbound").Observe(float64(n))
}

func (NetworkMonitor) RecordLatency(clientID string, rttMillis float64) {
	PacketProcessingDuration.Observe(rttMillis / 1000)
}
