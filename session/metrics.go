package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "vault_signal"
	subsystem = "session"
)

// Metrics counts session events. Labels never carry peer identifiers.
type Metrics struct {
	encrypted  prometheus.Counter
	decrypted  prometheus.Counter
	failures   *prometheus.CounterVec
	handshakes *prometheus.CounterVec
}

// NewMetrics builds the session counters and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		encrypted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_encrypted_total",
			Help:      "Messages encrypted.",
		}),
		decrypted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_decrypted_total",
			Help:      "Messages decrypted and authenticated.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decrypt_failures_total",
			Help:      "Messages dropped, by error kind.",
		}, []string{"kind"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshakes_total",
			Help:      "Completed key agreements, by role.",
		}, []string{"role"}),
	}
	if reg != nil {
		reg.MustRegister(m.encrypted, m.decrypted, m.failures, m.handshakes)
	}
	return m
}
