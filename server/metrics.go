package server

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	frames    *prometheus.CounterVec
	published prometheus.Counter
	fetched   prometheus.Counter
	online    prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vault_signal",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames received from clients, by outcome.",
		}, []string{"outcome"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vault_signal",
			Subsystem: "relay",
			Name:      "bundles_published_total",
			Help:      "Prekey bundles accepted.",
		}),
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vault_signal",
			Subsystem: "relay",
			Name:      "bundles_fetched_total",
			Help:      "Prekey bundles served.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vault_signal",
			Subsystem: "relay",
			Name:      "connected_clients",
			Help:      "Open websocket connections.",
		}),
	}
	reg.MustRegister(m.frames, m.published, m.fetched, m.online)
	return m
}
