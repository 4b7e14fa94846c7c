package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	activationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_activations_total",
			Help: "Model activations by result (started, ready, failed, rejected).",
		},
		[]string{"result"},
	)
	loadingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatd_activation_loading",
			Help: "Activations accepted and not yet finished.",
		},
	)
)

func init() {
	prometheus.MustRegister(activationsTotal, loadingGauge)
}
