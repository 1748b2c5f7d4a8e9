package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shizhend",
			Subsystem: "inference",
			Name:      "duration_seconds",
			Help:      "Duration of capability generate+decode calls in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160, 320},
		},
		[]string{"endpoint"},
	)

	inferenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shizhend",
			Subsystem: "inference",
			Name:      "errors_total",
			Help:      "Total failed inference calls",
		},
		[]string{"endpoint"},
	)

	modelLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shizhend",
			Name:      "model_loaded",
			Help:      "1 when the model is loaded and serving",
		},
	)

	vramBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shizhend",
			Name:      "vram_bytes",
			Help:      "Accelerator memory at the last health probe",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(inferenceDuration, inferenceErrors, modelLoaded, vramBytes)
}

// Endpoint labels for inference metrics.
const (
	endpointChat   = "chat"
	endpointVision = "vision"
)
