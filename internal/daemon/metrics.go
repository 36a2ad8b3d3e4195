package daemon

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newRegistry exposes camera and emitter stats. Values are read on scrape.
func (d *Daemon) newRegistry() *prometheus.Registry {
	labels := prometheus.Labels{"instance": d.cfg.InstanceID}

	counter := func(name, help string, value func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "camerad",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(value()) })
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		counter("session_starts_total", "Capture session starts.",
			func() uint64 { return d.camera.Stats().SessionStarts }),
		counter("recording_attempts_total", "Accepted recording attempts.",
			func() uint64 { return d.camera.Stats().Attempts }),
		counter("recordings_completed_total", "Recordings that finished successfully.",
			func() uint64 { return d.camera.Stats().Completed }),
		counter("recordings_failed_total", "Recordings that finished with an error.",
			func() uint64 { return d.camera.Stats().Failed }),
		counter("recordings_timed_out_total", "Recordings with no completion after stop.",
			func() uint64 { return d.camera.Stats().TimedOut }),
		counter("library_saves_total", "Recordings accepted by the media library.",
			func() uint64 { return d.camera.Stats().Saved }),
		counter("library_save_failures_total", "Recordings the media library rejected.",
			func() uint64 { return d.camera.Stats().SaveFailed }),
		counter("mqtt_publish_errors_total", "Failed MQTT publishes.",
			func() uint64 { return d.emitter.Stats().Errors }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "camerad",
			Name:        "recording",
			Help:        "1 while a recording attempt is in flight.",
			ConstLabels: labels,
		}, func() float64 {
			if d.camera.IsRecording() {
				return 1
			}
			return 0
		}),
	)
	return reg
}

// MetricsHandler serves the /metrics endpoint in Prometheus exposition format
func (d *Daemon) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(d.newRegistry(), promhttp.HandlerOpts{})
}
