// Package metrics exports provisioning progress as Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/edvin/hostprov/internal/fleet"
	"github.com/edvin/hostprov/internal/provision"
)

// Recorder counts steps, handlers and host runs on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	handlersTotal *prometheus.CounterVec
	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	certIssued    *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hostprov_steps_total",
			Help: "Provisioning steps executed, by outcome",
		}, []string{"host", "phase", "outcome"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hostprov_step_duration_seconds",
			Help:    "Duration of each provisioning step",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),
		handlersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hostprov_handlers_total",
			Help: "Deferred handlers fired",
		}, []string{"host", "handler"}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hostprov_runs_total",
			Help: "Host runs, by result",
		}, []string{"result"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hostprov_run_duration_seconds",
			Help:    "Duration of a full host run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		certIssued: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostprov_certificate_issued",
			Help: "1 if the host ended the run with a certificate",
		}, []string{"host"}),
	}
}

// Gatherer exposes the registry for serving or writing.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.registry }

func (r *Recorder) StepFinished(hostName string, rec provision.StepRecord) {
	r.stepsTotal.WithLabelValues(hostName, string(rec.Phase), rec.Outcome).Inc()
	r.stepDuration.WithLabelValues(string(rec.Phase)).Observe(rec.Duration.Seconds())
}

func (r *Recorder) HandlerFired(hostName, handler string) {
	r.handlersTotal.WithLabelValues(hostName, handler).Inc()
}

func (r *Recorder) HostFinished(res *fleet.HostResult) {
	result := "success"
	if res.Failed() {
		result = "failure"
	}
	r.runsTotal.WithLabelValues(result).Inc()
	r.runDuration.Observe(res.Duration.Seconds())

	issued := 0.0
	if res.FinalState == provision.CertIssued {
		issued = 1
	}
	r.certIssued.WithLabelValues(res.Target.Name).Set(issued)
}

// WriteTextfile writes every metric in the node exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

var (
	_ provision.Observer = (*Recorder)(nil)
	_ fleet.RunObserver  = (*Recorder)(nil)
)
