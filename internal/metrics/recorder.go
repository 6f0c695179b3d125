// Package metrics exposes Prometheus collectors for work item processing.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/email-messenger/internal/models"
)

const namespace = "email_messenger"

// Recorder counts processor attempts and final outcomes. It satisfies the
// queue runner's Observer interface.
type Recorder struct {
	mu         sync.Mutex
	registered bool
	registerer prometheus.Registerer

	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	itemsTotal      *prometheus.CounterVec
	attemptsPerItem *prometheus.HistogramVec
}

// NewRecorder builds collectors bound to registerer, or the default registerer
// when nil. Call Register before use.
func NewRecorder(registerer prometheus.Registerer) *Recorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Recorder{
		registerer: registerer,
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "attempts_total",
			Help:      "Processor invocations by outcome.",
		}, []string{"outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "attempt_duration_seconds",
			Help:      "Time spent in a single processor invocation.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "items_total",
			Help:      "Work items finished by final outcome.",
		}, []string{"outcome"}),
		attemptsPerItem: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "attempts_per_item",
			Help:      "Processor invocations needed before a work item finished.",
			Buckets:   []float64{1, 2, 3, 5, 10},
		}, []string{"outcome"}),
	}
}

// Register registers the collectors. Calling it again is a no-op.
func (r *Recorder) Register() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered {
		return nil
	}
	var err error
	if r.attemptsTotal, err = register(r.registerer, r.attemptsTotal); err != nil {
		return err
	}
	if r.attemptDuration, err = register(r.registerer, r.attemptDuration); err != nil {
		return err
	}
	if r.itemsTotal, err = register(r.registerer, r.itemsTotal); err != nil {
		return err
	}
	if r.attemptsPerItem, err = register(r.registerer, r.attemptsPerItem); err != nil {
		return err
	}
	r.registered = true
	return nil
}

// register adopts the already registered collector of the same name, so two
// recorders on one registry share series.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return c, err
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return c, err
		}
		return existing, nil
	}
	return c, nil
}

// ObserveAttempt records one processor invocation.
func (r *Recorder) ObserveAttempt(outcome models.Outcome, d time.Duration) {
	r.attemptsTotal.WithLabelValues(outcome.String()).Inc()
	r.attemptDuration.WithLabelValues(outcome.String()).Observe(d.Seconds())
}

// ObserveFinal records a work item leaving the runner.
func (r *Recorder) ObserveFinal(outcome models.Outcome, attempts int) {
	r.itemsTotal.WithLabelValues(outcome.String()).Inc()
	r.attemptsPerItem.WithLabelValues(outcome.String()).Observe(float64(attempts))
}
