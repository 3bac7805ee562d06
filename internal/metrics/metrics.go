// Package metrics exposes game counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blindtest"

// Recorder receives game events.
type Recorder interface {
	SessionCreated(mode string)
	SessionEnded(mode string)
	SetLiveSessions(n int)
	BuzzAccepted()
	BuzzRejected(reason string)
	BuzzResolved(outcome string)
	QuizAnswer(correct bool)
	PersistFailed(op string)
}

// Prometheus implements Recorder on a dedicated registry.
type Prometheus struct {
	registry        *prometheus.Registry
	sessionsCreated *prometheus.CounterVec
	sessionsEnded   *prometheus.CounterVec
	liveSessions    prometheus.Gauge
	buzzes          *prometheus.CounterVec
	buzzOutcomes    *prometheus.CounterVec
	quizAnswers     *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
}

// NewPrometheus registers the collectors on reg. A nil reg gets a fresh registry.
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	p := &Prometheus{
		registry: reg,
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_created_total", Help: "Sessions created, by mode.",
		}, []string{"mode"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_ended_total", Help: "Sessions ended by the host, by mode.",
		}, []string{"mode"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "live_sessions", Help: "Sessions held in memory.",
		}),
		buzzes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "buzzes_total", Help: "Buzz attempts, by result.",
		}, []string{"result"}),
		buzzOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "buzz_outcomes_total", Help: "Locked buzzes by resolution.",
		}, []string{"outcome"}),
		quizAnswers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "quiz_answers_total", Help: "Scored quiz answers.",
		}, []string{"correct"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "persist_failures_total", Help: "Failed store writes, by operation.",
		}, []string{"op"}),
	}
	reg.MustRegister(p.sessionsCreated, p.sessionsEnded, p.liveSessions, p.buzzes, p.buzzOutcomes, p.quizAnswers, p.persistFailures)
	return p
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) SessionCreated(mode string) { p.sessionsCreated.WithLabelValues(mode).Inc() }
func (p *Prometheus) SessionEnded(mode string)   { p.sessionsEnded.WithLabelValues(mode).Inc() }
func (p *Prometheus) SetLiveSessions(n int)      { p.liveSessions.Set(float64(n)) }
func (p *Prometheus) BuzzAccepted()              { p.buzzes.WithLabelValues("accepted").Inc() }
func (p *Prometheus) BuzzRejected(reason string) { p.buzzes.WithLabelValues(reason).Inc() }
func (p *Prometheus) BuzzResolved(outcome string) {
	p.buzzOutcomes.WithLabelValues(outcome).Inc()
}
func (p *Prometheus) PersistFailed(op string) { p.persistFailures.WithLabelValues(op).Inc() }

func (p *Prometheus) QuizAnswer(correct bool) {
	label := "false"
	if correct {
		label = "true"
	}
	p.quizAnswers.WithLabelValues(label).Inc()
}

// NoOp discards everything.
type NoOp struct{}

func (NoOp) SessionCreated(string) {}
func (NoOp) SessionEnded(string)   {}
func (NoOp) SetLiveSessions(int)   {}
func (NoOp) BuzzAccepted()         {}
func (NoOp) BuzzRejected(string)   {}
func (NoOp) BuzzResolved(string)   {}
func (NoOp) QuizAnswer(bool)       {}
func (NoOp) PersistFailed(string)  {}
