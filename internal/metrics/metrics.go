// Package metrics exposes Prometheus counters for the authentication flows.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalid            = "invalid"
	OutcomeConflict           = "conflict"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeNoToken            = "no_token"
	OutcomeInvalidToken       = "invalid_token"
	OutcomeError              = "error"
)

// Metrics holds the auth counters. A nil *Metrics records nothing.
type Metrics struct {
	registrations *prometheus.CounterVec
	logins        *prometheus.CounterVec
	tokenChecks   *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authapi",
			Name:      "registrations_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authapi",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		tokenChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authapi",
			Name:      "token_checks_total",
			Help:      "Bearer token checks on protected routes by outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.registrations, m.logins, m.tokenChecks} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Registration(outcome string) {
	if m != nil {
		m.registrations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) TokenCheck(outcome string) {
	if m != nil {
		m.tokenChecks.WithLabelValues(outcome).Inc()
	}
}
