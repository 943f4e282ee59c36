package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the verification subsystem.
type Metrics struct {
	CodesIssued      *prometheus.CounterVec
	VerifyResults    *prometheus.CounterVec
	EmailsSent       *prometheus.CounterVec
	PasswordsChanged prometheus.Counter
}

// New creates the collectors and registers them with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CodesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turapp_verification_codes_issued_total",
			Help: "Verification codes issued, by purpose",
		}, []string{"purpose"}),
		VerifyResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turapp_verification_results_total",
			Help: "Verification attempts, by purpose and result",
		}, []string{"purpose", "result"}),
		EmailsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turapp_verification_emails_total",
			Help: "Verification e-mails handed to the provider, by purpose and outcome",
		}, []string{"purpose", "outcome"}),
		PasswordsChanged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "turapp_password_resets_completed_total",
			Help: "Passwords changed through the privileged credential update",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CodesIssued, m.VerifyResults, m.EmailsSent, m.PasswordsChanged)
	}
	return m
}

func (m *Metrics) IncCodeIssued(purpose string) {
	if m == nil {
		return
	}
	m.CodesIssued.WithLabelValues(purpose).Inc()
}

func (m *Metrics) IncVerifyResult(purpose, result string) {
	if m == nil {
		return
	}
	m.VerifyResults.WithLabelValues(purpose, result).Inc()
}

func (m *Metrics) IncEmail(purpose, outcome string) {
	if m == nil {
		return
	}
	m.EmailsSent.WithLabelValues(purpose, outcome).Inc()
}

func (m *Metrics) IncPasswordChanged() {
	if m == nil {
		return
	}
	m.PasswordsChanged.Inc()
}
