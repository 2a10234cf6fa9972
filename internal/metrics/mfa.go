package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas Prometheus del subsistema MFA. Paquete standalone para evitar
// ciclos de import entre el service y las capas HTTP.

var (
	Verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mfa_verifications_total",
		Help: "Verificaciones de segundo factor por método y resultado",
	}, []string{"method", "outcome"})

	Lockouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mfa_lockouts_total",
		Help: "Episodios de lockout del attempt guard",
	})

	Enrollments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mfa_enrollments_total",
		Help: "Eventos del ciclo de vida de enrolamiento",
	}, []string{"event"}) // setup | confirmed | disabled | backup_regenerated

	VerifyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mfa_verify_latency_ms",
		Help:    "Latencia de verify en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// Register registra las métricas MFA en el registry dado (o el default si es nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{Verifications, Lockouts, Enrollments, VerifyLatency} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
