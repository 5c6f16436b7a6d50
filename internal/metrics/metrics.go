// Package metrics exposes profile lifecycle, authentication, auto-lock and
// key-derivation metrics through Prometheus. Collectors are registered on the
// registerer passed to New, never on the global default.
package metrics

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = common.AppName

type Metrics struct {
	ops          *prometheus.CounterVec
	authFailures prometheus.Counter
	autoLocks    *prometheus.CounterVec
	kdfSeconds   prometheus.Histogram
	profiles     *prometheus.GaugeVec
	emergency    prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_operations_total",
			Help:      "Profile lifecycle operations by operation and result",
		}, []string{"op", "result"}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authentication_failures_total",
			Help:      "Failed profile or master password verifications",
		}),
		autoLocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autolock_total",
			Help:      "Profile locks triggered by the auto-lock coordinator",
		}, []string{"trigger"}),
		kdfSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kdf_duration_seconds",
			Help:      "Time spent deriving keys from passwords",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		profiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "profiles",
			Help:      "Profiles in the index by kind",
		}, []string{"kind"}),
		emergency: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_cleanups_total",
			Help:      "Emergency key wipes",
		}),
	}

	for _, c := range []prometheus.Collector{m.ops, m.authFailures, m.autoLocks, m.kdfSeconds, m.profiles, m.emergency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// LifecycleOp records one manager operation. Authentication failures are
// counted separately as well.
func (m *Metrics) LifecycleOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, common.ErrAuthentication) {
			m.authFailures.Inc()
		}
	}
	m.ops.WithLabelValues(op, result).Inc()
}

func (m *Metrics) KDFDuration(d time.Duration) {
	m.kdfSeconds.Observe(d.Seconds())
}

func (m *Metrics) ProfileCount(regular, guests int) {
	m.profiles.WithLabelValues("regular").Set(float64(regular))
	m.profiles.WithLabelValues("guest").Set(float64(guests))
}

func (m *Metrics) EmergencyCleanup() {
	m.emergency.Inc()
}

// AutoLock records a lock by trigger: "idle" or "manual".
func (m *Metrics) AutoLock(trigger string) {
	m.autoLocks.WithLabelValues(trigger).Inc()
}
