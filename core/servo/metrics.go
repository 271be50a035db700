package servo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/vernier-time/base/metrics"
)

type servoMetrics struct {
	stage       prometheus.Gauge
	waiting     prometheus.Gauge
	locked      prometheus.Gauge
	lockCount   prometheus.Gauge
	periodPPM   prometheus.Gauge
	drift       prometheus.Gauge
	transitions prometheus.Counter
	lockLosses  prometheus.Counter
	strobes     prometheus.Counter
}

// newServoMetrics creates the servo collectors. A nil registerer leaves them
// unregistered.
func newServoMetrics(reg prometheus.Registerer) *servoMetrics {
	f := promauto.With(reg)
	return &servoMetrics{
		stage: f.NewGauge(prometheus.GaugeOpts{
			Name: metrics.ServoStageN,
			Help: metrics.ServoStageH,
		}),
		waiting: f.NewGauge(prometheus.GaugeOpts{
			Name: metrics.ServoWaitingN,
			Help: metrics.ServoWaitingH,
		}),
		locked: f.NewGauge(prometheus.GaugeOpts{
			Name: metrics.ServoLockedN,
			Help: metrics.ServoLockedH,
		}),
		lockCount: f.NewGauge(prometheus.GaugeOpts{
			Name: metrics.ServoLockCountN,
			Help: metrics.ServoLockCountH,
		}),
		periodPPM: f.NewGauge(prometheus.GaugeOpts{
			Name: metrics.ServoPeriodPPMN,
			Help: metrics.ServoPeriodPPMH,
		}),
		drift: f.NewGauge(prometheus.GaugeOpts{
			Name: metrics.ServoDriftN,
			Help: metrics.ServoDriftH,
		}),
		transitions: f.NewCounter(prometheus.CounterOpts{
			Name: metrics.ServoTransitionsN,
			Help: metrics.ServoTransitionsH,
		}),
		lockLosses: f.NewCounter(prometheus.CounterOpts{
			Name: metrics.ServoLockLossesN,
			Help: metrics.ServoLockLossesH,
		}),
		strobes: f.NewCounter(prometheus.CounterOpts{
			Name: metrics.ServoStrobesN,
			Help: metrics.ServoStrobesH,
		}),
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
