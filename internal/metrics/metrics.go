package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the coupon engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	evaluations    *prometheus.CounterVec
	redemptions    *prometheus.CounterVec
	releases       *prometheus.CounterVec
	referrals      *prometheus.CounterVec
	redeemDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coupon",
			Name:      "evaluations_total",
			Help:      "Coupon evaluations by outcome and denial reason.",
		}, []string{"outcome", "reason"}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coupon",
			Name:      "redemptions_total",
			Help:      "Coupon redemptions by outcome and denial reason.",
		}, []string{"outcome", "reason"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coupon",
			Name:      "releases_total",
			Help:      "Redemption releases by trigger.",
		}, []string{"trigger"}),
		referrals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coupon",
			Name:      "referrals_issued_total",
			Help:      "Referral issuance attempts by outcome.",
		}, []string{"outcome"}),
		redeemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coupon",
			Name:      "redeem_duration_seconds",
			Help:      "Latency of the redeem operation.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.evaluations, m.redemptions, m.releases, m.referrals, m.redeemDuration)
	return m
}

// ObserveEvaluation records one evaluate call.
func (m *Metrics) ObserveEvaluation(eligible bool, reason string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome(eligible), reason).Inc()
}

// ObserveRedemption records one redeem call and its latency.
func (m *Metrics) ObserveRedemption(success bool, reason string, started time.Time) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(outcome(success), reason).Inc()
	m.redeemDuration.Observe(time.Since(started).Seconds())
}

// ObserveRelease records one applied release.
func (m *Metrics) ObserveRelease(trigger string) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(trigger).Inc()
}

// ObserveReferral records one referral issuance attempt.
func (m *Metrics) ObserveReferral(success bool) {
	if m == nil {
		return
	}
	m.referrals.WithLabelValues(outcome(success)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "denied"
}
