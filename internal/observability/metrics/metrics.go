// Package metrics exposes the application counters served on /metrics.
package metrics

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/vettedhq/entitlement-engine/internal/config"
)

// Metrics captures entitlement traffic signals. A nil receiver is a no-op so
// callers can hold it as an optional dependency.
type Metrics struct {
	webhookEvents       *prometheus.CounterVec
	webhookDuration     *prometheus.HistogramVec
	gateDecisions       *prometheus.CounterVec
	referralRedemptions *prometheus.CounterVec
	sweeperRuns         *prometheus.CounterVec
	sweeperProcessed    *prometheus.CounterVec
}

// Module wires the metrics registry.
var Module = fx.Module("metrics",
	fx.Provide(Provide),
)

// Provide builds the metrics set on the default registerer.
func Provide(cfg config.Config) (*Metrics, error) {
	return New(prometheus.DefaultRegisterer, cfg.AppName, cfg.Environment)
}

// New registers the instrument set on the given registerer.
func New(registerer prometheus.Registerer, serviceName, environment string) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		serviceName = "entitled"
	}
	environment = strings.TrimSpace(environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service":     serviceName,
		"environment": environment,
	}

	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "entitled_webhook_events_total",
			Help:        "Billing webhook events by provider, type and outcome.",
			ConstLabels: constLabels,
		}, []string{"provider", "event_type", "outcome"}),
		webhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "entitled_webhook_duration_seconds",
			Help:        "Billing webhook processing latency.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"provider"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "entitled_gate_decisions_total",
			Help:        "Feature gate decisions by feature, bucket and result.",
			ConstLabels: constLabels,
		}, []string{"feature", "bucket", "allowed"}),
		referralRedemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "entitled_referral_redemptions_total",
			Help:        "Referral code redemptions by reward type.",
			ConstLabels: constLabels,
		}, []string{"reward_type"}),
		sweeperRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "entitled_sweeper_runs_total",
			Help:        "Sweeper job runs by job and outcome.",
			ConstLabels: constLabels,
		}, []string{"job", "outcome"}),
		sweeperProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "entitled_sweeper_processed_total",
			Help:        "Records processed by sweeper jobs.",
			ConstLabels: constLabels,
		}, []string{"job"}),
	}

	collectors := []prometheus.Collector{
		m.webhookEvents,
		m.webhookDuration,
		m.gateDecisions,
		m.referralRedemptions,
		m.sweeperRuns,
		m.sweeperProcessed,
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return nil, err
		}
	}
	return m, nil
}

// RecordWebhookEvent counts one delivered billing event.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, eventType, outcome).Inc()
}

// ObserveWebhookDuration records webhook processing latency.
func (m *Metrics) ObserveWebhookDuration(ctx context.Context, provider string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.webhookDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RecordGateDecision counts one feature gate decision.
func (m *Metrics) RecordGateDecision(ctx context.Context, feature, bucket string, allowed bool) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(feature, bucket, strconv.FormatBool(allowed)).Inc()
}

// RecordReferralRedemption counts one successful redemption.
func (m *Metrics) RecordReferralRedemption(ctx context.Context, rewardType string) {
	if m == nil {
		return
	}
	m.referralRedemptions.WithLabelValues(rewardType).Inc()
}

// RecordSweeperRun counts one sweeper job run.
func (m *Metrics) RecordSweeperRun(ctx context.Context, job, outcome string) {
	if m == nil {
		return
	}
	m.sweeperRuns.WithLabelValues(job, outcome).Inc()
}

// RecordSweeperProcessed adds the number of records a sweeper job handled.
func (m *Metrics) RecordSweeperProcessed(ctx context.Context, job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sweeperProcessed.WithLabelValues(job).Add(float64(count))
}
