// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ChannelsCreated  prometheus.Counter
	ChannelsDeleted  prometheus.Counter
	ChannelsSwept    prometheus.Counter
	PanelActions     *prometheus.CounterVec
	PanelDenied      prometheus.Counter
	PromptTimeouts   prometheus.Counter
	TransfersOffered prometheus.Counter
	TransfersDone    *prometheus.CounterVec
	MessagesCleared  prometheus.Counter

	// Histograms (seconds)
	ChannelLifetime prometheus.Observer

	// Gauges
	ActiveChannelsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChannelsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "vk_channels_created_total", Help: "Number of ephemeral voice channels created"})
		ChannelsDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "vk_channels_deleted_total", Help: "Number of ephemeral voice channels deleted on emptiness"})
		ChannelsSwept = promauto.NewCounter(prometheus.CounterOpts{Name: "vk_channels_swept_total", Help: "Number of orphan channels removed by the startup sweep"})
		PanelActions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "vk_panel_actions_total", Help: "Control panel actions dispatched, by action"}, []string{"action"})
		PanelDenied = promauto.NewCounter(prometheus.CounterOpts{Name: "vk_panel_denied_total", Help: "Control panel actions rejected by the ownership check"})
		PromptTimeouts = promauto.NewCounter(prometheus.CounterOpts{Name: "vk_prompt_timeouts_total", Help: "Interactive prompts that elapsed with no input"})
		TransfersOffered = promauto.NewCounter(prometheus.CounterOpts{Name: "vk_transfers_offered_total", Help: "Ownership transfer requests sent"})
		TransfersDone = promauto.NewCounterVec(prometheus.CounterOpts{Name: "vk_transfers_resolved_total", Help: "Ownership transfer responses, by outcome"}, []string{"outcome"})
		MessagesCleared = promauto.NewCounter(prometheus.CounterOpts{Name: "vk_messages_cleared_total", Help: "Messages removed by bulk delete commands"})
		ChannelLifetime = promauto.NewHistogram(prometheus.HistogramOpts{Name: "vk_channel_lifetime_seconds", Help: "Lifetime of ephemeral channels from create to delete", Buckets: prometheus.ExponentialBuckets(1, 4, 10)})
		ActiveChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "vk_active_channels", Help: "Current number of live ephemeral channels"})
	})
}

// SetActiveChannels records the current live ephemeral channel count.
func SetActiveChannels(n int) {
	if ActiveChannelsGauge != nil {
		ActiveChannelsGauge.Set(float64(n))
	}
}

// CountPanelAction bumps the per-action counter if metrics are initialized.
func CountPanelAction(action string) {
	if PanelActions != nil {
		PanelActions.WithLabelValues(action).Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
