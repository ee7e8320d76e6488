package events

import (
	"github.com/classpilot/aihub-go/internal/domain"
	"github.com/classpilot/aihub-go/internal/infra/observability"

	"go.uber.org/zap"
)

// AttachLoggerSink subscribes a structured-logging sink to every topic.
// Quota exhaustion, rollbacks and auth failures log at warn; the rest of
// the lifecycle chatter stays at debug.
func AttachLoggerSink(bus *Bus, logger *zap.Logger) {
	bus.SubscribeAll(func(topic domain.EventTopic, payload any) {
		switch topic {
		case domain.TopicQuotaExceeded, domain.TopicUnauthorized, domain.TopicRollback:
			logger.Warn("event", zap.String("topic", string(topic)), zap.Any("payload", payload))
		case domain.TopicPhaseChanged:
			logger.Info("event", zap.String("topic", string(topic)), zap.Any("payload", payload))
		default:
			logger.Debug("event", zap.String("topic", string(topic)), zap.Any("payload", payload))
		}
	})
}

// AttachMetricsSink counts every published event by topic. Components keep
// their own purpose-built instrumentation; this sink only feeds the
// per-topic volume counter.
func AttachMetricsSink(bus *Bus, metrics *observability.Metrics) {
	bus.SubscribeAll(func(topic domain.EventTopic, payload any) {
		metrics.IncrEvent(string(topic))
	})
}
