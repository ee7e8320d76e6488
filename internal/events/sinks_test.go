package events_test

import (
	"testing"

	"github.com/classpilot/aihub-go/internal/domain"
	"github.com/classpilot/aihub-go/internal/events"
	"github.com/classpilot/aihub-go/internal/infra/observability"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerSinkLevelsByTopic(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	bus := events.NewBus()
	events.AttachLoggerSink(bus, zap.New(core))

	bus.Publish(domain.TopicQuotaExceeded, nil)
	bus.Publish(domain.TopicPhaseChanged, nil)
	bus.Publish(domain.TopicStreamChunk, nil)

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(entries))
	}
	want := []zapcore.Level{zapcore.WarnLevel, zapcore.InfoLevel, zapcore.DebugLevel}
	for i, lvl := range want {
		if entries[i].Level != lvl {
			t.Errorf("entry %d: expected %s, got %s", i, lvl, entries[i].Level)
		}
	}
}

func TestMetricsSinkCountsEventsByTopic(t *testing.T) {
	metrics := observability.NewMetrics()
	bus := events.NewBus()
	events.AttachMetricsSink(bus, metrics)

	bus.Publish(domain.TopicRequestSucceeded, nil)
	bus.Publish(domain.TopicRequestSucceeded, nil)
	bus.Publish(domain.TopicRollback, nil)

	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	counts := map[string]float64{}
	for _, fam := range families {
		if fam.GetName() != "aihub_events_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "topic" {
					counts[label.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}

	if counts[string(domain.TopicRequestSucceeded)] != 2 {
		t.Errorf("expected 2 request.succeeded events, got %v", counts)
	}
	if counts[string(domain.TopicRollback)] != 1 {
		t.Errorf("expected 1 rollback event, got %v", counts)
	}
}
