package events_test

import (
	"testing"

	"github.com/classpilot/aihub-go/internal/domain"
	"github.com/classpilot/aihub-go/internal/events"
)

func TestSubscribeReceivesMatchingTopic(t *testing.T) {
	bus := events.NewBus()

	var got []any
	bus.Subscribe(domain.TopicRequestSucceeded, func(topic domain.EventTopic, payload any) {
		got = append(got, payload)
	})

	bus.Publish(domain.TopicRequestSucceeded, "first")
	bus.Publish(domain.TopicRequestSucceeded, "second")

	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("expected both payloads in order, got %v", got)
	}
}

func TestSubscribeDoesNotLeakAcrossTopics(t *testing.T) {
	bus := events.NewBus()

	var calls int
	bus.Subscribe(domain.TopicRequestSucceeded, func(topic domain.EventTopic, payload any) {
		calls++
	})

	bus.Publish(domain.TopicRequestFailed, "other")
	if calls != 0 {
		t.Fatalf("handler for another topic must not fire, got %d calls", calls)
	}
}

func TestSubscribeAllSeesEveryTopic(t *testing.T) {
	bus := events.NewBus()

	var topics []domain.EventTopic
	bus.SubscribeAll(func(topic domain.EventTopic, payload any) {
		topics = append(topics, topic)
	})

	bus.Publish(domain.TopicRequestSucceeded, nil)
	bus.Publish(domain.TopicRollback, nil)
	bus.Publish(domain.TopicQuotaUpdated, nil)

	want := []domain.EventTopic{domain.TopicRequestSucceeded, domain.TopicRollback, domain.TopicQuotaUpdated}
	if len(topics) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(topics))
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], topics[i])
		}
	}
}

func TestMultipleHandlersFireInSubscriptionOrder(t *testing.T) {
	bus := events.NewBus()

	var order []string
	bus.Subscribe(domain.TopicRequestSucceeded, func(topic domain.EventTopic, payload any) {
		order = append(order, "topical")
	})
	bus.SubscribeAll(func(topic domain.EventTopic, payload any) {
		order = append(order, "all")
	})

	bus.Publish(domain.TopicRequestSucceeded, nil)

	if len(order) != 2 || order[0] != "topical" || order[1] != "all" {
		t.Fatalf("expected topical handlers before catch-all, got %v", order)
	}
}
