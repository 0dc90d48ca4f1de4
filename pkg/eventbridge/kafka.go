// Package eventbridge forwards engine ChangeEvents to an external message
// broker. It is an optional listener, not a core dependency of an
// Instance: nothing in pkg/engine or pkg/scheduler imports it. Grounded on
// pkg/channels/kafka and pkg/eventbus/watermill_event_bus.go from the
// wider example corpus.
package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tksoft/flowforge-engine/pkg/contract"
	flog "github.com/tksoft/flowforge-engine/pkg/log"
)

// DefaultTopic is the topic change events are published to absent an
// explicit override.
const DefaultTopic = "flowforge.change-events"

// wireChangeEvent is the JSON payload published for each contract.ChangeEvent.
// ModifiedObjects is deliberately omitted: Modifiable implementations are
// arbitrary user Block/Line types with no shared wire representation, so
// only the count and the instance identity travel across the bridge.
type wireChangeEvent struct {
	ID                 string                 `json:"id"`
	InstanceID         int64                  `json:"instance_id"`
	InstanceState      contract.RunnableState `json:"instance_state"`
	ModifiedObjectCount int                   `json:"modified_object_count"`
}

// KafkaBridge publishes every ChangeEvent it observes to a Kafka topic via
// a watermill publisher backed by Sarama.
type KafkaBridge struct {
	publisher message.Publisher
	topic     string
	log       *slog.Logger
}

var _ contract.EventListener = (*KafkaBridge)(nil)

// NewKafkaBridge builds a watermill-kafka publisher for the given brokers
// and wraps it as a KafkaBridge. topic defaults to DefaultTopic when empty.
func NewKafkaBridge(brokers []string, topic string) (*KafkaBridge, error) {
	if len(brokers) == 0 || (len(brokers) == 1 && strings.TrimSpace(brokers[0]) == "") {
		return nil, errors.New("eventbridge: no Kafka brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaConfig,
			OTELEnabled:           true,
		},
		watermill.NopLogger{},
	)
	if err != nil {
		return nil, err
	}

	return &KafkaBridge{
		publisher: publisher,
		topic:     topic,
		log:       flog.WithModule("eventbridge"),
	}, nil
}

// OnEvent implements contract.EventListener. Publish failures are logged,
// never propagated: a broker outage must not stall the owning instance.
func (b *KafkaBridge) OnEvent(event contract.ChangeEvent) {
	payload, err := json.Marshal(wireChangeEvent{
		ID:                  event.ID,
		InstanceID:          event.Instance.GetInstanceID(),
		InstanceState:       event.Instance.GetState(),
		ModifiedObjectCount: len(event.ModifiedObjects),
	})
	if err != nil {
		b.log.Warn("failed to marshal change event", "error", err)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)

	if err := b.publisher.Publish(b.topic, msg); err != nil {
		b.log.Warn("failed to publish change event", "error", err)
	}
}

// Close releases the underlying publisher.
func (b *KafkaBridge) Close(_ context.Context) error {
	return b.publisher.Close()
}
