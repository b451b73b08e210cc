package indexing

import (
	"context"

	"github.com/reviewstack/search-pipeline/pkg/kafka"
	"github.com/reviewstack/search-pipeline/pkg/logger"
)

// KafkaChangeHandler returns a kafka.MessageHandler that feeds change events
// from a topic into the queue. It accepts the same JSON payload as the
// Postgres notification channel, for deployments where CDC events arrive via
// a broker instead of LISTEN/NOTIFY. Malformed messages are logged and
// committed so a poison payload can never wedge the partition.
func KafkaChangeHandler(queue Queue) kafka.MessageHandler {
	log := logger.WithComponent("kafka-change-source")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := ParseChangeNotification(value)
		if err != nil {
			log.Warn("dropping invalid change message",
				"key", string(key),
				"error", err,
			)
			return nil
		}

		if err := queue.Enqueue(ctx, event); err != nil {
			log.Error("failed to enqueue indexing event",
				"event_id", event.ID,
				"entity_id", event.EntityID,
				"error", err,
			)
			return err
		}
		return nil
	}
}
