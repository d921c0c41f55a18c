package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// BuildPublisher returns a Redis Streams publisher on an existing client.
func BuildPublisher(client redis.UniversalClient, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
}

// BuildSubscriber returns a Redis Streams subscriber. With a consumer group
// configured the consumer name is unique per call so parallel connections
// never steal each other's pending entries.
func BuildSubscriber(client redis.UniversalClient, s Settings, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	cfg := rstream.SubscriberConfig{
		Client:       client,
		Unmarshaller: rstream.DefaultMarshallerUnmarshaller{},
	}
	if s.Group != "" {
		cfg.ConsumerGroup = s.Group
		cfg.Consumer = ConsumerName(s.ConsumerPrefix)
	}
	return rstream.NewSubscriber(cfg, logger)
}

func ConsumerName(prefix string) string {
	if prefix == "" {
		prefix = "chatsync"
	}
	return prefix + ":" + uuid.NewString()
}

// EnsureGroupAtTail creates the consumer group for a given stream at the tail ($) if it doesn't exist.
// This prevents full historical replay on first subscribe.
func EnsureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	if group == "" {
		return nil
	}
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// Ignore BUSYGROUP errors (group already exists)
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
