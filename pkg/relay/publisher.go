package relay

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/redisstream"
)

// redisPublisher owns the client behind a redis streams publisher.
type redisPublisher struct {
	message.Publisher
	client *redis.Client
}

func (p *redisPublisher) Close() error {
	err := p.Publisher.Close()
	if cerr := p.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// NewRedisPublisher connects to the broker at endpoint. Closing the returned
// publisher also closes its client.
func NewRedisPublisher(ctx context.Context, endpoint string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	opts, err := redisstream.ClientOptions(endpoint)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", endpoint)
	}
	pub, err := redisstream.BuildPublisher(client, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Info().Str("component", "relay").Str("endpoint", endpoint).Msg("publishing to redis streams")
	return &redisPublisher{Publisher: pub, client: client}, nil
}
