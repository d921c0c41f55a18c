package redisstream

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Settings holds Redis Streams transport configuration for Watermill.
//
// An empty Group selects fan-out mode: every connection reads every message
// on the subscribed streams, which is what a chat view wants. Setting Group
// makes connections sharing it split the messages between themselves.
type Settings struct {
	Group          string `yaml:"group" envconfig:"GROUP"`
	ConsumerPrefix string `yaml:"consumer-prefix" envconfig:"CONSUMER_PREFIX"`
}

func DefaultSettings() Settings {
	return Settings{ConsumerPrefix: "chatsync"}
}

// ClientOptions turns a broker endpoint into go-redis options. Bare host:port
// addresses are accepted in addition to redis:// and rediss:// URLs.
func ClientOptions(endpoint string) (*redis.Options, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("redis endpoint is empty")
	}
	if !strings.Contains(endpoint, "://") {
		return &redis.Options{Addr: endpoint}, nil
	}
	opts, err := redis.ParseURL(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parse redis endpoint %q", endpoint)
	}
	return opts, nil
}
