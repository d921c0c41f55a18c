// Package config loads chatsync settings from defaults, an optional YAML file
// and CHATSYNC_* environment variables, in that order.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
	"github.com/go-go-golems/chatsync/pkg/logging"
	"github.com/go-go-golems/chatsync/pkg/redisstream"
)

const (
	EnvPrefix   = "CHATSYNC"
	DefaultPath = "~/.chatsync/config.yaml"
)

const (
	TransportPubSub = "pubsub"
	TransportSocket = "socket"
	TransportMemory = "memory"
)

type Settings struct {
	Transport string            `yaml:"transport" envconfig:"TRANSPORT" validate:"oneof=pubsub socket memory"`
	Endpoint  string            `yaml:"endpoint" envconfig:"ENDPOINT" validate:"required_unless=Transport memory"`
	Topics    []string          `yaml:"topics" envconfig:"TOPICS" validate:"dive,required"`
	Prefixes  map[string]string `yaml:"prefixes" envconfig:"PREFIXES"`

	Redis     redisstream.Settings       `yaml:"redis" envconfig:"REDIS"`
	Outbound  OutboundSettings           `yaml:"outbound" envconfig:"OUTBOUND"`
	Reconnect chatsync.ReconnectSettings `yaml:"reconnect" envconfig:"RECONNECT"`
	UI        UISettings                 `yaml:"ui" envconfig:"UI"`
	Log       logging.Settings           `yaml:"log" envconfig:"LOG"`
	Relay     RelaySettings              `yaml:"relay" envconfig:"RELAY"`
}

// OutboundSettings selects where submitted drafts go. In channel mode they
// are written to Topic on the live connection.
type OutboundSettings struct {
	Mode    string        `yaml:"mode" envconfig:"MODE" validate:"oneof=http channel"`
	URL     string        `yaml:"url" envconfig:"URL" validate:"required_if=Mode http,omitempty,url"`
	Topic   string        `yaml:"topic" envconfig:"TOPIC" validate:"required_if=Mode channel"`
	Side    string        `yaml:"side" envconfig:"SIDE"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gte=0"`
}

type UISettings struct {
	// FollowThreshold is in lines.
	FollowThreshold int  `yaml:"follow-threshold" envconfig:"FOLLOW_THRESHOLD" validate:"gte=0"`
	Markdown        bool `yaml:"markdown" envconfig:"MARKDOWN"`
}

type RelaySettings struct {
	Addr         string        `yaml:"addr" envconfig:"ADDR" validate:"required,hostname_port"`
	Transport    string        `yaml:"transport" envconfig:"TRANSPORT" validate:"oneof=pubsub memory"`
	Endpoint     string        `yaml:"endpoint" envconfig:"ENDPOINT" validate:"required_if=Transport pubsub"`
	InputTopic   string        `yaml:"input-topic" envconfig:"INPUT_TOPIC" validate:"required"`
	TimeTopic    string        `yaml:"time-topic" envconfig:"TIME_TOPIC"`
	TimeInterval time.Duration `yaml:"time-interval" envconfig:"TIME_INTERVAL" validate:"gte=0"`
}

func Default() Settings {
	return Settings{
		Transport: TransportPubSub,
		Endpoint:  "localhost:6379",
		Topics:    []string{"test", "time"},
		Prefixes:  chatsync.DefaultPrefixes(),
		Redis:     redisstream.DefaultSettings(),
		Outbound: OutboundSettings{
			Mode:    "http",
			URL:     "http://127.0.0.1:8080/api/message",
			Timeout: 10 * time.Second,
		},
		Reconnect: chatsync.DefaultReconnectSettings(),
		UI:        UISettings{FollowThreshold: 3},
		Log:       logging.DefaultSettings(),
		Relay: RelaySettings{
			Addr:         "127.0.0.1:8080",
			Transport:    TransportPubSub,
			Endpoint:     "localhost:6379",
			InputTopic:   "test",
			TimeTopic:    "time",
			TimeInterval: time.Second,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path and then the
// environment. An empty path reads DefaultPath when it exists; an explicit
// path must exist.
func Load(path string) (Settings, error) {
	s := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath
	}
	resolved, err := homedir.Expand(path)
	if err != nil {
		return s, errors.Wrapf(err, "resolve config path %q", path)
	}
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, errors.Wrapf(err, "parse config %s", resolved)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return s, errors.Wrapf(err, "read config %s", resolved)
	}

	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return s, errors.Wrap(err, "read environment")
	}
	return s, nil
}

var validate = validator.New()

func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if s.Transport == TransportSocket && s.Outbound.Mode == "channel" && s.Outbound.Topic != "socket" {
		return errors.New("invalid configuration: socket transport only sends on topic \"socket\"")
	}
	return nil
}
