package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatsync/pkg/channel"
	"github.com/go-go-golems/chatsync/pkg/chatsync"
	"github.com/go-go-golems/chatsync/pkg/config"
	"github.com/go-go-golems/chatsync/pkg/logging"
	"github.com/go-go-golems/chatsync/pkg/outbound"
)

// Options holds the root flags shared by every subcommand.
type Options struct {
	ConfigPath string
	LogLevel   string
	LogFile    string
	LogFormat  string
	WithCaller bool
}

func (o *Options) AddPersistentFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.ConfigPath, "config", "", "Config file (default "+config.DefaultPath+")")
	f.StringVar(&o.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	f.StringVar(&o.LogFile, "log-file", "", "Write logs to this file instead of stderr")
	f.StringVar(&o.LogFormat, "log-format", "", "Log format (auto, text, json)")
	f.BoolVar(&o.WithCaller, "with-caller", false, "Include caller in log lines")
}

// channelFlags are the connection overrides shared by tail, chat and send.
type channelFlags struct {
	transport string
	endpoint  string
	topics    []string
	reconnect bool

	outboundMode string
	outboundURL  string
	outboundTo   string
	side         string
}

func (c *channelFlags) add(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&c.transport, "transport", "", "Channel transport (pubsub, socket, memory)")
	f.StringVar(&c.endpoint, "endpoint", "", "Broker or socket endpoint")
	f.StringSliceVar(&c.topics, "topic", nil, "Topic to subscribe to (repeatable)")
	f.BoolVar(&c.reconnect, "reconnect", false, "Reconnect with backoff when the channel drops")
	f.StringVar(&c.outboundMode, "outbound-mode", "", "Where submissions go (http, channel)")
	f.StringVar(&c.outboundURL, "outbound-url", "", "HTTP endpoint for submissions")
	f.StringVar(&c.outboundTo, "outbound-topic", "", "Topic for submissions in channel mode")
	f.StringVar(&c.side, "side", "", "Side tag attached to submissions")
}

func (c *channelFlags) apply(cmd *cobra.Command, s *config.Settings) {
	f := cmd.Flags()
	if f.Changed("transport") {
		s.Transport = c.transport
	}
	if f.Changed("endpoint") {
		s.Endpoint = c.endpoint
	}
	if f.Changed("topic") {
		s.Topics = c.topics
	}
	if f.Changed("reconnect") {
		s.Reconnect.Enabled = c.reconnect
	}
	if f.Changed("outbound-mode") {
		s.Outbound.Mode = c.outboundMode
	}
	if f.Changed("outbound-url") {
		s.Outbound.URL = c.outboundURL
	}
	if f.Changed("outbound-topic") {
		s.Outbound.Topic = c.outboundTo
	}
	if f.Changed("side") {
		s.Outbound.Side = c.side
	}
	if s.Transport == config.TransportSocket {
		s.Topics = []string{channel.SocketChannel}
	}
}

// settings loads the layered configuration, lets apply override it from
// flags, validates it and initializes logging.
func (o *Options) settings(cmd *cobra.Command, apply func(*config.Settings)) (config.Settings, error) {
	s, err := config.Load(o.ConfigPath)
	if err != nil {
		return s, err
	}
	pf := cmd.Flags()
	if pf.Changed("log-level") {
		s.Log.Level = o.LogLevel
	}
	if pf.Changed("log-file") {
		s.Log.File = o.LogFile
	}
	if pf.Changed("log-format") {
		s.Log.Format = o.LogFormat
	}
	if pf.Changed("with-caller") {
		s.Log.WithCaller = o.WithCaller
	}
	if apply != nil {
		apply(&s)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	if err := logging.Init(s.Log); err != nil {
		return s, err
	}
	return s, nil
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// inProcessBackend is non-nil only for the memory transport, which runs a
// relay inside the same process.
func inProcessBackend(s config.Settings) *gochannel.GoChannel {
	if s.Transport != config.TransportMemory {
		return nil
	}
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logging.NewWatermill(log.Logger))
}

func newDialer(s config.Settings, shared *gochannel.GoChannel) (channel.Dialer, error) {
	switch s.Transport {
	case config.TransportPubSub:
		return channel.NewRedisDialer(s.Redis), nil
	case config.TransportSocket:
		return channel.NewSocketDialer(), nil
	case config.TransportMemory:
		if shared == nil {
			return nil, errors.New("memory transport needs an in-process backend")
		}
		return channel.NewInProcessDialer(shared), nil
	default:
		return nil, errors.Errorf("unknown transport %q", s.Transport)
	}
}

func newSession(s config.Settings, dialer channel.Dialer) *chatsync.Session {
	core := chatsync.NewCore(chatsync.WithFormatter(chatsync.NewPrefixFormatter(s.Prefixes)))
	var opts []chatsync.SessionOption
	if s.Reconnect.Enabled {
		opts = append(opts, chatsync.WithReconnect(s.Reconnect))
	}
	endpoint := s.Endpoint
	if s.Transport == config.TransportMemory && endpoint == "" {
		endpoint = "memory://local"
	}
	return chatsync.NewSession(core, dialer, endpoint, s.Topics, opts...)
}

func newSubmitter(s config.Settings, sender outbound.Sender) *outbound.Submitter {
	if s.Outbound.Mode == outbound.ModeChannel {
		// pub/sub subscribers decode bare text, the socket carries chat frames
		raw := s.Transport != config.TransportSocket
		return outbound.NewSubmitter(outbound.NewChannelDispatcher(sender, s.Outbound.Topic, raw))
	}
	return outbound.NewSubmitter(outbound.NewHTTPDispatcher(s.Outbound.URL, s.Outbound.Timeout))
}
