package cmds

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatsync/pkg/config"
	"github.com/go-go-golems/chatsync/pkg/logging"
	"github.com/go-go-golems/chatsync/pkg/relay"
)

func NewRelayCommand(opts *Options) *cobra.Command {
	var (
		addr      string
		transport string
		endpoint  string
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a local relay: HTTP submissions, websocket fan-out and a time ticker",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings(cmd, func(s *config.Settings) {
				f := cmd.Flags()
				if f.Changed("addr") {
					s.Relay.Addr = addr
				}
				if f.Changed("transport") {
					s.Relay.Transport = transport
				}
				if f.Changed("endpoint") {
					s.Relay.Endpoint = endpoint
				}
				if f.Changed("time-interval") {
					s.Relay.TimeInterval = interval
				}
			})
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			wmLogger := logging.NewWatermill(log.Logger)
			var pub message.Publisher
			switch s.Relay.Transport {
			case config.TransportMemory:
				log.Warn().Str("component", "relay").Msg("memory transport: published messages only reach websocket clients of this relay")
				pub = gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
			default:
				pub, err = relay.NewRedisPublisher(ctx, s.Relay.Endpoint, wmLogger)
				if err != nil {
					return err
				}
			}
			defer func() { _ = pub.Close() }()

			return relay.NewServer(relay.Settings{
				Addr:         s.Relay.Addr,
				InputTopic:   s.Relay.InputTopic,
				TimeTopic:    s.Relay.TimeTopic,
				TimeInterval: s.Relay.TimeInterval,
			}, pub).Run(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "Listen address")
	f.StringVar(&transport, "transport", "", "Publisher transport (pubsub, memory)")
	f.StringVar(&endpoint, "endpoint", "", "Redis endpoint for the pubsub transport")
	f.DurationVar(&interval, "time-interval", 0, "Interval between time publications (0 disables)")
	return cmd
}
