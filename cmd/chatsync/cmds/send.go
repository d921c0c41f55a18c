package cmds

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatsync/pkg/config"
	"github.com/go-go-golems/chatsync/pkg/outbound"
)

func NewSendCommand(opts *Options) *cobra.Command {
	var flags channelFlags

	cmd := &cobra.Command{
		Use:   "send MESSAGE...",
		Short: "Submit one message and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings(cmd, func(s *config.Settings) {
				flags.apply(cmd, s)
				// a one-shot send never needs subscriptions
				s.Topics = nil
			})
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			var sender outbound.Sender
			if s.Outbound.Mode == outbound.ModeChannel {
				if s.Transport == config.TransportMemory {
					return errNoPeers
				}
				dialer, err := newDialer(s, nil)
				if err != nil {
					return err
				}
				session := newSession(s, dialer)
				if err := session.Connect(ctx); err != nil {
					_ = session.Close()
					return err
				}
				defer func() { _ = session.Close() }()
				sender = session
			}

			d := outbound.NewDraft(strings.Join(args, " "))
			d.SetSide(s.Outbound.Side)
			if err := newSubmitter(s, sender).Submit(ctx, d); err != nil {
				return err
			}
			log.Info().Str("mode", s.Outbound.Mode).Msg("message sent")
			return nil
		},
	}
	flags.add(cmd)
	return cmd
}

var errNoPeers = errors.New("memory transport has no peers outside this process")
