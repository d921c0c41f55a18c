package cmds

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
	"github.com/go-go-golems/chatsync/pkg/config"
	"github.com/go-go-golems/chatsync/pkg/relay"
)

func NewTailCommand(opts *Options) *cobra.Command {
	var flags channelFlags
	var showOrigin bool

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print messages from the channel as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings(cmd, func(s *config.Settings) { flags.apply(cmd, s) })
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			shared := inProcessBackend(s)
			dialer, err := newDialer(s, shared)
			if err != nil {
				return err
			}
			session := newSession(s, dialer)

			p := &entryPrinter{out: cmd.OutOrStdout(), showOrigin: showOrigin}
			remove := session.Core().AddListener(p.onSnapshot)
			defer remove()

			eg, ctx := errgroup.WithContext(ctx)
			if shared != nil {
				startEmbeddedRelay(ctx, eg, s, shared)
			}
			eg.Go(func() error { return session.Run(ctx) })
			return eg.Wait()
		},
	}
	flags.add(cmd)
	cmd.Flags().BoolVar(&showOrigin, "show-origin", false, "Prefix each line with its origin")
	return cmd
}

// entryPrinter writes every entry exactly once, in insertion order.
type entryPrinter struct {
	mu         sync.Mutex
	out        io.Writer
	showOrigin bool
	printed    uint64
}

func (p *entryPrinter) onSnapshot(s chatsync.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// InsertionOrder starts at 1 and has no gaps
	start := min(int(p.printed), len(s.Entries))
	for _, e := range s.Entries[start:] {
		if e.InsertionOrder <= p.printed {
			continue
		}
		p.printed = e.InsertionOrder
		if p.showOrigin {
			_, _ = fmt.Fprintf(p.out, "[%s] %s\n", e.Origin, e.DisplayText)
		} else {
			_, _ = fmt.Fprintln(p.out, e.DisplayText)
		}
	}
}

func startEmbeddedRelay(ctx context.Context, eg *errgroup.Group, s config.Settings, shared *gochannel.GoChannel) {
	srv := relay.NewServer(relay.Settings{
		Addr:         s.Relay.Addr,
		InputTopic:   s.Relay.InputTopic,
		TimeTopic:    s.Relay.TimeTopic,
		TimeInterval: s.Relay.TimeInterval,
	}, shared)
	eg.Go(func() error {
		defer func() { _ = shared.Close() }()
		return srv.Run(ctx)
	})
}
