package cmds

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatsync/pkg/config"
	"github.com/go-go-golems/chatsync/pkg/ui"
)

const defaultChatLog = "~/.chatsync/chatsync.log"

func NewChatCommand(opts *Options) *cobra.Command {
	var flags channelFlags
	var markdown bool
	var threshold int

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive terminal view of the channel with an input line",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
				return errors.New("chat needs a terminal; use tail for non-interactive output")
			}
			s, err := opts.settings(cmd, func(s *config.Settings) {
				flags.apply(cmd, s)
				if cmd.Flags().Changed("markdown") {
					s.UI.Markdown = markdown
				}
				if cmd.Flags().Changed("follow-threshold") {
					s.UI.FollowThreshold = threshold
				}
				// the screen belongs to the UI
				if s.Log.File == "" {
					if p, err := homedir.Expand(defaultChatLog); err == nil {
						_ = os.MkdirAll(filepath.Dir(p), 0o755)
						s.Log.File = p
					}
				}
			})
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			shared := inProcessBackend(s)
			dialer, err := newDialer(s, shared)
			if err != nil {
				return err
			}
			session := newSession(s, dialer)
			submitter := newSubmitter(s, session)

			eg, ctx := errgroup.WithContext(ctx)
			if shared != nil {
				startEmbeddedRelay(ctx, eg, s, shared)
			}
			eg.Go(func() error { return session.Run(ctx) })
			eg.Go(func() error {
				// quitting the UI ends everything else
				defer cancel()
				return ui.Run(ctx, session.Core(), submitter, ui.Options{
					Title:           "chatsync " + session.Endpoint(),
					FollowThreshold: s.UI.FollowThreshold,
					Markdown:        s.UI.Markdown,
					Side:            s.Outbound.Side,
				})
			})
			return eg.Wait()
		},
	}
	flags.add(cmd)
	cmd.Flags().BoolVar(&markdown, "markdown", false, "Render messages as markdown")
	cmd.Flags().IntVar(&threshold, "follow-threshold", 3, "Lines from the bottom within which the view follows new messages")
	return cmd
}
