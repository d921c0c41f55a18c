package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatsync/cmd/chatsync/cmds"
)

func newRootCommand() *cobra.Command {
	opts := &cmds.Options{}
	rootCmd := &cobra.Command{
		Use:           "chatsync",
		Short:         "chatsync keeps a local message log in sync with a real-time channel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.AddPersistentFlags(rootCmd)

	rootCmd.AddCommand(
		cmds.NewTailCommand(opts),
		cmds.NewChatCommand(opts),
		cmds.NewSendCommand(opts),
		cmds.NewRelayCommand(opts),
	)
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("chatsync failed")
		os.Exit(1)
	}
}
