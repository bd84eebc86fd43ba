package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func channelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage local channels",
	}
	cmd.AddCommand(channelAddCmd(), channelListCmd())
	return cmd
}

func channelAddCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add <nickname>",
		Short: "Create a local channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			eng, err := openEngine(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			ch, err := eng.zot.AddChannel(cmd.Context(), args[0], name)
			if err != nil {
				return err
			}
			x, err := eng.store.GetXChannel(cmd.Context(), ch.ChannelHash)
			if err != nil {
				return err
			}

			writeFields(cmd.OutOrStdout(), "Channel created", []field{
				{"Nickname", ch.Nickname},
				{"Name", ch.Name},
				{"Address", x.Address},
				{"URL", x.URL},
				{"GUID", ch.GUID},
				{"Channel hash", ch.ChannelHash},
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the nickname)")
	return cmd
}

func channelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List local channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			eng, err := openEngine(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			channels, err := eng.zot.ListChannels(cmd.Context())
			if err != nil {
				return err
			}
			if len(channels) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render("No channels"))
				return nil
			}

			t := newTable("NICKNAME", "NAME", "CHANNEL HASH", "CREATED")
			for _, ch := range channels {
				t.Row(ch.Nickname, ch.Name, shorten(ch.ChannelHash, 24), ch.CreatedAt.Format("2006-01-02 15:04"))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
}
