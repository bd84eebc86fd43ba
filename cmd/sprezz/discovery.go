package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprezz-net/sprezz/pkg/zot"
)

func fingerCmd() *cobra.Command {
	var (
		siteURL string
		save    bool
	)

	cmd := &cobra.Command{
		Use:   "finger <address|channel-hash>",
		Short: "Query a channel's zot-info",
		Long: `Look up a channel by nickname@host, or by channel hash together with --site.
With --save the verified result is imported into the local store.`,
		Args: cobra.ExactArgs(1),
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

			req := zot.FingerRequest{Address: args[0]}
			if siteURL != "" {
				req = zot.FingerRequest{ChannelHash: args[0], SiteURL: siteURL}
			}
			info, err := eng.zot.Finger(cmd.Context(), req)
			if err != nil {
				return err
			}
			writeChannelInfo(cmd.OutOrStdout(), info.ChannelInfo)

			if save {
				res, err := eng.zot.ImportXChannel(cmd.Context(), info)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), importSummary(res))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&siteURL, "site", "", "site url to query by channel hash")
	cmd.Flags().BoolVar(&save, "save", false, "import the result")
	return cmd
}

func connectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect <nickname> <address>",
		Short: "Discover a remote channel on behalf of a local channel",
		Args:  cobra.ExactArgs(2),
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

			res, err := eng.zot.AddConnection(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), importSummary(res))
			return nil
		},
	}
	return cmd
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping <callback-url>",
		Short: "Ping a hub callback and verify its site identity",
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

			site, err := eng.zot.Ping(cmd.Context(), args[0])
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("Ping failed"))
				return err
			}
			writeFields(cmd.OutOrStdout(), "Hub is alive", []field{
				{"URL", site.URL},
				{"Signature", okStyle.Render("verified")},
				{"Site key", firstKeyLine(site.SiteKey)},
			})
			return nil
		},
	}
}

func writeChannelInfo(w io.Writer, ci *zot.ChannelInfo) {
	if ci == nil {
		return
	}
	writeFields(w, ci.Name, []field{
		{"Address", ci.Address},
		{"URL", ci.URL},
		{"GUID", shorten(ci.GUID, 32)},
		{"Channel hash", shorten(zot.CreateChannelHash(ci.GUID, ci.GUIDSig), 32)},
		{"Searchable", yesNo(ci.Searchable)},
	})

	t := newTable("URL", "CALLBACK", "PRIMARY")
	for _, loc := range ci.Locations {
		t.Row(loc.URL, loc.Callback, yesNo(loc.Primary))
	}
	fmt.Fprintln(w, t.Render())
}

func importSummary(res *zot.ImportResult) string {
	if !res.Modified() {
		return warnStyle.Render("Imported " + shorten(res.ChannelHash, 24) + ": no changes")
	}
	var parts []string
	if res.XChannel.Created {
		parts = append(parts, "channel created")
	} else if len(res.XChannel.Changed) > 0 {
		parts = append(parts, "channel updated: "+strings.Join(res.XChannel.Changed, ", "))
	}
	for _, h := range res.Hubs {
		if h.Created {
			parts = append(parts, "hub created")
		} else if len(h.Changed) > 0 {
			parts = append(parts, "hub updated: "+strings.Join(h.Changed, ", "))
		}
	}
	if res.Site != nil && res.Site.Modified() {
		parts = append(parts, "site stored")
	}
	return okStyle.Render("Imported "+shorten(res.ChannelHash, 24)) + " (" + strings.Join(parts, "; ") + ")"
}

func firstKeyLine(pem string) string {
	lines := strings.Split(strings.TrimSpace(pem), "\n")
	if len(lines) < 2 {
		return pem
	}
	return shorten(lines[1], 32)
}
