package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprezz-net/sprezz/pkg/crypto"
	"github.com/sprezz-net/sprezz/pkg/zot"
)

func postCmd() *cobra.Command {
	var (
		title      string
		mimetype   string
		recipients []string
	)

	cmd := &cobra.Command{
		Use:   "post <nickname> <body>",
		Short: "Publish an activity from a local channel",
		Long: `Store an activity locally and notify the hubs of its recipients. Without
--to the post is public and every known remote hub is notified.`,
		Args: cobra.ExactArgs(2),
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

			res, err := eng.zot.PostMessage(cmd.Context(), zot.PostRequest{
				Nickname:   args[0],
				Title:      title,
				Body:       args[1],
				Mimetype:   mimetype,
				Recipients: recipients,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, okStyle.Render("Posted "+res.Message.MessageID))
			if len(res.Queued) == 0 {
				return nil
			}
			t := newTable("HUB", "STATUS", "DELIVERED")
			for _, q := range res.Queued {
				status := okStyle.Render("notified")
				if !q.Notified {
					status = errorStyle.Render("queued: " + q.Err.Error())
				}
				t.Row(q.HubURL, status, fmt.Sprint(len(q.Reports)))
			}
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "post title")
	cmd.Flags().StringVar(&mimetype, "mimetype", "", "body mimetype (default text/bbcode)")
	cmd.Flags().StringSliceVar(&recipients, "to", nil, "recipient channel hashes")
	return cmd
}

func keygenCmd() *cobra.Command {
	var bits int

	cmd := &cobra.Command{
		Use:   "keygen <path>",
		Short: "Generate a site key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.Generate(bits)
			if err != nil {
				return err
			}
			if err := writeKey(args[0], key); err != nil {
				return err
			}
			pub, err := key.ExportPublicPEM()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Wrote "+args[0]))
			fmt.Fprint(cmd.OutOrStdout(), pub)
			return nil
		},
	}

	cmd.Flags().IntVar(&bits, "bits", crypto.DefaultKeyBits, "RSA modulus size")
	return cmd
}
