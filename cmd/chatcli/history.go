package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ammar1510/tripchat/internal/client"
	"github.com/ammar1510/tripchat/internal/models"
)

func newHistoryCmd(opts *globalOpts) *cobra.Command {
	var (
		limit  int
		before string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "history <trip-id>",
		Short: "Print a trip's message history",
		Long:  "Prints one page of history, newest page first unless --before is given. Use --all to walk back to the first message.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tripID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid trip id %q", args[0])
			}
			if opts.token == "" {
				return errors.New("a token is required (--token or $TRIPCHAT_TOKEN)")
			}

			h := client.NewHistory(opts.server, opts.token)
			h.Limit = limit

			// pages arrive newest first; collect and print oldest first
			var pages [][]*models.Message
			for {
				page, err := h.Page(cmd.Context(), tripID, before)
				if err != nil {
					return err
				}
				pages = append(pages, page.Messages)
				if !all || !page.HasMore {
					break
				}
				before = page.NextCursor
			}

			out := cmd.OutOrStdout()
			for i := len(pages) - 1; i >= 0; i-- {
				for _, m := range pages[i] {
					printMessage(out, m.CreatedAt, m.Sender.Name, m.Text)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "messages per page (server default 10, max 50)")
	cmd.Flags().StringVar(&before, "before", "", "only messages older than this message id")
	cmd.Flags().BoolVar(&all, "all", false, "follow cursors back to the beginning")
	return cmd
}

func printMessage(out io.Writer, at time.Time, sender, text string) {
	if sender == "" {
		sender = "unknown"
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", at.Local().Format("2006-01-02 15:04"), sender, text)
}
