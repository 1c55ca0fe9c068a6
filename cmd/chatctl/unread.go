package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"hirenest-chat/internal/chat"
)

func unreadCmd() *cobra.Command {
	var (
		limit int
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Show messages waiting for you",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, me, err := connect()
			if err != nil {
				return err
			}
			notifier := chat.NewNotifier(gw, log)
			out := cmd.OutOrStdout()

			if watch {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				counts, err := notifier.WatchBadge(ctx, me.UserID)
				if err != nil {
					return err
				}
				for n := range counts {
					fmt.Fprintf(out, "%s unread: %d\n", time.Now().Format(time.TimeOnly), n)
				}
				return nil
			}

			msgs, err := notifier.Unread(cmd.Context(), me.UserID, limit)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintln(out, "nothing unread")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "THREAD\tFROM\tAT\tMESSAGE")
			for _, m := range msgs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ThreadID, m.SenderID, m.CreatedAt.Local().Format(time.DateTime), truncate(m.Content, 50))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", chat.DefaultUnreadLimit, "maximum messages to show")
	cmd.Flags().BoolVar(&watch, "watch", false, "print the unread count whenever it changes")
	return cmd
}
