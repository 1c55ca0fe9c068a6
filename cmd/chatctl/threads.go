package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"hirenest-chat/internal/chat"
	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/models"
	"hirenest-chat/internal/session"
)

func threadsCmd() *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List your conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, me, err := connect()
			if err != nil {
				return err
			}
			list := chat.NewAggregator(gw, log).ListThreads(cmd.Context(), me)
			if query != "" {
				list = chat.FilterSummaries(list, query)
			}
			printThreads(cmd.OutOrStdout(), list)
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "filter by counterpart name")
	return cmd
}

func printThreads(w io.Writer, list []models.ThreadSummary) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no conversations")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "THREAD\tWITH\tUPDATED\tLAST MESSAGE")
	for _, s := range list {
		last := ""
		if s.LastMessage != nil {
			last = truncate(s.LastMessage.Content, 40)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ThreadID, s.CounterpartName, s.UpdatedAt.Local().Format(time.DateTime), last)
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func ensureCmd() *cobra.Command {
	var (
		counterpart string
		forceNew    bool
	)

	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Find or start the conversation with a counterpart",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, me, err := connect()
			if err != nil {
				return err
			}
			id, err := resolveThread(cmd, gw, me, counterpart, forceNew)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&counterpart, "with", "", "the other participant's user id (required)")
	cmd.Flags().BoolVar(&forceNew, "new", false, "always start a new conversation")
	_ = cmd.MarkFlagRequired("with")
	return cmd
}

// resolveThread maps the caller's role onto the customer/provider pair and resolves it
func resolveThread(cmd *cobra.Command, gw gateway.Gateway, me session.Identity, counterpart string, forceNew bool) (string, error) {
	policy, err := chat.ParseThreadPolicy(cfg.Chat.ThreadPolicy)
	if err != nil {
		return "", err
	}
	customerID, providerID := me.UserID, counterpart
	if me.Role == models.RoleServiceProvider {
		customerID, providerID = counterpart, me.UserID
	}
	return chat.NewResolver(gw, policy, log).EnsureThread(cmd.Context(), customerID, providerID, forceNew)
}
