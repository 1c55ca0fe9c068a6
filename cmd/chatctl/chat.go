package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hirenest-chat/internal/chat"
	"hirenest-chat/internal/models"
)

func chatCmd() *cobra.Command {
	var (
		threadID    string
		counterpart string
		forceNew    bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open a conversation and chat interactively",
		Long: `Opens a conversation by --thread, or resolves one with --with.
Type a line and press enter to send it. /threads lists conversations, /quit exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (threadID == "") == (counterpart == "") {
				return fmt.Errorf("pass exactly one of --thread or --with")
			}
			gw, me, err := connect()
			if err != nil {
				return err
			}
			mode, err := chat.ParseReconcileMode(cfg.Chat.ReconcileMode)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if threadID == "" {
				if threadID, err = resolveThread(cmd, gw, me, counterpart, forceNew); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			aggregator := chat.NewAggregator(gw, log)
			refreshed := make(chan []models.ThreadSummary, 1)

			stream := chat.NewStream(gw, me,
				chat.WithReconcileMode(mode),
				chat.WithStreamLogger(log),
				chat.WithOnSent(func(string) {
					list := aggregator.ListThreads(ctx, me)
					select {
					case <-refreshed:
					default:
					}
					select {
					case refreshed <- list:
					default:
					}
				}),
			)
			defer func() {
				stream.Close()
				stream.Wait()
			}()

			if err := stream.Open(ctx, threadID); err != nil {
				return err
			}
			fmt.Fprintf(out, "conversation %s (/quit to exit)\n", threadID)

			lines := make(chan string)
			go readLines(cmd.InOrStdin(), lines)

			view := newTranscript(out, me.UserID)
			var threads []models.ThreadSummary
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-stream.Changes():
					view.render(stream.Messages())
				case threads = <-refreshed:
					log.Debug("thread list refreshed", "count", len(threads))
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					switch strings.TrimSpace(line) {
					case "/quit":
						return nil
					case "/threads":
						if threads == nil {
							threads = aggregator.ListThreads(ctx, me)
						}
						printThreads(out, threads)
						continue
					}
					stream.SetDraft(line)
					stream.SubmitDraft()
				}
			}
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "conversation id to open")
	cmd.Flags().StringVar(&counterpart, "with", "", "resolve the conversation with this user id")
	cmd.Flags().BoolVar(&forceNew, "new", false, "with --with, always start a new conversation")
	return cmd
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

// transcript prints each message once. Placeholders print as pending and are
// printed again when the confirmed copy arrives.
type transcript struct {
	w       io.Writer
	me      string
	printed map[string]bool
}

func newTranscript(w io.Writer, me string) *transcript {
	return &transcript{w: w, me: me, printed: make(map[string]bool)}
}

func (t *transcript) render(msgs []models.ChatMessage) {
	for _, m := range msgs {
		// Placeholder ids are unique temp ids, so each pending send prints once
		if t.printed[m.ID] {
			continue
		}
		t.printed[m.ID] = true

		who := m.SenderID
		if m.SenderID == t.me {
			who = "you"
		}
		status := ""
		if m.Optimistic {
			status = " (sending)"
		}
		fmt.Fprintf(t.w, "[%s] %s: %s%s\n", m.CreatedAt.Local().Format(time.TimeOnly), who, m.Content, status)
	}
}
