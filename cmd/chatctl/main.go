// Command chatctl is a terminal client for the messaging server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"hirenest-chat/internal/config"
	"hirenest-chat/internal/gateway/remote"
	"hirenest-chat/internal/logger"
	"hirenest-chat/internal/session"
)

var (
	cfg        *config.Config
	log        *slog.Logger
	gatewayURL string
	token      string
)

func main() {
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Marketplace messaging client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(); err != nil {
				return err
			}
			log = logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			if gatewayURL == "" {
				gatewayURL = cfg.GatewayURL
			}
			if token == "" {
				token = cfg.AccessToken
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "server base URL (default: GATEWAY_URL)")
	root.PersistentFlags().StringVar(&token, "token", "", "access token (default: ACCESS_TOKEN)")

	root.AddCommand(tokenCmd())
	root.AddCommand(threadsCmd())
	root.AddCommand(ensureCmd())
	root.AddCommand(unreadCmd())
	root.AddCommand(chatCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// connect returns a gateway client and the identity carried by the access token
func connect() (*remote.Client, session.Identity, error) {
	if token == "" {
		return nil, session.Identity{}, fmt.Errorf("no access token: pass --token or set ACCESS_TOKEN")
	}
	me, err := session.Peek(token)
	if err != nil {
		return nil, session.Identity{}, err
	}
	return remote.New(gatewayURL, token, log), me, nil
}
