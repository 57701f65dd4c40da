package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time.
var Version = "dev"

type globalOpts struct {
	server string
	token  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}

	cmd := &cobra.Command{
		Use:           "chatcli",
		Short:         "Talk to a tripchat server from the terminal",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&opts.server, "server", "s", envOr("TRIPCHAT_SERVER", "http://localhost:8080"), "server base URL")
	cmd.PersistentFlags().StringVarP(&opts.token, "token", "t", os.Getenv("TRIPCHAT_TOKEN"), "bearer token (default $TRIPCHAT_TOKEN)")

	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newTokenCmd())
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// wsURL maps the REST base URL onto the websocket endpoint.
func (o *globalOpts) wsURL() string {
	base := strings.TrimRight(o.server, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
