// Command tutorchat is a terminal client for the tutor chat API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tbourn/go-tutor-chat/internal/chatclient"
	"github.com/tbourn/go-tutor-chat/internal/sysutil"
)

// ServerFlags locate the server and identify the caller.
type ServerFlags struct {
	Server   string
	Token    string
	User     string
	LogLevel string
}

func NewServerFlags() *ServerFlags {
	return &ServerFlags{
		Server:   sysutil.FirstNonEmpty(os.Getenv("TUTORCHAT_SERVER"), "http://localhost:8080"),
		Token:    os.Getenv("TUTORCHAT_TOKEN"),
		User:     os.Getenv("TUTORCHAT_USER"),
		LogLevel: "warn",
	}
}

func (f *ServerFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.Server, "server", f.Server, "Base URL of the chat server")
	fs.StringVar(&f.Token, "token", f.Token, "Bearer token (JWT) identifying the user")
	fs.StringVar(&f.User, "user", f.User, "User id sent as X-User-ID (development servers only)")
	fs.StringVar(&f.LogLevel, "log-level", f.LogLevel, "Log level (debug,info,warn,error)")
}

// Client builds an API client from the flags.
func (f *ServerFlags) Client() *chatclient.Client {
	log := sysutil.SetupLogger(f.LogLevel, true, "tutorchat", os.Stderr)
	return chatclient.New(f.Server,
		chatclient.WithToken(f.Token),
		chatclient.WithDevUser(f.User),
		chatclient.WithLogger(log),
	)
}

func newRootCommand() *cobra.Command {
	f := NewServerFlags()
	root := &cobra.Command{
		Use:           "tutorchat",
		Short:         "Chat with tutor bots from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f.BindFlags(root.PersistentFlags())
	root.AddCommand(
		NewBotsCommand(f),
		NewChatCommand(f),
		NewHistoryCommand(f),
	)
	return root
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
