package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-tutor-chat/internal/chatclient"
)

func NewHistoryCommand(f *ServerFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history CONVERSATION_ID",
		Short: "Print the stored turns of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := f.Client()
			defer c.Close()
			msgs, err := c.Messages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTranscript(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
}

func printTranscript(w io.Writer, msgs []chatclient.Message) {
	for _, m := range msgs {
		fmt.Fprintf(w, "%s> %s\n", m.Role, m.Content)
	}
}
