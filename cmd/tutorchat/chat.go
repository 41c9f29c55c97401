package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tbourn/go-tutor-chat/internal/chatclient"
)

type ChatFlags struct {
	Bot          string
	Conversation string
	NoSave       bool
}

func (f *ChatFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.Bot, "bot", f.Bot, "Slug of the bot to chat with (required)")
	fs.StringVar(&f.Conversation, "conversation", f.Conversation, "Resume an existing conversation")
	fs.BoolVar(&f.NoSave, "no-save", f.NoSave, "Do not store the conversation on the server")
}

func NewChatCommand(sf *ServerFlags) *cobra.Command {
	f := &ChatFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat. Ctrl-C stops a reply; at the prompt it exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := sf.Client()
			defer c.Close()

			s, err := openSession(ctx, c, f)
			if err != nil {
				return err
			}

			interrupts := make(chan os.Signal, 1)
			signal.Notify(interrupts, os.Interrupt)
			defer signal.Stop(interrupts)

			return runChat(ctx, s, cmd.InOrStdin(), cmd.OutOrStdout(), interrupts)
		},
	}
	f.BindFlags(cmd.Flags())
	_ = cmd.MarkFlagRequired("bot")
	return cmd
}

func openSession(ctx context.Context, c *chatclient.Client, f *ChatFlags) (*chatclient.Session, error) {
	bots, err := c.Bots(ctx)
	if err != nil {
		return nil, err
	}
	var bot *chatclient.Bot
	for i := range bots {
		if bots[i].Slug == f.Bot {
			bot = &bots[i]
			break
		}
	}
	if bot == nil {
		return nil, fmt.Errorf("bot %q unavailable", f.Bot)
	}

	s := chatclient.NewSession(c, *bot, f.Conversation)
	switch {
	case f.Conversation != "":
		if err := s.Load(ctx); err != nil {
			return nil, err
		}
	case !f.NoSave:
		if _, err := s.EnsureConversation(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// readLines feeds lines from in until EOF or until done is closed.
func readLines(in io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case <-done:
				return
			default:
			}
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}

// runChat is the prompt loop. An interrupt while a reply streams stops the
// reply; an interrupt at the prompt ends the loop.
func runChat(ctx context.Context, s *chatclient.Session, in io.Reader, out io.Writer, interrupts <-chan os.Signal) error {
	done := make(chan struct{})
	defer close(done)
	lines := readLines(in, done)

	printTranscript(out, s.Messages())
	suggestions := s.Suggestions()
	if len(suggestions) > 0 {
		fmt.Fprintln(out, "Try one of these (type its number):")
		for i, sg := range suggestions {
			fmt.Fprintf(out, "  %d) %s\n", i+1, sg)
		}
	}
	if id := s.ConversationID(); id != "" {
		fmt.Fprintf(out, "conversation %s\n", id)
	}

	for {
		fmt.Fprint(out, "you> ")
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-interrupts:
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = l
		}

		text := strings.TrimSpace(line)
		switch {
		case text == "/quit" || text == "/exit":
			return nil
		case text == "":
			continue
		}
		if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(suggestions) && len(s.Messages()) == 0 {
			text = suggestions[n-1]
			fmt.Fprintln(out, text)
		}

		fmt.Fprint(out, "bot> ")
		done := make(chan error, 1)
		go func() {
			done <- s.Send(ctx, text, func(chunk string) { fmt.Fprint(out, chunk) })
		}()

		var err error
	wait:
		for {
			select {
			case err = <-done:
				break wait
			case <-interrupts:
				s.Stop()
			}
		}
		switch {
		case err == nil:
			fmt.Fprintln(out)
		case errors.Is(err, chatclient.ErrStopped):
			fmt.Fprintln(out, " [stopped]")
		case errors.Is(err, chatclient.ErrUnauthorized), errors.Is(err, chatclient.ErrNotFound):
			fmt.Fprintln(out)
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			fmt.Fprintf(out, "\n[reply failed: %v] send again to retry\n", err)
		}
	}
}
