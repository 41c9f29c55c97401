package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tbourn/go-tutor-chat/internal/chatclient"
)

func NewBotsCommand(f *ServerFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "bots",
		Short: "List the bots you can chat with",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := f.Client()
			defer c.Close()
			bots, err := c.Bots(cmd.Context())
			if err != nil {
				return err
			}
			return printBots(cmd.OutOrStdout(), bots, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format; available options are 'yaml' and 'json'")
	return cmd
}

func printBots(w io.Writer, bots []chatclient.Bot, format string) error {
	switch format {
	case "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SLUG\tNAME\tDESCRIPTION")
		for _, b := range bots {
			fmt.Fprintf(tw, "%s\t%s %s\t%s\n", b.Slug, b.AvatarEmoji, b.Name, b.Description)
		}
		return tw.Flush()
	case "yaml":
		return yaml.NewEncoder(w).Encode(bots)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(bots)
	}
	return fmt.Errorf("invalid output format: %s", format)
}
