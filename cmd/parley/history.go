package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parley-dev/parley/internal/history"
	"github.com/parley-dev/parley/internal/message"
)

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Fetch a persisted conversation from the agent server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set := settings()
		c := history.NewClient(set.ServerURL, set.Token)
		msgs, err := c.GetConversation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printConversation(msgs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func printConversation(msgs []message.Message) {
	for _, msg := range msgs {
		fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
		for _, res := range msg.ToolResults {
			mark := "ok"
			if !res.Success {
				mark = "failed"
			}
			fmt.Printf("  tool %s: %s %s\n", res.Name, mark, res.Summary)
		}
	}
}
