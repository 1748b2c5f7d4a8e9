package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shizhend/internal/client"
	"shizhend/pkg/types"
)

func defaultServer() string {
	if v := os.Getenv("SHIZHEND_SERVER"); v != "" {
		return v
	}
	return "http://127.0.0.1:8000"
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", defaultServer(), "Server base URL (defaults SHIZHEND_SERVER)")
	cmd.Flags().Duration("timeout", 10*time.Minute, "Request timeout")
	cmd.Flags().Int("max-tokens", 0, "Generation limit (0 = server default)")
	cmd.Flags().Bool("wait", false, "Wait for the model to finish loading first")
}

func clientFromFlags(cmd *cobra.Command) (*client.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	c := client.New(server, timeout)
	if wait, _ := cmd.Flags().GetBool("wait"); wait {
		if err := c.WaitReady(cmd.Context(), 2*time.Second); err != nil {
			return nil, fmt.Errorf("wait for %s: %w", server, err)
		}
	}
	return c, nil
}

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "chat <question>",
		Short:   "Ask the running server a question",
		Example: "  shizhend chat \"舌苔白腻是什么原因？\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			var msgs []types.ChatMessage
			if sys, _ := cmd.Flags().GetString("system"); sys != "" {
				msgs = append(msgs, types.ChatMessage{Role: "system", Content: types.TextContent(sys)})
			}
			msgs = append(msgs, types.ChatMessage{Role: "user", Content: types.TextContent(strings.Join(args, " "))})

			var opts client.ChatOptions
			if n, _ := cmd.Flags().GetInt("max-tokens"); n > 0 {
				opts.MaxTokens = &n
			}
			if cmd.Flags().Changed("temperature") {
				t, _ := cmd.Flags().GetFloat64("temperature")
				opts.Temperature = &t
			}
			reply, err := c.Chat(cmd.Context(), msgs, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	addClientFlags(cmd)
	cmd.Flags().String("system", "", "Optional system prompt")
	cmd.Flags().Float64("temperature", 0.7, "Sampling temperature (0 = greedy)")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "analyze <image>",
		Short:   "Send an image to the running server for analysis",
		Example: "  shizhend analyze tongue.jpg --query \"这是什么舌象？\"",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			c, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			query, _ := cmd.Flags().GetString("query")
			n, _ := cmd.Flags().GetInt("max-tokens")
			resp, err := c.AnalyzeImage(cmd.Context(), f, filepath.Base(args[0]), query, n)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				enc.SetEscapeHTML(false)
				return enc.Encode(resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Diagnosis)
			fmt.Fprintf(cmd.ErrOrStderr(), "(%s, %.2fs)\n", resp.Model, resp.ProcessingTimeSeconds)
			return nil
		},
	}
	addClientFlags(cmd)
	cmd.Flags().String("query", "", "Question about the image (server default when empty)")
	cmd.Flags().Bool("json", false, "Print the full JSON response")
	return cmd
}
