package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quenchlab/toolwire/pkg/client"
	"github.com/quenchlab/toolwire/pkg/config"
)

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke a tool on a running server",
		Args:  cobra.ExactArgs(1),
		RunE:  runCall,
	}
	cmd.Flags().StringP("args", "a", "{}", "Tool arguments as JSON")
	cmd.Flags().String("url", "", "Server URL (overrides config)")
	return cmd
}

func runCall(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	url, _ := cmd.Flags().GetString("url")
	if url == "" {
		url = cfg.Client.URL
	}
	rawArgs, _ := cmd.Flags().GetString("args")

	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
		return fmt.Errorf("invalid --args JSON: %w", err)
	}

	c := client.New(client.Options{
		URL:                  url,
		CallTimeout:          time.Duration(cfg.Client.CallTimeoutMS) * time.Millisecond,
		ReconnectInterval:    time.Duration(cfg.Client.ReconnectIntervalMS) * time.Millisecond,
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	// The tool list arrives in the server_info greeting right after the
	// upgrade; give it a moment to land.
	deadline := time.Now().Add(2 * time.Second)
	for len(c.AvailableTools()) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	result, err := c.CallTool(context.Background(), args[0], toolArgs)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
