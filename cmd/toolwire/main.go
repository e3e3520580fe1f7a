package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toolwire",
		Short: "Bounded tool invocation runtime",
		Long:  "toolwire runs a websocket tool server with per-call timeouts, token rate limiting and context compression, and a client to call it.",
	}
	cmd.PersistentFlags().StringP("config", "c", "toolwire.json", "Path to config file")
	cmd.AddCommand(
		newServeCmd(),
		newCallCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("toolwire %s\n", formatVersion())
			if buildTime != "" {
				fmt.Printf("  Build: %s\n", buildTime)
			}
			fmt.Printf("  Go: %s\n", runtime.Version())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
