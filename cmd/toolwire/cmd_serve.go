package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quenchlab/toolwire/pkg/config"
	"github.com/quenchlab/toolwire/pkg/contextopt"
	"github.com/quenchlab/toolwire/pkg/logger"
	"github.com/quenchlab/toolwire/pkg/modes"
	"github.com/quenchlab/toolwire/pkg/protocol"
	"github.com/quenchlab/toolwire/pkg/ratelimit"
	"github.com/quenchlab/toolwire/pkg/server"
	"github.com/quenchlab/toolwire/pkg/tools"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tool server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.File != "" {
		if err := logger.EnableFileLogging(cfg.Log.File); err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logger.DisableFileLogging()
	}

	modeManager := modes.NewStaticManager()
	if cfg.Mode != "" {
		modeManager.SetMode(cfg.Mode)
	}

	limiter := ratelimit.New(cfg.RateLimiterConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter.Start(ctx)

	analyzer := contextopt.NewHeuristicAnalyzer(
		modeManager.ContentStrategy(modeManager.CurrentMode()).Priorities,
	)
	compressor := contextopt.New(cfg.CompressorConfig(), limiter, contextopt.DefaultPipeline(analyzer))

	registry := tools.NewRegistry()
	registerDemoTools(registry, compressor, modeManager)

	srv := server.New(registry, modeManager, server.Options{
		ToolTimeout: time.Duration(cfg.Server.ToolTimeoutMS) * time.Millisecond,
		FloodLimit:  float64(cfg.Server.FloodLimit),
		FloodBurst:  cfg.Server.FloodBurst,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := srv.Listen(addr); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	logger.InfoCF("serve", "Server listening", map[string]any{
		"addr": srv.Addr(),
		"mode": modeManager.CurrentMode(),
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.InfoC("serve", "Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}

// registerDemoTools installs the built-in tools every deployment gets: a
// loopback echo and a compression-backed context query.
func registerDemoTools(registry *tools.Registry, compressor *contextopt.Compressor, modeManager modes.Manager) {
	registry.Register(tools.NewFuncTool(protocol.ToolSchema{
		Name:        "echo",
		Description: "Echo a message back",
		Parameters: map[string]any{
			"message": map[string]any{"type": "string", "description": "Message to echo"},
		},
		Required: []string{"message"},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		message, _ := args["message"].(string)
		return map[string]any{"echo": message}, nil
	}))

	registry.Register(tools.NewFuncTool(protocol.ToolSchema{
		Name:        "knowledge_query",
		Description: "Compress a context block for the current mode and report token usage",
		Parameters: map[string]any{
			"context": map[string]any{"type": "string", "description": "Context text to optimize"},
			"mode":    map[string]any{"type": "string", "description": "Mode override"},
		},
		Required: []string{"context"},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		text, _ := args["context"].(string)
		mode, _ := args["mode"].(string)
		if mode == "" {
			mode = modeManager.CurrentMode()
		}

		optimized, err := compressor.OptimizeContext(ctx, text, mode)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"mode":             mode,
			"original_tokens":  contextopt.EstimateTokens(text),
			"optimized_tokens": contextopt.EstimateTokens(optimized),
			"preview":          preview(optimized, 200),
			"context":          optimized,
		}, nil
	}))
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
