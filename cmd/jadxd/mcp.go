package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jadx-daemon/jadx-daemon-go/internal/config"
	"github.com/jadx-daemon/jadx-daemon-go/internal/mcp"
	"github.com/spf13/cobra"
)

var (
	mcpConfigPath string
	mcpTimeout    time.Duration
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve daemon operations as MCP tools over stdio",
	Long: `Run a Model Context Protocol server on stdin/stdout. Every tool forwards to
the HTTP route of the same name on a running jadxd serve instance.

The daemon address comes from --host/--port, JADX_DAEMON_MCP_HOST and
JADX_DAEMON_MCP_PORT, or the server section of --config.`,
	RunE: runMCP,
}

func init() {
	f := mcpCmd.Flags()
	f.StringVarP(&mcpConfigPath, "config", "c", "", "path to YAML config file")
	f.String("host", "localhost", "daemon host")
	f.Int("port", 8651, "daemon port")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.DurationVar(&mcpTimeout, "timeout", 5*time.Minute, "timeout of a single tool call")
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(mcpConfigPath, cmd.Flags())
	if err != nil {
		return err
	}

	// stdout 是协议通道，日志只能写 stderr
	logger := config.NewLogger(&cfg.Log, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := mcp.NewClient(cfg.Server.Addr(), mcpTimeout)
	return mcp.NewServer(client, Version, logger).Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}
