package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/anatolykoptev/go_ytaudio/internal/audioserver"
)

var flagPort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server",
	Args:  cobra.NoArgs,
	RunE:  serveRun,
}

func init() {
	serveCmd.Flags().StringVar(&flagPort, "port", "", "Listen port (default $MCP_PORT or 8893)")
}

func serveRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	port := flagPort
	if port == "" {
		port = env.Str("MCP_PORT", "8893")
	}
	slog.Info("starting go_ytaudio", slog.String("port", port), slog.String("version", Version))

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_ytaudio",
		Version: Version,
	}, nil)
	audioserver.RegisterTools(server, eng)
	slog.Info("tools registered", slog.Int("count", audioserver.ToolCount))

	return mcpserver.Run(server, mcpserver.Config{
		Name:         "go_ytaudio",
		Version:      Version,
		Port:         port,
		WriteTimeout: cfg.ResultTimeout + 30*time.Second,
		Metrics:      eng.FormatMetrics,
	})
}
