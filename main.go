// go_ytaudio: resilient audio stream extraction MCP server.
//
// Exposes extract_audio plus status and admin tools over MCP, or runs a
// single extraction from the command line. Configuration comes from
// defaults, an optional TOML file and the environment (.env is loaded).
package main

import (
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/anatolykoptev/go_ytaudio/cmd"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", slog.Any("error", err))
	}
	cmd.Version = version
	cmd.Execute()
}
