// Package audioserver exposes the extraction engine as MCP tools.
package audioserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_ytaudio/internal/engine"
	"github.com/anatolykoptev/go_ytaudio/internal/engine/journal"
)

// Extractor is the engine surface the tools need.
type Extractor interface {
	Extract(ctx context.Context, target string, opts engine.ExtractOptions) (engine.ExtractionResult, error)
	Status() engine.Status
	RotateSession() string
	ClearFailedStrategies() int
	StrategyStats(ctx context.Context) ([]journal.StrategyStat, error)
}

// ToolCount is the number of tools RegisterTools adds.
const ToolCount = 5

// RegisterTools registers the audio tools on the given MCP server:
// extract_audio, extractor_status, rotate_session, clear_failed_strategies,
// strategy_stats.
func RegisterTools(server *mcp.Server, ext Extractor) {
	h := &handlers{ext: ext}
	registerExtractAudio(server, h)
	registerExtractorStatus(server, h)
	registerRotateSession(server, h)
	registerClearFailed(server, h)
	registerStrategyStats(server, h)
}

type handlers struct {
	ext Extractor
}
