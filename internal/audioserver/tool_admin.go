package audioserver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_ytaudio/internal/engine"
	"github.com/anatolykoptev/go_ytaudio/internal/engine/journal"
)

// EmptyInput is used by tools without arguments.
type EmptyInput struct{}

// RotateSessionOutput reports the new session.
type RotateSessionOutput struct {
	SessionID string `json:"session_id"`
}

// ClearFailedOutput reports how many strategies were re-enabled.
type ClearFailedOutput struct {
	Cleared int `json:"cleared"`
}

// StrategyStatsOutput lists per-strategy outcomes from the attempt journal.
type StrategyStatsOutput struct {
	Enabled    bool                   `json:"enabled"`
	Strategies []journal.StrategyStat `json:"strategies"`
}

func registerExtractorStatus(server *mcp.Server, h *handlers) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "extractor_status",
		Description: "Show extractor health: session identity and health score, failed strategies, adaptive delay, queue depth, rate limiter usage, cache and proxy stats, and counters.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.extractorStatus)
}

func (h *handlers) extractorStatus(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, engine.Status, error) {
	return nil, h.ext.Status(), nil
}

func registerRotateSession(server *mcp.Server, h *handlers) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "rotate_session",
		Description: "Replace the extractor session with a fresh identity and browser fingerprint. Use after repeated bot detections.",
	}, h.rotateSession)
}

func (h *handlers) rotateSession(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, RotateSessionOutput, error) {
	id := h.ext.RotateSession()
	slog.Info("rotate_session: done", slog.String("session_id", id))
	return nil, RotateSessionOutput{SessionID: id}, nil
}

func registerClearFailed(server *mcp.Server, h *handlers) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_failed_strategies",
		Description: "Re-enable every client strategy that failed in the current session.",
	}, h.clearFailed)
}

func (h *handlers) clearFailed(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, ClearFailedOutput, error) {
	return nil, ClearFailedOutput{Cleared: h.ext.ClearFailedStrategies()}, nil
}

func registerStrategyStats(server *mcp.Server, h *handlers) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "strategy_stats",
		Description: "Per-strategy attempt counts, success rate, bot detections and average latency from the attempt journal.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.strategyStats)
}

func (h *handlers) strategyStats(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, StrategyStatsOutput, error) {
	stats, err := h.ext.StrategyStats(ctx)
	if errors.Is(err, engine.ErrJournalDisabled) {
		return nil, StrategyStatsOutput{Strategies: []journal.StrategyStat{}}, nil
	}
	if err != nil {
		return nil, StrategyStatsOutput{}, err
	}
	if stats == nil {
		stats = []journal.StrategyStat{}
	}
	return nil, StrategyStatsOutput{Enabled: true, Strategies: stats}, nil
}
