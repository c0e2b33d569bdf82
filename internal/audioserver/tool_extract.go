package audioserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_ytaudio/internal/engine"
	"github.com/anatolykoptev/go_ytaudio/internal/engine/queue"
	"github.com/anatolykoptev/go_ytaudio/internal/toolutil"
)

// ExtractAudioInput is the extract_audio request.
type ExtractAudioInput struct {
	URL      string `json:"url" jsonschema:"Video URL or 11-character video id"`
	Priority string `json:"priority,omitempty" jsonschema:"low, normal (default), high or critical"`
	Stealth  *bool  `json:"stealth,omitempty" jsonschema:"Rotate stealth client strategies (default true)"`
	UseProxy bool   `json:"use_proxy,omitempty" jsonschema:"Route the extraction through the proxy pool"`
	UseCache *bool  `json:"use_cache,omitempty" jsonschema:"Serve and store results in the cache (default true)"`
}

// ExtractAudioOutput is the extract_audio response.
type ExtractAudioOutput struct {
	AudioURL       string             `json:"audio_url"`
	Title          string             `json:"title"`
	Artist         string             `json:"artist"`
	Duration       float64            `json:"duration"`
	DurationString string             `json:"duration_string"`
	Format         engine.AudioFormat `json:"format"`
	StrategyUsed   string             `json:"strategy_used"`
	Timestamp      string             `json:"timestamp"`
}

func newExtractAudioOutput(r engine.ExtractionResult) ExtractAudioOutput {
	return ExtractAudioOutput{
		AudioURL:       r.AudioURL,
		Title:          r.Title,
		Artist:         r.Artist,
		Duration:       r.Duration,
		DurationString: r.DurationString,
		Format:         r.Format,
		StrategyUsed:   r.StrategyUsed,
		Timestamp:      r.ExtractedAt.Format(time.RFC3339),
	}
}

func registerExtractAudio(server *mcp.Server, h *handlers) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "extract_audio",
		Description: "Extract a playable audio stream URL plus title, artist, duration and format for a video. Accepts a full URL or an 11-character video id. Requests are rate limited and queued by priority; failed client strategies are retried with others before giving up.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.extractAudio)
}

func (h *handlers) extractAudio(ctx context.Context, _ *mcp.CallToolRequest, input ExtractAudioInput) (*mcp.CallToolResult, ExtractAudioOutput, error) {
	var zero ExtractAudioOutput
	if input.URL == "" {
		return nil, zero, errors.New("url is required")
	}
	prio, err := queue.ParsePriority(input.Priority)
	if err != nil {
		return nil, zero, err
	}
	opts := engine.ExtractOptions{
		Priority: prio,
		Stealth:  toolutil.BoolOr(input.Stealth, true),
		UseProxy: input.UseProxy,
		UseCache: toolutil.BoolOr(input.UseCache, true),
	}
	res, err := h.ext.Extract(ctx, input.URL, opts)
	if err != nil {
		slog.Warn("extract_audio: failed", slog.String("url", input.URL), slog.Any("error", err))
		return nil, zero, toolutil.UserError(err)
	}
	return nil, newExtractAudioOutput(res), nil
}
