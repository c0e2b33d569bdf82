package engine

import "time"

// AudioFormat describes the selected audio rendition.
type AudioFormat struct {
	FormatID string  `json:"format_id"`
	Ext      string  `json:"ext"`
	ACodec   string  `json:"acodec"`
	ABR      float64 `json:"abr"`
	Filesize int64   `json:"filesize"`
}

// ExtractionResult is a playable stream URL plus metadata.
type ExtractionResult struct {
	AudioURL       string      `json:"audio_url"`
	Duration       float64     `json:"duration"`
	DurationString string      `json:"duration_string"`
	Title          string      `json:"title"`
	Artist         string      `json:"artist"`
	Format         AudioFormat `json:"format"`
	StrategyUsed   string      `json:"strategy_used"`
	ExtractedAt    time.Time   `json:"timestamp"`
}
