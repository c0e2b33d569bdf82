package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// toolOutput is the subset of the tool's JSON info dict we read.
type toolOutput struct {
	URL            string  `json:"url"`
	Title          string  `json:"title"`
	Duration       float64 `json:"duration"`
	DurationString string  `json:"duration_string"`
	Artist         string  `json:"artist"`
	Creator        string  `json:"creator"`
	Uploader       string  `json:"uploader"`
	Channel        string  `json:"channel"`
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	ACodec         string  `json:"acodec"`
	ABR            float64 `json:"abr"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
}

// parseToolOutput decodes the first JSON object on stdout.
func parseToolOutput(stdout []byte) (toolOutput, error) {
	var out toolOutput
	if len(bytes.TrimSpace(stdout)) == 0 {
		return out, errors.New("empty output")
	}
	if err := json.NewDecoder(bytes.NewReader(stdout)).Decode(&out); err != nil {
		return out, fmt.Errorf("decode json: %w", err)
	}
	return out, nil
}

func (o toolOutput) size() int64 {
	if o.Filesize > 0 {
		return o.Filesize
	}
	return o.FilesizeApprox
}

func (o toolOutput) artist() string {
	for _, s := range []string{o.Artist, o.Creator, o.Uploader, o.Channel} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return "Unknown"
}

// ResultLimits bound what counts as a usable stream.
type ResultLimits struct {
	MaxDuration time.Duration
	MaxFilesize int64
}

// check applies the static limits. It does not touch the network.
func (o toolOutput) check(lim ResultLimits) error {
	if o.URL == "" {
		return fmt.Errorf("%w: no audio url", ErrValidationFailed)
	}
	if !strings.HasPrefix(o.URL, "http://") && !strings.HasPrefix(o.URL, "https://") {
		return fmt.Errorf("%w: unexpected url scheme", ErrValidationFailed)
	}
	if lim.MaxDuration > 0 && o.Duration > lim.MaxDuration.Seconds() {
		return fmt.Errorf("%w: duration %.0fs exceeds %s", ErrValidationFailed, o.Duration, lim.MaxDuration)
	}
	if lim.MaxFilesize > 0 && o.size() > lim.MaxFilesize {
		return fmt.Errorf("%w: filesize %d exceeds %d", ErrValidationFailed, o.size(), lim.MaxFilesize)
	}
	return nil
}

func (o toolOutput) result(strategy string, at time.Time) ExtractionResult {
	title := o.Title
	if title == "" {
		title = "Unknown"
	}
	durStr := o.DurationString
	if durStr == "" {
		durStr = "Unknown"
	}
	return ExtractionResult{
		AudioURL:       o.URL,
		Duration:       o.Duration,
		DurationString: durStr,
		Title:          title,
		Artist:         o.artist(),
		Format: AudioFormat{
			FormatID: o.FormatID,
			Ext:      o.Ext,
			ACodec:   o.ACodec,
			ABR:      o.ABR,
			Filesize: o.size(),
		},
		StrategyUsed: strategy,
		ExtractedAt:  at.UTC(),
	}
}
