package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/anatolykoptev/go_ytaudio/internal/engine"
	"github.com/anatolykoptev/go_ytaudio/internal/engine/queue"
)

var (
	flagPriority string
	flagBasic    bool
	flagProxy    bool
	flagNoCache  bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <url|video-id>",
	Short: "Extract one audio stream and print it as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  extractRun,
}

func init() {
	extractCmd.Flags().StringVarP(&flagPriority, "priority", "p", "normal", "Queue priority: low | normal | high | critical")
	extractCmd.Flags().BoolVar(&flagBasic, "basic", false, "Skip stealth strategies")
	extractCmd.Flags().BoolVar(&flagProxy, "proxy", false, "Use the proxy pool from PROXY_LIST")
	extractCmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "Bypass the result cache")
}

func extractRun(cmd *cobra.Command, args []string) error {
	prio, err := queue.ParsePriority(flagPriority)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := eng.Extract(ctx, args[0], engine.ExtractOptions{
		Priority: prio,
		Stealth:  !flagBasic,
		UseProxy: flagProxy,
		UseCache: !flagNoCache,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
