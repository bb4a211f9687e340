package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"towerloc/internal/config"
	"towerloc/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "towerloc",
	Short: "Estimate position from visible cell towers",
	Long: `towerloc estimates a device's position from the cellular towers it can
see when GPS is unavailable. Towers come from a 4G/LTE modem over AT
commands, from a modem gateway publishing over MQTT, or from a simulator
backed by the tower catalog.

Examples:
  towerloc serve
  towerloc locate --simulation=false
  towerloc ports
  towerloc history -n 20`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, locateCmd, portsCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.Config) (log *slog.Logger) {
	log = logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(log)
	return
}
