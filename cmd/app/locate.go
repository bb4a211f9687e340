package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"towerloc/internal/config"
	"towerloc/internal/scanner"
)

var (
	useSimulation bool
	jsonOutput    bool
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Run one triangulation and print the estimate",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := setupLogger(cfg)

		a, err := buildApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.svc.Locate(cmd.Context(), useSimulation)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		fmt.Fprintf(out, "Position:   %.6f, %.6f\n", res.Latitude, res.Longitude)
		fmt.Fprintf(out, "Accuracy:   ±%.0f m\n", res.AccuracyMeters)
		fmt.Fprintf(out, "Confidence: %.0f%%\n", res.Confidence*100)
		fmt.Fprintf(out, "Method:     %s (%d towers)\n", res.Method, res.TowersUsed)
		for _, o := range res.Towers {
			fmt.Fprintf(out, "  %-20s %-8s %4d dBm  %7.0f m\n", o.Identifier, o.Operator, o.SignalStrengthDBm, o.EstimatedDistanceM)
		}
		fmt.Fprintf(out, "Map:        %s\n", res.MapsLink())
		return nil
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports that look like cellular modems",
	RunE: func(cmd *cobra.Command, args []string) error {
		modems, err := scanner.DetectModems()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(modems) == 0 {
			fmt.Fprintln(out, "no modem ports found")
			return nil
		}
		for _, p := range modems {
			fmt.Fprintf(out, "%s\t%s\t%s:%s\n", p.Name, p.Product, p.VID, p.PID)
		}
		return nil
	},
}

func init() {
	locateCmd.Flags().BoolVar(&useSimulation, "simulation", true, "use simulated readings instead of the live source")
	locateCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the result as JSON")
}
