package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"towerloc/internal/config"
	"towerloc/internal/repository"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent triangulation sessions stored in Postgres",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DBDSN == "" {
			return errors.New("history needs DB_DSN")
		}
		setupLogger(cfg)

		db, err := repository.ConnectWithRetry(cfg.DBDSN, 3, 2*time.Second)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		sessions, err := repository.NewSessionRepository(db).Recent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "no sessions recorded")
			return nil
		}
		for _, s := range sessions {
			res := s.Result
			fmt.Fprintf(out, "%s  %-10s %.6f, %.6f  ±%.0f m  %d towers  %s\n",
				s.CreatedAt.Local().Format(time.DateTime), s.Source,
				res.Latitude, res.Longitude, res.AccuracyMeters, res.TowersUsed, res.MapsLink())
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of sessions to show")
}
