package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prismnews/research-engine/internal/research"
)

var sweepOlderThanMins int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail in-progress requests abandoned by a crashed worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sweep"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		olderThan := sweepOlderThanMins
		if olderThan == 0 {
			olderThan = cfg.Research.StaleAfterMins
		}

		sweeper := research.NewSweeper(st, time.Duration(olderThan)*time.Minute, 0)
		swept, err := sweeper.SweepOnce(cmd.Context())
		if err != nil {
			return err
		}

		zap.L().Info("sweep complete", zap.Int("swept", swept), zap.Int("older_than_mins", olderThan))
		return nil
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepOlderThanMins, "older-than", 0, "minutes in_progress before a request counts as stale (default from config)")
	rootCmd.AddCommand(sweepCmd)
}
