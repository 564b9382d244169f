package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/disinfo-zone/voidwire-sub000/config"
	"github.com/disinfo-zone/voidwire-sub000/internal/pipeline"
	srv "github.com/disinfo-zone/voidwire-sub000/internal/server"
)

func runCMD() *cobra.Command {
	var cfgPath string
	var date string
	var mode string
	var parent string

	run := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			orch, _, _, err := srv.BuildOrchestrator(ctx, cfg, nil)
			if err != nil {
				return err
			}

			opts := pipeline.RunOptions{Date: date, RegenerationMode: mode}
			if parent != "" {
				opts.ParentRunID = &parent
			}
			runID, err := orch.Run(ctx, opts)
			if err != nil {
				return err
			}
			fmt.Println(runID)
			return nil
		},
	}
	run.Flags().StringVar(&date, "date", "", "business date YYYY-MM-DD (default: today)")
	run.Flags().StringVar(&mode, "mode", "", "regeneration mode (prose_only|reselect|full_rerun)")
	run.Flags().StringVar(&parent, "parent", "", "parent run id for lineage")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return run
}
