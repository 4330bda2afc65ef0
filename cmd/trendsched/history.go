package main

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"trendsched/internal/app"
	"trendsched/internal/config"
	"trendsched/internal/jobs"
	"trendsched/internal/storage"
	logx "trendsched/pkg/logx"
)

var (
	historyJob   string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print stored executions as JSON lines, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewConfigManager(cfgPath).Parse()
		if err != nil {
			return err
		}
		sc, err := app.MapStorage(cfg)
		if err != nil {
			return err
		}
		sc.ReadOnly = true
		store, err := storage.Open(sc, logx.Nop())
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		all, err := store.ListExecutions(ctx)
		if err != nil {
			return err
		}

		list := all[:0]
		for _, e := range all {
			if historyJob == "" || e.JobName == historyJob {
				list = append(list, e)
			}
		}
		sort.Slice(list, func(i, j int) bool { return jobs.Newer(list[i], list[j]) })
		if historyLimit > 0 && len(list) > historyLimit {
			list = list[:historyLimit]
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, e := range list {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVarP(&historyJob, "job", "j", "", "only this job")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 50, "max executions to print, 0 for all")
}
