package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"trendsched/internal/app"
	"trendsched/internal/config"
	"trendsched/internal/task/clock"
)

var validateNext int

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config and print each job's next fire times",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewConfigManager(cfgPath).Parse()
		if err != nil {
			return err
		}
		if _, err := app.MapStorage(cfg); err != nil {
			return err
		}
		reg, err := app.BuildRegistry(cfg, nil)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		now := time.Now().In(reg.Location())
		fmt.Fprintf(out, "config ok: %d jobs, tz %s\n", reg.Len(), reg.Location())
		for _, d := range reg.List() {
			alias := "-"
			if d.Alias != "" {
				alias = d.Alias
			}
			next := clock.NextRuns(d, now, validateNext)
			times := make([]string, 0, len(next))
			for _, t := range next {
				times = append(times, t.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "%-24s %-20s alias=%-18s next=%s\n", d.Name, d.Expr, alias, strings.Join(times, ", "))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().IntVarP(&validateNext, "next", "n", 3, "number of upcoming fire times to show")
}
