// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func (a *app) newMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show or export service metrics",
	}
	cmd.AddCommand(a.newMetricsShowCmd(), a.newMetricsExportCmd())
	return cmd
}

func (a *app) newMetricsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print cache, rule, history and health metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			m := svc.GetMetrics(cmd.Context())
			if a.jsonOut {
				return a.printJSON(m)
			}

			p := a.printer
			p.Title("Guard metrics")
			p.Box("Health", fmt.Sprintf("%s, %d active alerts, %d critical",
				m.Validation.Status, m.Validation.ActiveAlerts, m.Validation.CriticalAlerts))
			p.Info(fmt.Sprintf("rules: %d", m.Rules.Total))
			p.Info(fmt.Sprintf("history: %d/%d records, %d dropped", m.History.Size, m.History.Capacity, m.History.Dropped))

			names := make([]string, 0, len(m.Cache))
			for name := range m.Cache {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				st := m.Cache[name]
				p.Bullet(fmt.Sprintf("cache %s: size=%d/%d hits=%d misses=%d hit_rate=%.2f",
					name, st.Size, st.Capacity, st.Hits, st.Misses, st.HitRate))
			}
			return nil
		},
	}
}

func (a *app) newMetricsExportCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write metrics_current.json and cache_metrics.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.ExportMetricsDir(dir); err != nil {
				return err
			}
			a.printer.Success("metrics written to " + dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "destination directory")
	return cmd
}
