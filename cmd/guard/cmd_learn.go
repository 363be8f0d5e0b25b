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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGuard/services/guard"
	"github.com/AleutianAI/AleutianGuard/services/guard/learning"
)

// newLearnCmd runs one learning pass over the durable history.
//
// Description:
//
//	The service preloads up to --limit stored records into memory, the
//	learner tunes rules from them and --export writes the tuned rules so
//	a later run can load them with rules.path.
func (a *app) newLearnCmd() *cobra.Command {
	var (
		storePath string
		limit     int
		export    string
	)
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Retune rule severities and thresholds from recorded history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if storePath != "" {
				a.cfg.History.Store.Path = storePath
				a.cfg.History.Store.InMemory = false
			}
			if !a.cfg.History.StoreEnabled() {
				return errors.New("learn needs a history store: set history.store.path or --store")
			}
			if limit > 0 {
				a.cfg.History.Preload = limit
				if a.cfg.History.Capacity < limit {
					a.cfg.History.Capacity = limit
				}
			}

			svc, err := a.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			records := svc.History().Len()
			adjustments := svc.LearnFromHistory()
			if adjustments == nil {
				adjustments = []learning.Adjustment{}
			}
			if export != "" {
				if err := svc.ExportRules(export); err != nil {
					return err
				}
			}
			if a.jsonOut {
				return a.printJSON(guard.LearnResponse{Adjustments: adjustments, Records: records})
			}

			p := a.printer
			p.Title(fmt.Sprintf("Learned from %d records", records))
			if len(adjustments) == 0 {
				p.Info("no rule needed adjusting")
			}
			for _, adj := range adjustments {
				line := fmt.Sprintf("%s %s: severity %s -> %s (failure rate %.2f over %d)",
					adj.Rule, adj.Direction, adj.OldSeverity, adj.NewSeverity, adj.FailureRate, adj.Samples)
				if adj.Direction == learning.Escalated {
					p.Warning(line)
				} else {
					p.Success(line)
				}
				if adj.ThresholdChanged() {
					p.Bullet(fmt.Sprintf("threshold %s -> %s", adj.OldThreshold, adj.NewThreshold))
				}
			}
			if export != "" {
				p.Success("rules written to " + export)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "history store directory (overrides history.store.path)")
	cmd.Flags().IntVar(&limit, "limit", 0, "newest stored records to learn from (default history.preload)")
	cmd.Flags().StringVar(&export, "export", "", "write the tuned rules to this YAML file")
	return cmd
}
