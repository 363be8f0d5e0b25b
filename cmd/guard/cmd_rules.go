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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGuard/services/guard"
	"github.com/AleutianAI/AleutianGuard/services/guard/rules"
)

func (a *app) newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect, export and check rule definitions",
	}
	cmd.AddCommand(a.newRulesListCmd(), a.newRulesExportCmd(), a.newRulesCheckCmd())
	return cmd
}

func (a *app) newRulesListCmd() *cobra.Command {
	var category, origin, tag string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			reg := svc.Registry()
			list := reg.All()
			if category != "" {
				c, err := rules.ParseCategory(category)
				if err != nil {
					return err
				}
				list = keep(list, func(r rules.Rule) bool { return r.Category == c })
			}
			if origin != "" {
				o, err := rules.ParseOrigin(origin)
				if err != nil {
					return err
				}
				list = keep(list, func(r rules.Rule) bool { return r.Origin == o })
			}
			if tag != "" {
				list = keep(list, func(r rules.Rule) bool { return r.HasTag(tag) })
			}

			exported := make([]rules.ExportedRule, 0, len(list))
			for _, r := range list {
				exported = append(exported, r.Export())
			}
			if a.jsonOut {
				return a.printJSON(guard.RulesResponse{Rules: exported, Count: len(exported), Shared: reg.SharedMetrics()})
			}

			p := a.printer
			p.Title(fmt.Sprintf("%d rules", len(exported)))
			for _, r := range exported {
				p.Info(fmt.Sprintf("%s [%s/%s] %s threshold=%s", r.Name, r.Category, r.Origin,
					p.Severity(r.Severity.Level()), r.Threshold))
				if len(r.Tags) > 0 {
					p.Bullet("tags: " + strings.Join(r.Tags, ", "))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only rules in this category")
	cmd.Flags().StringVar(&origin, "origin", "", "only rules from this origin")
	cmd.Flags().StringVar(&tag, "tag", "", "only rules carrying this tag")
	return cmd
}

func (a *app) newRulesExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Write every rule, including learned adjustments, as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.ExportRules(args[0]); err != nil {
				return err
			}
			a.printer.Success(fmt.Sprintf("exported %d rules to %s", svc.Registry().Len(), args[0]))
			return nil
		},
	}
}

// newRulesCheckCmd parses a rule document into a fresh registry without
// touching the built-in defaults.
func (a *app) newRulesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>",
		Short: "Check that a rule document loads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := rules.NewRegistry(a.logger.Slog())
			if err := reg.LoadFile(args[0]); err != nil {
				a.printer.Error(err.Error())
				return &ExitError{Code: 1}
			}
			a.printer.Success(fmt.Sprintf("%s: %d rules", args[0], reg.Len()))
			return nil
		},
	}
}

func keep(list []rules.Rule, pred func(rules.Rule) bool) []rules.Rule {
	out := list[:0:0]
	for _, r := range list {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}
