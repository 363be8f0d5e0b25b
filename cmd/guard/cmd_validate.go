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

	"github.com/AleutianAI/AleutianGuard/pkg/validation"
	"github.com/AleutianAI/AleutianGuard/services/guard"
	"github.com/AleutianAI/AleutianGuard/services/guard/rules"
)

func (a *app) newValidateCmd() *cobra.Command {
	var (
		ruleNames   []string
		environment string
		critical    bool
	)
	cmd := &cobra.Command{
		Use:   "validate [file|-]",
		Short: "Validate content against one or more rules",
		Long: `Validate reads the file (or stdin) and checks it against each --rule, or
every registered rule when none is given. The exit code is 1 when any check
fails and 2 when a rule is unknown or a validator faults.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateRuleNames(ruleNames); err != nil {
				return err
			}
			content, source, err := readContent(cmd, args)
			if err != nil {
				return err
			}
			svc, err := a.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if len(ruleNames) == 0 {
				for _, r := range svc.Registry().All() {
					ruleNames = append(ruleNames, r.Name)
				}
			}
			vctx := guard.ValidationContext{}
			if environment != "" {
				vctx["environment"] = environment
			}
			if critical {
				vctx["critical"] = true
			}

			results := make([]*guard.Result, 0, len(ruleNames))
			for _, name := range ruleNames {
				res, err := svc.Validate(cmd.Context(), content, name, vctx)
				if err != nil {
					return err
				}
				results = append(results, res)
			}
			return a.reportResults(source, results)
		},
	}
	cmd.Flags().StringSliceVarP(&ruleNames, "rule", "r", nil, "rule to apply (repeatable, default all)")
	cmd.Flags().StringVar(&environment, "env", "", "validation environment, e.g. production")
	cmd.Flags().BoolVar(&critical, "critical", false, "mark the content as critical")
	return cmd
}

func (a *app) reportResults(source string, results []*guard.Result) error {
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}

	if a.jsonOut {
		if err := a.printJSON(results); err != nil {
			return err
		}
	} else {
		p := a.printer
		p.Title("Validation of " + source)
		for _, r := range results {
			line := fmt.Sprintf("%s [%s] %s", r.Rule, r.Category, p.Severity(r.Severity))
			if r.Success {
				p.Success(line)
				continue
			}
			p.Error(line)
			for _, f := range r.Findings {
				p.Bullet(f)
			}
		}
		p.Summary(len(results)-failed, failed, len(results))
	}
	if failed > 0 {
		return errChecksFailed
	}
	return nil
}

func (a *app) newRecommendCmd() *cobra.Command {
	var origin string
	cmd := &cobra.Command{
		Use:   "recommend [file|-]",
		Short: "List failing rules with suggested fixes, most severe first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, source, err := readContent(cmd, args)
			if err != nil {
				return err
			}
			var o rules.Origin
			if origin != "" {
				if o, err = rules.ParseOrigin(origin); err != nil {
					return err
				}
			}
			svc, err := a.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			recs, err := svc.GetRecommendations(cmd.Context(), content, o)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(guard.RecommendationsResponse{Recommendations: recs, Count: len(recs)})
			}

			p := a.printer
			p.Title("Recommendations for " + source)
			if len(recs) == 0 {
				p.Success("every rule passes")
				return nil
			}
			for _, r := range recs {
				p.Warning(fmt.Sprintf("%s %s: %s", p.Severity(r.Severity), r.Rule, r.Suggestion))
				if len(r.Findings) > 0 {
					p.Bullet(strings.Join(r.Findings, "; "))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "restrict to primary or execution rules (shared rules always apply)")
	return cmd
}
