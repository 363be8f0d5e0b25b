// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSeverity(t *testing.T) {
	t.Run("clamps at construction", func(t *testing.T) {
		assert.Equal(t, 1, NewSeverity(-3).Level())
		assert.Equal(t, 1, NewSeverity(0).Level())
		assert.Equal(t, 3, NewSeverity(3).Level())
		assert.Equal(t, 5, NewSeverity(9).Level())
	})

	t.Run("clamps on raise and lower", func(t *testing.T) {
		assert.Equal(t, 5, NewSeverity(4).Raise(3).Level())
		assert.Equal(t, 1, NewSeverity(2).Lower(4).Level())
		assert.Equal(t, 4, NewSeverity(3).Raise(1).Level())
	})

	t.Run("zero value reads as minimum", func(t *testing.T) {
		var s Severity
		assert.Equal(t, MinSeverity, s.Level())
	})

	t.Run("yaml decode clamps", func(t *testing.T) {
		var s Severity
		require.NoError(t, yaml.Unmarshal([]byte("12"), &s))
		assert.Equal(t, 5, s.Level())
	})
}

func TestThreshold_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind ThresholdKind
	}{
		{"null", "~", ThresholdNone},
		{"integer", "20", ThresholdNumeric},
		{"float", "0.75", ThresholdNumeric},
		{"list", "[a, b]", ThresholdList},
		{"patterns", "{x: 'a+', y: 'b'}", ThresholdPatterns},
		{"nested", "{patterns: [a, b]}", ThresholdStructured},
		{"string", "strict", ThresholdStructured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var th Threshold
			require.NoError(t, yaml.Unmarshal([]byte(tt.src), &th))
			assert.Equal(t, tt.kind, th.Kind())
		})
	}
}

func TestThreshold_Scale(t *testing.T) {
	scaled, ok := NumericThreshold(20).Scale(1.1)
	require.True(t, ok)
	n, _ := scaled.Number()
	assert.InDelta(t, 22.0, n, 1e-9)

	list := ListThreshold("a")
	same, ok := list.Scale(2)
	assert.False(t, ok)
	items, _ := same.Items()
	assert.Equal(t, []string{"a"}, items)
}

func TestValidators(t *testing.T) {
	t.Run("pattern match and non-match", func(t *testing.T) {
		must, err := NewPatternMatch(`TODO`, true)
		require.NoError(t, err)
		mustNot, err := NewPatternMatch(`print\(`, false)
		require.NoError(t, err)

		ok, _ := must.Check("// TODO: fix", Threshold{})
		assert.True(t, ok)
		ok, _ = mustNot.Check("print(x)", Threshold{})
		assert.False(t, ok)
		ok, _ = mustNot.Check("log(x)", Threshold{})
		assert.True(t, ok)
	})

	t.Run("length bound counts characters", func(t *testing.T) {
		ok, err := LengthBound{}.Check("héllo", NumericThreshold(5))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, _ = LengthBound{}.Check("hello!", NumericThreshold(5))
		assert.False(t, ok)
	})

	t.Run("length bound faults on non-numeric threshold", func(t *testing.T) {
		_, err := LengthBound{}.Check("x", ListThreshold("a"))
		assert.ErrorIs(t, err, ErrThresholdMismatch)
	})

	t.Run("line count", func(t *testing.T) {
		body := strings.Repeat("x\n", 24) + "x"
		ok, err := LineCount{}.Check(body, NumericThreshold(20))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 25, CountLines(body))
	})

	t.Run("branch count", func(t *testing.T) {
		v := BranchCount{}
		assert.Equal(t, 1, v.Complexity("x = 1"))
		assert.Equal(t, 4, v.Complexity("if a:\n  for i in x:\n    while y:\n"))
	})

	t.Run("required sections ignore case", func(t *testing.T) {
		th := ListThreshold("Returns", "examples")
		ok, err := RequiredSections{}.Check("returns: x\nEXAMPLES: y", th)
		require.NoError(t, err)
		assert.True(t, ok)

		missing, err := MissingSections("returns only", th)
		require.NoError(t, err)
		assert.Equal(t, []string{"examples"}, missing)
	})

	t.Run("forbidden patterns report names", func(t *testing.T) {
		v := &ForbiddenPatterns{}
		th := PatternThreshold(map[string]string{"shell": `os\.system\(`, "eval": `eval\(`})
		hits, err := v.Matches(`os.system("ls")`, th)
		require.NoError(t, err)
		assert.Equal(t, []string{"shell"}, hits)
	})

	t.Run("forbidden patterns fault on bad regex", func(t *testing.T) {
		v := &ForbiddenPatterns{}
		_, err := v.Check("x", PatternThreshold(map[string]string{"bad": `(`}))
		assert.ErrorIs(t, err, ErrInvalidPattern)
	})
}

func TestBuildValidator(t *testing.T) {
	no := false
	tests := []struct {
		name    string
		spec    ValidatorSpec
		kind    ValidatorKind
		wantErr error
	}{
		{"regex", ValidatorSpec{Type: "regex", Pattern: "a+"}, KindPattern, nil},
		{"regex negated", ValidatorSpec{Type: "regex", Pattern: "a+", Match: &no}, KindPattern, nil},
		{"length", ValidatorSpec{Type: "length"}, KindLength, nil},
		{"custom", ValidatorSpec{Type: "custom", Module: "m", Function: "f"}, "", ErrUnsupportedOperation},
		{"unknown", ValidatorSpec{Type: "ast"}, "", ErrConfig},
		{"regex without pattern", ValidatorSpec{Type: "regex"}, "", ErrConfig},
		{"regex invalid", ValidatorSpec{Type: "regex", Pattern: "("}, "", ErrConfig},
		{"built-in kind not configurable", ValidatorSpec{Type: "line_count"}, "", ErrConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := BuildValidator(tt.spec)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v.Kind())
		})
	}
}

func TestCategoryFromTags(t *testing.T) {
	assert.Equal(t, CategorySecurity, CategoryFromTags([]string{"perf", "security_scan"}))
	assert.Equal(t, CategoryCode, CategoryFromTags([]string{"code_quality"}))
	assert.Equal(t, CategoryPerformance, CategoryFromTags([]string{"performance"}))
	assert.Equal(t, CategoryCustom, CategoryFromTags([]string{"misc"}))
	assert.Equal(t, CategoryCustom, CategoryFromTags(nil))
	// security wins over documentation regardless of tag order
	assert.Equal(t, CategorySecurity, CategoryFromTags([]string{"documentation", "security"}))
}

func TestDefaultRules(t *testing.T) {
	reg, err := NewDefaultRegistry(nil)
	require.NoError(t, err)
	assert.Equal(t, 4, reg.Len())

	t.Run("method length", func(t *testing.T) {
		rule, err := reg.Get(RuleMethodLength)
		require.NoError(t, err)
		assert.Equal(t, CategoryCode, rule.Category)
		assert.Equal(t, OriginShared, rule.Origin)
		n, ok := rule.Threshold.Number()
		require.True(t, ok)
		assert.Equal(t, 20.0, n)

		ok, err = rule.Check(strings.Repeat("line\n", 24) + "end")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("security patterns", func(t *testing.T) {
		rule, err := reg.Get(RuleSecurityPatterns)
		require.NoError(t, err)
		assert.Equal(t, 5, rule.Severity.Level())

		cases := map[string]bool{
			`password = "hunter2"`:                   false,
			`cursor.execute("SELECT %s" % name)`:     false,
			`os.system("rm " + path)`:                false,
			`subprocess.call(cmd)`:                   false,
			"def add(a, b):\n    return a + b\n":     true,
			`token := os.Getenv("TOKEN")`:            true,
		}
		for content, want := range cases {
			ok, err := rule.Check(content)
			require.NoError(t, err, content)
			assert.Equal(t, want, ok, content)
		}
	})

	t.Run("docstring completeness", func(t *testing.T) {
		rule, err := reg.Get(RuleDocstringCompleteness)
		require.NoError(t, err)
		ok, err := rule.Check("Description: x\nParameters: a\nReturns: b\nExamples: c")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("cyclomatic complexity", func(t *testing.T) {
		rule, err := reg.Get(RuleCyclomaticComplexity)
		require.NoError(t, err)
		ok, err := rule.Check(strings.Repeat("if x:\n", 5))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRule_Explain(t *testing.T) {
	reg, err := NewDefaultRegistry(nil)
	require.NoError(t, err)

	get := func(name string) Rule {
		r, err := reg.Get(name)
		require.NoError(t, err)
		return r
	}

	assert.Equal(t, []string{"25 lines, limit 20"},
		get(RuleMethodLength).Explain(strings.Repeat("x\n", 24)+"x"))
	assert.Equal(t, []string{"complexity 4, limit 5"},
		get(RuleCyclomaticComplexity).Explain("if a:\nif b:\nwhile c:\n"))
	assert.Equal(t, []string{"missing section: returns", "missing section: examples"},
		get(RuleDocstringCompleteness).Explain("Description\nParameters"))
	assert.Equal(t, []string{"matched pattern: hardcoded_secret"},
		get(RuleSecurityPatterns).Explain(`password = "hunter2"`))

	pm, err := NewPatternMatch(`TODO`, false)
	require.NoError(t, err)
	assert.Equal(t, []string{`forbidden pattern "TODO" found`}, Rule{Validator: pm}.Explain("TODO"))

	assert.Nil(t, Rule{Validator: LineCount{}, Threshold: ListThreshold("a")}.Explain("x"))
	assert.Equal(t, []string{"3 characters, limit 2.50"},
		Rule{Validator: LengthBound{}, Threshold: NumericThreshold(2.5)}.Explain("abc"))
}
