// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"styled", ModeStyled},
		{"COLOR", ModeStyled},
		{"plain", ModePlain},
		{"machine", ModePlain},
		{"", ModeAuto},
		{"auto", ModeAuto},
		{"sparkly", ModeAuto},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMode(tt.in))
		})
	}
}

func TestPrinter_Plain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)
	assert.False(t, p.Styled())

	p.Title("ignored")
	p.Success("done")
	p.Warning("careful")
	p.Error("broken")
	p.Info("note")
	p.Bullet("item")
	p.Box("Rule", "method_length")
	p.Summary(2, 1, 3)

	assert.Equal(t, "OK: done\nWARN: careful\nERROR: broken\nnote\n  - item\nRule: method_length\n"+
		"SUMMARY: passed=2 failed=1 total=3\n", buf.String())
	assert.Equal(t, "sev 5", p.Severity(5))
}

func TestPrinter_Styled(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeStyled)
	assert.True(t, p.Styled())

	p.Success("done")
	p.Error("broken")
	assert.Contains(t, buf.String(), string(IconSuccess))
	assert.Contains(t, buf.String(), "broken")
	assert.Contains(t, p.Severity(4), "sev 4")
}

func TestPrinter_AutoOnNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, NewPrinter(&buf, ModeAuto).Styled(), "buffers are never terminals")

	f, err := os.CreateTemp(t.TempDir(), "out")
	assert.NoError(t, err)
	defer f.Close()
	assert.False(t, IsTerminal(f))
	assert.False(t, NewPrinter(f, ModeAuto).Styled())
	assert.False(t, IsTerminal(nil))
}

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconBullet} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}
