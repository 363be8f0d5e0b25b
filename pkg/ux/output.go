// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the guard CLI.
//
// A Printer writes either styled output (colours, icons, boxes) or plain
// line-oriented output suitable for scripts. ModeAuto picks styled only
// when the destination is a terminal.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorSuccess  = lipgloss.Color("#2CD7C7")
	ColorWarning  = lipgloss.Color("#F4D03F")
	ColorError    = lipgloss.Color("#E74C3C")
	ColorCritical = lipgloss.Color("#C0392B")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title    lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Critical lipgloss.Style
	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:     lipgloss.NewStyle().Bold(true),
	Muted:    lipgloss.NewStyle().Foreground(ColorSlate),
	Success:  lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Foreground(ColorError),
	Critical: lipgloss.NewStyle().Bold(true).Foreground(ColorCritical),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Mode selects styled or plain output.
type Mode string

const (
	// ModeAuto is styled on a terminal and plain otherwise.
	ModeAuto Mode = "auto"

	// ModeStyled always uses colours, icons and boxes.
	ModeStyled Mode = "styled"

	// ModePlain writes prefixed lines without escape sequences.
	ModePlain Mode = "plain"
)

// ParseMode converts a flag value to a Mode. Unknown values yield ModeAuto.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "styled", "color", "colour", "full":
		return ModeStyled
	case "plain", "machine", "quiet", "none":
		return ModePlain
	default:
		return ModeAuto
	}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Printer writes CLI output in one Mode.
type Printer struct {
	out    io.Writer
	styled bool
}

// NewPrinter creates a printer on w. ModeAuto is styled only when w is an
// *os.File attached to a terminal.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	styled := mode == ModeStyled
	if mode == ModeAuto {
		if f, ok := w.(*os.File); ok {
			styled = IsTerminal(f)
		}
	}
	return &Printer{out: w, styled: styled}
}

// Styled reports whether the printer emits styling.
func (p *Printer) Styled() bool { return p.styled }

// Writer returns the destination.
func (p *Printer) Writer() io.Writer { return p.out }

// Title prints a styled title. Plain mode omits it.
func (p *Printer) Title(text string) {
	if !p.styled {
		return
	}
	fmt.Fprintln(p.out, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	if !p.styled {
		fmt.Fprintf(p.out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	if !p.styled {
		fmt.Fprintf(p.out, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message
func (p *Printer) Error(text string) {
	if !p.styled {
		fmt.Fprintf(p.out, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if !p.styled {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Bullet prints an indented list item.
func (p *Printer) Bullet(text string) {
	if !p.styled {
		fmt.Fprintf(p.out, "  - %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "  %s %s\n", IconBullet.Render(), text)
}

// Box prints text in a rounded box
func (p *Printer) Box(title, content string) {
	if !p.styled {
		fmt.Fprintf(p.out, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.out, Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
}

// Severity renders a 1-5 severity level. 4 is drawn as an error and 5 as
// critical.
func (p *Printer) Severity(level int) string {
	label := fmt.Sprintf("sev %d", level)
	if !p.styled {
		return label
	}
	switch {
	case level >= 5:
		return Styles.Critical.Render(label)
	case level == 4:
		return Styles.Error.Render(label)
	case level == 3:
		return Styles.Warning.Render(label)
	default:
		return Styles.Muted.Render(label)
	}
}

// Summary prints a summary line with counts
func (p *Printer) Summary(passed, failed, total int) {
	if !p.styled {
		fmt.Fprintf(p.out, "SUMMARY: passed=%d failed=%d total=%d\n", passed, failed, total)
		return
	}
	fmt.Fprintf(p.out, "\n%s %s  %s %s  %s %s\n",
		Styles.Success.Render(fmt.Sprintf("%d", passed)), Styles.Muted.Render("passed"),
		Styles.Error.Render(fmt.Sprintf("%d", failed)), Styles.Muted.Render("failed"),
		Styles.Bold.Render(fmt.Sprintf("%d", total)), Styles.Muted.Render("total"),
	)
}
