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
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
)

// statusStyles renders check outcomes. The renderer inspects w, so output
// redirected to a file or pipe carries no escape codes.
type statusStyles struct {
	ok   lipgloss.Style
	warn lipgloss.Style
	fail lipgloss.Style
}

func newStatusStyles(w io.Writer) statusStyles {
	r := lipgloss.NewRenderer(w)
	return statusStyles{
		ok:   r.NewStyle().Foreground(colorSuccess).Bold(true),
		warn: r.NewStyle().Foreground(colorWarning),
		fail: r.NewStyle().Foreground(colorError).Bold(true),
	}
}
