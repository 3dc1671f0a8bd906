package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"parkinson-voice/pkg/bundle"
	"parkinson-voice/pkg/models"
)

var (
	colorPrimary = lipgloss.Color("#00ff9f")
	colorWarn    = lipgloss.Color("#ff5f87")
	colorDim     = lipgloss.Color("#6e7681")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Bold(true).Width(16)
	dimStyle   = lipgloss.NewStyle().Foreground(colorDim)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorPrimary).Padding(0, 1)
)

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func renderResult(path string, res *models.FusionResult) string {
	verdict := lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	if res.Label == models.LabelParkinson {
		verdict = verdict.Foreground(colorWarn)
	}

	lines := []string{
		titleStyle.Render("Voice analysis"),
		row("file", dimStyle.Render(path)),
		row("label", verdict.Render(string(res.Label))),
		row("fusion", fmt.Sprintf("%.4f", res.PFusion)),
		row("audio model", fmt.Sprintf("%.4f", res.PAudio)),
		row("pca bridge", fmt.Sprintf("%.4f", res.PBridge)),
		row("pca features", dimStyle.Render(fmt.Sprintf("%d values", len(res.PCAFeatures)))),
		"",
		res.Summary,
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderBundle(b *bundle.Bundle) string {
	lines := []string{
		titleStyle.Render(b.Name),
		row("kind", string(b.Kind)),
		row("version", b.Version),
		row("features", fmt.Sprintf("%d (%s)", b.InputDim(), orDash(b.FeatureVersion))),
	}
	if n := len(b.FeatureNames); n > 0 {
		preview := b.FeatureNames
		if n > 4 {
			preview = append(preview[:4:4], fmt.Sprintf("… +%d", n-4))
		}
		lines = append(lines, row("names", dimStyle.Render(strings.Join(preview, ", "))))
	}
	for i, name := range b.Steps() {
		s, _ := b.Step(name)
		lines = append(lines, row(fmt.Sprintf("step %d", i), fmt.Sprintf("%s %s", name, dimStyle.Render(s.Type()))))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
