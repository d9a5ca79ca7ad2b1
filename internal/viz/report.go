package viz

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/san-kum/diffdyn/internal/gradcheck"
	"gonum.org/v1/gonum/mat"
)

// RenderReport lays out a gradient check as a table followed by a summary
// line.
func RenderReport(r *gradcheck.Report) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(Subtle).
		Headers("SCENARIO", "QUANTITY", "SIZE", "MAX ERROR", "RESULT")

	for _, c := range r.Checks {
		result := "ok"
		switch {
		case c.Err != nil:
			result = "error: " + c.Err.Error()
		case !c.Passed:
			result = "FAIL"
		}
		t.Row(c.Scenario, c.Name, fmt.Sprintf("%dx%d", c.Rows, c.Cols), fmt.Sprintf("%.2e", c.MaxError), result)
	}

	t.StyleFunc(func(row, col int) lipgloss.Style {
		base := lipgloss.NewStyle().Padding(0, 1)
		if row == table.HeaderRow {
			return base.Inherit(TitleStyle)
		}
		if col == 4 && row >= 0 && row < len(r.Checks) {
			if r.Checks[row].Passed {
				return base.Inherit(PassStyle)
			}
			return base.Inherit(FailStyle)
		}
		return base
	})

	summary := PassStyle.Render(fmt.Sprintf("all %d checks passed", len(r.Checks)))
	if failed := len(r.Failures()); failed > 0 {
		summary = FailStyle.Render(fmt.Sprintf("%d of %d checks failed", failed, len(r.Checks)))
	}
	return t.String() + "\n" + summary + Subtle.Render(fmt.Sprintf(" (tolerance %.0e, worst %.2e)", r.Tolerance, r.MaxError()))
}

// RenderMatrix prints m with one row per line under a title.
func RenderMatrix(title string, m mat.Matrix) string {
	var b strings.Builder
	r, c := m.Dims()
	b.WriteString(TitleStyle.Render(fmt.Sprintf("%s (%dx%d)", title, r, c)))
	b.WriteByte('\n')
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			fmt.Fprintf(&b, "%11.4e ", m.At(i, j))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
