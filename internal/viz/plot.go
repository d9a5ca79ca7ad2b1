package viz

import (
	"fmt"

	"github.com/guptarohit/asciigraph"
)

var seriesColors = []asciigraph.AnsiColor{
	asciigraph.Cyan,
	asciigraph.Yellow,
	asciigraph.Green,
	asciigraph.Magenta,
	asciigraph.Red,
	asciigraph.Blue,
}

// Column extracts column j of rows; short rows contribute zero.
func Column(rows [][]float64, j int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		if j < len(r) {
			out[i] = r[j]
		}
	}
	return out
}

// PlotColumns plots the selected columns of rows on one chart. An empty
// selection plots every column.
func PlotColumns(rows [][]float64, columns []int, caption string, width, height int) (string, error) {
	if len(rows) < 2 {
		return "", fmt.Errorf("viz: need at least 2 samples to plot, got %d", len(rows))
	}
	if len(columns) == 0 {
		for j := range rows[0] {
			columns = append(columns, j)
		}
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("viz: nothing to plot")
	}

	series := make([][]float64, 0, len(columns))
	colors := make([]asciigraph.AnsiColor, 0, len(columns))
	for k, j := range columns {
		if j < 0 || j >= len(rows[0]) {
			return "", fmt.Errorf("viz: column %d out of range [0, %d)", j, len(rows[0]))
		}
		series = append(series, Column(rows, j))
		colors = append(colors, seriesColors[k%len(seriesColors)])
	}

	return asciigraph.PlotMany(series,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
		asciigraph.SeriesColors(colors...),
	), nil
}
