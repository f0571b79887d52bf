package engine

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/wcharczuk/go-chart/v2"
)

// maxBars caps the number of bars drawn; the rest are dropped.
const maxBars = 40

// renderBarChart draws a bar chart into dir and returns the PNG path.
func renderBarChart(dir, title string, labels []string, values []float64) (string, error) {
	if len(labels) == 0 || len(labels) != len(values) {
		return "", fmt.Errorf("chart needs matching labels and values (got %d/%d)", len(labels), len(values))
	}
	if len(labels) > maxBars {
		labels, values = labels[:maxBars], values[:maxBars]
	}

	// Bars start at zero; a flat series still needs a non-empty range.
	lo, hi := 0.0, 0.0
	bars := make([]chart.Value, len(labels))
	for i := range labels {
		bars[i] = chart.Value{Label: labels[i], Value: values[i]}
		lo = math.Min(lo, values[i])
		hi = math.Max(hi, values[i])
	}
	if lo == hi {
		hi = lo + 1
	}

	width := 120 + len(bars)*70
	if width < 640 {
		width = 640
	}

	graph := chart.BarChart{
		Title: title,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		Width:    width,
		Height:   480,
		BarWidth: 50,
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: lo, Max: hi},
		},
		Bars: bars,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create charts dir: %w", err)
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("chart id: %w", err)
	}
	path := filepath.Join(dir, id+".png")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create chart: %w", err)
	}
	if err := graph.Render(chart.PNG, f); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("render chart: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write chart: %w", err)
	}
	return path, nil
}
