package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/rewired-gh/parkcast/internal/models"
)

// RenderChart writes an HTML line chart of predicted revenue with its bounds
// and the weekday baseline.
func RenderChart(w io.Writer, run *models.ForecastRun) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Parking Revenue Forecast",
			Width:     "1100px",
			Height:    "550px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Parking revenue forecast",
			Subtitle: fmt.Sprintf("%s to %s, %s mode", run.Start.Format(models.DateLayout), run.End().Format(models.DateLayout), run.Mode),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
	)

	dates := make([]string, len(run.Rows))
	predicted := make([]opts.LineData, len(run.Rows))
	lower := make([]opts.LineData, len(run.Rows))
	upper := make([]opts.LineData, len(run.Rows))
	baseline := make([]opts.LineData, len(run.Rows))
	for i, row := range run.Rows {
		dates[i] = row.Date.Format(models.DateLayout)
		predicted[i] = opts.LineData{Value: round2(row.PredictedTotal)}
		lower[i] = opts.LineData{Value: round2(row.LowerBound)}
		upper[i] = opts.LineData{Value: round2(row.UpperBound)}
		baseline[i] = opts.LineData{Value: round2(row.BaselineRevenue)}
	}

	dashed := charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"})
	line.SetXAxis(dates).
		AddSeries("Predicted", predicted).
		AddSeries("Lower bound", lower, dashed).
		AddSeries("Upper bound", upper, dashed).
		AddSeries("Baseline", baseline, charts.WithLineStyleOpts(opts.LineStyle{Type: "dotted"}))

	if err := line.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
