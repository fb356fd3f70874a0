// Package report renders training results.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"pcosdx/ml"
)

// MaxChartFeatures caps the number of bars in the importance chart.
const MaxChartFeatures = 20

// SaveImportanceChart draws the top feature importances of r as a
// horizontal bar chart. The image format follows the file extension
// (.png, .svg, .pdf, ...).
func SaveImportanceChart(r *ml.Report, path string) error {
	if r == nil || len(r.Importances) == 0 {
		return errors.New("report has no feature importances")
	}
	top := r.Importances
	if len(top) > MaxChartFeatures {
		top = top[:MaxChartFeatures]
	}

	// bars are drawn bottom-up, so the most important feature goes last
	values := make(plotter.Values, len(top))
	names := make([]string, len(top))
	for i, fi := range top {
		j := len(top) - 1 - i
		values[j] = fi.Importance
		names[j] = fi.Name
	}

	p := plot.New()
	p.Title.Text = "Top Feature Importances"
	p.X.Label.Text = "Importance"

	bars, err := plotter.NewBarChart(values, vg.Points(10))
	if err != nil {
		return err
	}
	bars.Horizontal = true
	bars.Color = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalY(names...)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	height := vg.Length(len(top))*vg.Points(16) + 2*vg.Inch
	return p.Save(8*vg.Inch, height, path)
}

// WriteSummary prints the evaluation metrics and the top n importances as
// an aligned table.
func WriteSummary(w io.Writer, r *ml.Report, n int) error {
	if r == nil {
		return errors.New("nil report")
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "rows\ttrain=%d\ttest=%d\tpositives=%d\n", r.TrainRows, r.TestRows, r.Positives)
	fmt.Fprintf(tw, "accuracy\t%.4f\n", r.Accuracy)
	fmt.Fprintf(tw, "precision\t%.4f\n", r.Precision)
	fmt.Fprintf(tw, "recall\t%.4f\n", r.Recall)
	fmt.Fprintf(tw, "f1\t%.4f\n", r.F1)
	c := r.Confusion
	fmt.Fprintf(tw, "confusion\ttp=%d\tfp=%d\ttn=%d\tfn=%d\n", c.TruePositive, c.FalsePositive, c.TrueNegative, c.FalseNegative)
	if n > len(r.Importances) {
		n = len(r.Importances)
	}
	if n > 0 {
		fmt.Fprintln(tw, "\nfeature\timportance")
		for _, fi := range r.Importances[:n] {
			fmt.Fprintf(tw, "%s\t%.4f\n", fi.Name, fi.Importance)
		}
	}
	return tw.Flush()
}
