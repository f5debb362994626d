package train

import (
	"fmt"
	"image/color"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	trainColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	valColor   = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// series is one named line of a plot
type series struct {
	name  string
	color color.Color
	value func(EpochRecord) float64
}

// PlotHistory writes the loss curves to path and the PSNR curves to the same
// name with a _psnr suffix
func PlotHistory(history []EpochRecord, path string) error {

	if len(history) == 0 {
		return fmt.Errorf("no epochs to plot")
	}

	err := savePlot(history, path, "Training loss", "loss", []series{
		{"train", trainColor, func(r EpochRecord) float64 { return r.TrainLoss }},
		{"validation", valColor, func(r EpochRecord) float64 { return r.ValLoss }},
	})

	if err != nil {
		return err
	}

	ext := filepath.Ext(path)
	psnrPath := strings.TrimSuffix(path, ext) + "_psnr" + ext

	return savePlot(history, psnrPath, "PSNR", "dB", []series{
		{"train", trainColor, func(r EpochRecord) float64 { return r.TrainPSNR }},
		{"validation", valColor, func(r EpochRecord) float64 { return r.ValPSNR }},
	})
}

func savePlot(history []EpochRecord, path, title, yLabel string, lines []series) error {

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = yLabel

	for _, s := range lines {
		pts := make(plotter.XYs, 0, len(history))

		for _, r := range history {
			pts = append(pts, plotter.XY{X: float64(r.Epoch), Y: s.value(r)})
		}

		line, err := plotter.NewLine(pts)

		if err != nil {
			return fmt.Errorf("error creating %s line: %w", s.name, err)
		}

		line.Color = s.color
		line.Width = vg.Points(1.5)

		p.Add(line)
		p.Legend.Add(s.name, line)
	}

	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("error saving plot %s: %w", path, err)
	}

	return nil
}
