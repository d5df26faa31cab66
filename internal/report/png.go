package report

import (
	"bytes"
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/winrate/internal/fsutil"
	"github.com/banshee-data/winrate/internal/winrate"
)

var markerColors = map[string]color.Color{
	"mean":           color.RGBA{R: 200, A: 255},
	"k":              color.RGBA{R: 128, G: 128, B: 128, A: 255},
	"true p":         color.RGBA{G: 150, A: 255},
	"truth matrix p": color.RGBA{B: 200, A: 255},
}

// PNG writes a posterior plot of p as <name>.png under Dir.
type PNG struct {
	FS  fsutil.FileSystem
	Dir string
}

func (s *PNG) Render(name string, est *winrate.Estimate) error {
	p := plot.New()
	p.Title.Text = name
	p.X.Label.Text = "p"
	p.Y.Label.Text = "density"
	p.X.Min = 0
	p.X.Max = 1

	xs, ys := density(est)
	if len(xs) == 0 {
		return fmt.Errorf("render %s: estimate has no posterior", name)
	}
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i] = plotter.XY{X: xs[i], Y: ys[i]}
	}
	top := floats.Max(ys)

	if est.Method == winrate.MethodGrid {
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add("posterior", line)
	} else {
		hist, err := plotter.NewHistogram(pts, len(pts))
		if err != nil {
			return err
		}
		hist.FillColor = color.RGBA{R: 170, G: 190, B: 220, A: 255}
		p.Add(hist)
		p.Legend.Add("samples", hist)
	}

	for _, m := range markers(est) {
		line, err := plotter.NewLine(plotter.XYs{{X: m.x, Y: 0}, {X: m.x, Y: top}})
		if err != nil {
			return err
		}
		line.Color = markerColors[m.label]
		line.Width = vg.Points(1)
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(line)
		p.Legend.Add(m.label, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	w, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	if err := fsutil.WriteFileAll(s.FS, path(s.Dir, name, "png"), buf.Bytes()); err != nil {
		return fmt.Errorf("save %s plot: %w", name, err)
	}
	return nil
}
