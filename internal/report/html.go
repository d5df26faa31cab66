package report

import (
	"bytes"
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/winrate/internal/fsutil"
	"github.com/banshee-data/winrate/internal/winrate"
)

// HTML writes an interactive posterior chart as <name>.html under Dir.
type HTML struct {
	FS  fsutil.FileSystem
	Dir string
	// AssetsHost overrides the echarts script location; empty uses the
	// library default.
	AssetsHost string
}

func (s *HTML) Render(name string, est *winrate.Estimate) error {
	xs, ys := density(est)
	if len(xs) == 0 {
		return fmt.Errorf("render %s: estimate has no posterior", name)
	}
	// The grid is too fine for a bar chart; thin it to the histogram width.
	step := 1
	if len(xs) > histogramBins {
		step = len(xs) / histogramBins
	}
	x := make([]string, 0, len(xs)/step+1)
	y := make([]opts.BarData, 0, len(xs)/step+1)
	for i := 0; i < len(xs); i += step {
		x = append(x, fmt.Sprintf("%.2f", xs[i]))
		y = append(y, opts.BarData{Value: ys[i]})
	}

	initOpts := opts.Initialization{PageTitle: name, Width: "100%", Height: "480px"}
	if s.AssetsHost != "" {
		initOpts.AssetsHost = s.AssetsHost
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: name, Subtitle: subtitle(est)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "p", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "density"}),
	)
	bar.SetXAxis(x).AddSeries("posterior", y)

	refs := make([]opts.BarData, 0, 4)
	labels := make([]string, 0, 4)
	for _, m := range markers(est) {
		labels = append(labels, m.label)
		refs = append(refs, opts.BarData{Value: m.x})
	}
	ref := charts.NewBar()
	ref.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: "Reference values"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	ref.SetXAxis(labels).AddSeries("p", refs,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)

	page := components.NewPage()
	if s.AssetsHost != "" {
		page.SetAssetsHost(s.AssetsHost)
	}
	page.AddCharts(bar, ref)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	if err := fsutil.WriteFileAll(s.FS, path(s.Dir, name, "html"), buf.Bytes()); err != nil {
		return fmt.Errorf("save %s chart: %w", name, err)
	}
	return nil
}
