// Package report renders per-comparison posterior plots of p.
package report

import (
	"errors"
	"fmt"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/winrate/internal/fsutil"
	"github.com/banshee-data/winrate/internal/winrate"
)

// histogramBins is the number of bins used for sampled posteriors.
const histogramBins = 50

// Sink receives one estimate per comparison (or per fold).
type Sink interface {
	Render(name string, est *winrate.Estimate) error
}

// Format selects a sink implementation.
type Format string

const (
	FormatPNG  Format = "png"
	FormatHTML Format = "html"
)

// New returns a sink writing every format into dir. An empty dir or an empty
// format list returns nil, which callers treat as "do not plot".
func New(fsys fsutil.FileSystem, dir string, formats ...Format) (Sink, error) {
	if dir == "" || len(formats) == 0 {
		return nil, nil
	}
	var sinks Multi
	for _, f := range formats {
		switch f {
		case FormatPNG:
			sinks = append(sinks, &PNG{FS: fsys, Dir: dir})
		case FormatHTML:
			sinks = append(sinks, &HTML{FS: fsys, Dir: dir})
		default:
			return nil, fmt.Errorf("unknown plot format %q", f)
		}
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

// Name returns the report base name for a comparison, with a _cvN suffix
// when fold is not negative.
func Name(comparison string, fold int) string {
	name := fsutil.SafeName(comparison)
	if fold < 0 {
		return name
	}
	return fmt.Sprintf("%s_cv%d", name, fold)
}

// Multi fans a render out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Render(name string, est *winrate.Estimate) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Render(name, est); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Render is the nil-safe entry point used by the pipeline.
func Render(s Sink, name string, est *winrate.Estimate) error {
	if s == nil || est == nil {
		return nil
	}
	return s.Render(name, est)
}

func path(dir, name, ext string) string {
	return filepath.Join(dir, name+"."+ext)
}

// density returns the posterior of p as (x, density) pairs: the exact grid
// when present, otherwise a normalised histogram of the samples on [0, 1].
func density(est *winrate.Estimate) (xs, ys []float64) {
	if len(est.Grid) > 0 && len(est.Grid) == len(est.Density) {
		return est.Grid, est.Density
	}
	if len(est.Samples) == 0 {
		return nil, nil
	}
	width := 1.0 / histogramBins
	xs = make([]float64, histogramBins)
	ys = make([]float64, histogramBins)
	for i := range xs {
		xs[i] = (float64(i) + 0.5) * width
	}
	for _, s := range est.Samples {
		i := int(s / width)
		if i >= histogramBins {
			i = histogramBins - 1
		}
		if i < 0 {
			i = 0
		}
		ys[i]++
	}
	floats.Scale(1/(float64(len(est.Samples))*width), ys)
	return xs, ys
}

// marker is a labelled vertical reference line.
type marker struct {
	label string
	x     float64
}

func markers(est *winrate.Estimate) []marker {
	out := []marker{
		{"mean", est.Mean},
		{"k", est.K},
	}
	if est.HasTrueP {
		out = append(out, marker{"true p", est.TrueP})
	}
	if est.HasTruthMatrixP {
		out = append(out, marker{"truth matrix p", est.TruthMatrixP})
	}
	return out
}

func subtitle(est *winrate.Estimate) string {
	s := fmt.Sprintf("%s: mean %.3f, mode %.3f, %.0f%% CI [%.3f, %.3f], k %.3f",
		est.Method, est.Mean, est.Mode, est.Confidence*100, est.Lower, est.Upper, est.K)
	if ref, ok := est.Reference(); ok {
		s += fmt.Sprintf(", p %.3f", ref)
	}
	return s
}
