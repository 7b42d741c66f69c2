// Package plotting renders the named time series produced by an
// estimation run.
package plotting

import (
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Series is one named time series.
type Series struct {
	Name   string
	Times  []float64
	Values []float64
	// Points draws markers instead of a connected line, fitting sparse
	// measurements.
	Points bool
}

// Sink receives named time series for display. The estimation core never
// depends on a concrete implementation.
type Sink interface {
	Plot(title string, series ...Series) error
}

// FileSink writes each plot as a PNG file under Dir.
type FileSink struct {
	Dir    string
	Width  vg.Length
	Height vg.Length
}

func (s *FileSink) Plot(title string, series ...Series) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time"

	for i, sr := range series {
		pts := make(plotter.XYs, len(sr.Times))
		for j := range pts {
			pts[j].X = sr.Times[j]
			pts[j].Y = sr.Values[j]
		}
		if sr.Points {
			sc, err := plotter.NewScatter(pts)
			if err != nil {
				return err
			}
			sc.Color = plotutil.Color(i)
			sc.Shape = plotutil.Shape(i)
			p.Add(sc)
			p.Legend.Add(sr.Name, sc)
		} else {
			ln, err := plotter.NewLine(pts)
			if err != nil {
				return err
			}
			ln.Color = plotutil.Color(i)
			p.Add(ln)
			p.Legend.Add(sr.Name, ln)
		}
	}

	w, h := s.Width, s.Height
	if w == 0 {
		w = 6 * vg.Inch
	}
	if h == 0 {
		h = 4 * vg.Inch
	}
	return p.Save(w, h, filepath.Join(s.Dir, fileName(title)))
}

func fileName(title string) string {
	name := strings.ToLower(title)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return name + ".png"
}
