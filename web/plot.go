package web

import (
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/jnb666/mirage/stats"
)

// pixel size of the SVG output
const dpi = 96

// writeLossPlot plots one line per named series in the history as a width x height pixel SVG.
func writeLossPlot(w io.Writer, hist *stats.History, width, height int) error {
	plt := newPlot()
	for i, name := range hist.Names() {
		line := newLinePlot(hist.Series(name), i)
		plt.Add(line)
		plt.Legend.Add(name+" loss ", line)
	}
	writer, err := plt.WriterTo(vg.Inch*vg.Length(width)/dpi, vg.Inch*vg.Length(height)/dpi, "svg")
	if err != nil {
		return err
	}
	_, err = writer.WriteTo(w)
	return err
}

func newPlot() *plot.Plot {
	p := plot.New()
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Tick.Label.Font.Size = vg.Points(10)
	p.Y.Tick.Label.Font.Size = vg.Points(10)
	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = vg.Points(12)
	p.Add(plotter.NewGrid())
	return p
}

func newLinePlot(points []stats.Point, ix int) linePlot {
	var pt struct{ X, Y float64 }
	var pts plotter.XYs
	xmax, ymin, ymax := 1.0, 0.0, 0.0
	for _, s := range points {
		pt.X, pt.Y = float64(s.Epoch), s.Value
		pts = append(pts, pt)
		if pt.X > xmax {
			xmax = pt.X
		}
		if pt.Y > ymax {
			ymax = pt.Y
		}
		if pt.Y < ymin {
			ymin = pt.Y
		}
	}
	l, _ := plotter.NewLine(pts)
	l.Width = 2
	l.Color = plotutil.Color(ix)
	return linePlot{Line: l, xmin: 1, xmax: xmax, ymin: ymin, ymax: ymax}
}

// modified plotter.Line with a fixed scale
type linePlot struct {
	*plotter.Line
	xmin, xmax, ymin, ymax float64
}

func (l linePlot) DataRange() (xmin, xmax, ymin, ymax float64) {
	return l.xmin, l.xmax, l.ymin, l.ymax
}
