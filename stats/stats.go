// Package stats has simple running statistics used to track training losses.
package stats

import (
	"fmt"
	"html/template"
	"math"
	"sync"
)

// Calc exponentional moving average over the last n values
type EMA float64

func (e EMA) Add(val, n float64) float64 {
	if e == 0 {
		return val
	}
	k := 2.0 / (n + 1.0)
	return val*k + float64(e)*(1-k)
}

// Running mean and stddev as per http://www.johndcook.com/blog/standard_deviation/
type Average struct {
	Count, Mean float64
	Var, StdDev float64
	oldM, oldV  float64
}

func (s *Average) Add(x float64) {
	s.Count++
	if s.Count == 1 {
		s.oldM, s.Mean = x, x
		s.oldV = 0
	} else {
		s.Mean = s.oldM + (x-s.oldM)/s.Count
		s.Var = s.oldV + (x-s.oldM)*(x-s.Mean)
		s.oldM, s.oldV = s.Mean, s.Var
		if s.Count > 1 {
			s.StdDev = math.Sqrt(s.Var / (s.Count - 1))
		}
	}
}

func (s *Average) HTML() template.HTML {
	var text string
	if s.Mean > 10 {
		if s.StdDev < 0.1 {
			text = fmt.Sprintf("%.1f", s.Mean)
		} else {
			text = fmt.Sprintf("%.1f&PlusMinus;%.1f", s.Mean, s.StdDev)
		}
	} else {
		if s.StdDev < 0.01 {
			text = fmt.Sprintf("%.2f", s.Mean)
		} else {
			text = fmt.Sprintf("%.2f&PlusMinus;%.2f", s.Mean, s.StdDev)
		}
	}
	return template.HTML(text)
}

// Point is one loss value recorded at the end of an epoch.
type Point struct {
	Epoch int
	Value float64
}

// History holds per epoch loss values for a set of named series. It may be read while
// a training run is appending to it.
type History struct {
	sync.Mutex
	names  []string
	series map[string][]Point
}

func NewHistory(names ...string) *History {
	h := &History{names: names, series: map[string][]Point{}}
	for _, name := range names {
		h.series[name] = []Point{}
	}
	return h
}

// Names returns the series names in the order they were registered.
func (h *History) Names() []string {
	return append([]string{}, h.names...)
}

// Add appends a new point to the named series.
func (h *History) Add(name string, epoch int, value float64) {
	h.Lock()
	h.series[name] = append(h.series[name], Point{Epoch: epoch, Value: value})
	h.Unlock()
}

// Series returns a copy of the points for the given series.
func (h *History) Series(name string) []Point {
	h.Lock()
	defer h.Unlock()
	return append([]Point{}, h.series[name]...)
}

// Len returns the length of the longest series.
func (h *History) Len() int {
	h.Lock()
	defer h.Unlock()
	n := 0
	for _, s := range h.series {
		if len(s) > n {
			n = len(s)
		}
	}
	return n
}
