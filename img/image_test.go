package img

import (
	"math"
	"testing"
)

func TestResizeDown(t *testing.T) {
	m := NewImage(4, 2)
	pix := m.Pixels(0)
	copy(pix, []float64{
		0, 1, 0, 1,
		1, 0, 1, 0,
	})
	small := m.Resize(2, 1)
	if small.Width != 2 || small.Height != 1 {
		t.Fatal("bad size:", small.Width, small.Height)
	}
	// area average over each 2x2 box
	for i, val := range small.Pixels(0) {
		if math.Abs(val-0.5) > 1e-12 {
			t.Error("pixel", i, "got", val, "expect 0.5")
		}
	}
}

func TestResizeUp(t *testing.T) {
	m := NewImage(2, 2)
	for ch := 0; ch < Channels; ch++ {
		copy(m.Pixels(ch), []float64{0.25, 0.25, 0.25, 0.25})
	}
	big := m.Resize(5, 3)
	if big.Width != 5 || big.Height != 3 {
		t.Fatal("bad size:", big.Width, big.Height)
	}
	// bilinear interpolation of a constant image is constant
	for _, val := range big.Pix {
		if math.Abs(val-0.25) > 1e-12 {
			t.Fatal("got", val, "expect 0.25")
		}
	}
}

func TestScale(t *testing.T) {
	cases := []struct{ w, h, size, ew, eh int }{
		{100, 50, 25, 50, 25},
		{50, 100, 25, 25, 50},
		{60, 60, 30, 30, 30},
		{99, 66, 10, 15, 10},
	}
	for _, tc := range cases {
		m := testImage(tc.w, tc.h).Scale(tc.size)
		if m.Width != tc.ew || m.Height != tc.eh {
			t.Errorf("Scale(%d) of %dx%d: got %dx%d expect %dx%d", tc.size, tc.w, tc.h, m.Width, m.Height, tc.ew, tc.eh)
		}
	}
}

func TestGrid(t *testing.T) {
	images := make([]*Image, 3)
	for i := range images {
		images[i] = NewImage(4, 4)
		for j := range images[i].Pix {
			images[i].Pix[j] = float64(i+1) / 4
		}
	}
	sheet := Grid(images, 2)
	if sheet.Width != 8 || sheet.Height != 8 {
		t.Fatal("bad sheet size:", sheet.Width, sheet.Height)
	}
	// third image is at row 1 col 0, bottom right quarter stays zero
	pix := sheet.Pixels(0)
	check := func(x, y int, expect float64) {
		if val := pix[y*sheet.Width+x]; math.Abs(val-expect) > 1e-12 {
			t.Errorf("pixel %d,%d: got %v expect %v", x, y, val, expect)
		}
	}
	check(0, 0, 0.25)
	check(7, 0, 0.5)
	check(0, 7, 0.75)
	check(7, 7, 0)
}

func TestTensorRoundTrip(t *testing.T) {
	m := testImage(6, 4)
	ts := m.Tensor()
	shape := ts.Shape()
	if shape[0] != 1 || shape[1] != Channels || shape[2] != 4 || shape[3] != 6 {
		t.Fatal("bad tensor shape:", shape)
	}
	data := ts.Data().([]float64)
	for _, val := range data {
		if val < -1 || val > 1 {
			t.Fatal("tensor values should be in [-1,1]: got", val)
		}
	}
	images, err := FromTensor(ts)
	if err != nil {
		t.Fatal(err)
	}
	if len(images) != 1 {
		t.Fatal("expect 1 image - got", len(images))
	}
	out := images[0]
	if out.Width != m.Width || out.Height != m.Height {
		t.Fatal("bad size:", out.Width, out.Height)
	}
	for i := range m.Pix {
		if math.Abs(out.Pix[i]-m.Pix[i]) > 1e-12 {
			t.Fatalf("pixel %d: got %v expect %v", i, out.Pix[i], m.Pix[i])
		}
	}
}

func TestResizeTensor(t *testing.T) {
	ts := testImage(8, 6).Tensor()
	out, err := ResizeTensor(ts, 4, 3)
	if err != nil {
		t.Fatal(err)
	}
	shape := out.Shape()
	if shape[0] != 1 || shape[1] != Channels || shape[2] != 3 || shape[3] != 4 {
		t.Error("bad shape:", shape)
	}
}
