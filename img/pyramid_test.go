package img

import (
	"errors"
	"reflect"
	"testing"
)

func TestSchedule(t *testing.T) {
	sizes, err := Schedule(100, 25, 0.75)
	if err != nil {
		t.Fatal(err)
	}
	expect := []int{24, 32, 42, 56, 75, 100}
	if !reflect.DeepEqual(sizes, expect) {
		t.Error("got", sizes, "expect", expect)
	}
	sizes, err = Schedule(250, 18, 0.6)
	if err != nil {
		t.Fatal(err)
	}
	t.Log("sizes:", sizes)
	if len(sizes) == 0 || sizes[len(sizes)-1] != 250 {
		t.Error("largest entry should be the max size: got", sizes)
	}
	for i, size := range sizes {
		if i > 0 && size <= sizes[i-1] {
			t.Error("sizes not strictly ascending:", sizes)
		}
		if size <= 18 && i != 0 {
			t.Error("only the first entry may be at or below min size:", sizes)
		}
	}
}

func TestScheduleErrors(t *testing.T) {
	bad := []struct {
		max, min int
		sf       float64
	}{
		{100, 25, 0}, {100, 25, 1}, {100, 25, 1.5}, {100, 25, -0.5},
		{100, 0, 0.75}, {25, 25, 0.75}, {20, 25, 0.75},
	}
	for _, tc := range bad {
		if _, err := Schedule(tc.max, tc.min, tc.sf); !errors.Is(err, ErrInvalidScaleFactor) {
			t.Errorf("Schedule(%d,%d,%g): expect ErrInvalidScaleFactor - got %v", tc.max, tc.min, tc.sf, err)
		}
	}
	if _, err := BuildPyramid(testImage(20, 20), 10, 5, 2); !errors.Is(err, ErrInvalidScaleFactor) {
		t.Error("BuildPyramid should fail before any image work: got", err)
	}
}

func TestBuildPyramid(t *testing.T) {
	src := testImage(80, 60)
	levels, err := BuildPyramid(src, 50, 12, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	// schedule is [6 13 25 50] and the shorter side is the height
	if len(levels) != 4 {
		t.Fatal("expect 4 levels - got", len(levels))
	}
	for i, l := range levels {
		t.Logf("level %d: size %d image %dx%d", i, l.Size, l.Width, l.Height)
		if l.Height != l.Size {
			t.Errorf("level %d: shorter side %d should equal size %d", i, l.Height, l.Size)
		}
		if l.Width < l.Height {
			t.Errorf("level %d: aspect not preserved: %dx%d", i, l.Width, l.Height)
		}
		shape := l.Tensor.Shape()
		if !reflect.DeepEqual([]int(shape), []int{1, Channels, l.Height, l.Width}) {
			t.Errorf("level %d: tensor shape %v", i, shape)
		}
	}
	if levels[len(levels)-1].Size != 50 {
		t.Error("final level should be at max size")
	}
}

// gradient test pattern
func testImage(width, height int) *Image {
	m := NewImage(width, height)
	for ch := 0; ch < Channels; ch++ {
		pix := m.Pixels(ch)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				pix[y*width+x] = float64(x+y*ch) / float64(width+height*Channels)
			}
		}
	}
	return m
}
