// Package img contains routines for loading, resizing and batching images.
package img

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
)

// Image stores RGB pixel data as float64 values in range 0-1 with each colour plane stored separately in row major order.
type Image struct {
	Pix    []float64
	Height int
	Width  int
}

const Channels = 3

func NewImage(width, height int) *Image {
	return &Image{Pix: make([]float64, Channels*height*width), Height: height, Width: width}
}

// Convert from a decoded image to separate colour planes.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	m := NewImage(b.Dx(), b.Dy())
	plane := m.Height * m.Width
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			r, g, b2, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			pos := y*m.Width + x
			m.Pix[pos] = float64(r) / 0xffff
			m.Pix[plane+pos] = float64(g) / 0xffff
			m.Pix[2*plane+pos] = float64(b2) / 0xffff
		}
	}
	return m
}

// Load reads and decodes a png or jpeg image from file.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("error decoding image %s: %s", path, err)
	}
	return FromImage(src), nil
}

func (m *Image) ColorModel() color.Model {
	return color.RGBAModel
}

func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *Image) At(x, y int) color.Color {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return color.RGBA{A: 0xff}
	}
	plane := m.Height * m.Width
	pos := y*m.Width + x
	return color.RGBA{
		R: uint8(clamp(m.Pix[pos], 0, 1) * 255),
		G: uint8(clamp(m.Pix[plane+pos], 0, 1) * 255),
		B: uint8(clamp(m.Pix[2*plane+pos], 0, 1) * 255),
		A: 0xff,
	}
}

// Pixels returns the pixel values for the given colour plane.
func (m *Image) Pixels(ch int) []float64 {
	plane := m.Height * m.Width
	return m.Pix[ch*plane : (ch+1)*plane]
}

// Resize resamples the image to width x height using area averaging when shrinking, else bilinear interpolation.
func (m *Image) Resize(width, height int) *Image {
	dst := NewImage(width, height)
	for ch := 0; ch < Channels; ch++ {
		resizePlane(m.Pixels(ch), m.Width, m.Height, dst.Pixels(ch), width, height)
	}
	return dst
}

// Scale resizes the image preserving the aspect ratio so that the shorter side equals size.
func (m *Image) Scale(size int) *Image {
	if m.Width <= m.Height {
		h := int(float64(m.Height)*float64(size)/float64(m.Width) + 0.5)
		return m.Resize(size, h)
	}
	w := int(float64(m.Width)*float64(size)/float64(m.Height) + 0.5)
	return m.Resize(w, size)
}

// Grid composes a batch of equal sized images into a single sheet with perRow images on each row.
func Grid(images []*Image, perRow int) *Image {
	if len(images) == 0 {
		return NewImage(0, 0)
	}
	w, h := images[0].Width, images[0].Height
	rows := (len(images) + perRow - 1) / perRow
	dst := NewImage(w*perRow, h*rows)
	for i, src := range images {
		ox, oy := (i%perRow)*w, (i/perRow)*h
		for ch := 0; ch < Channels; ch++ {
			spix, dpix := src.Pixels(ch), dst.Pixels(ch)
			for y := 0; y < h; y++ {
				copy(dpix[(oy+y)*dst.Width+ox:], spix[y*w:(y+1)*w])
			}
		}
	}
	return dst
}

// SavePNG writes the image to file in png format.
func SavePNG(path string, m image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, m)
}

func resizePlane(src []float64, sw, sh int, dst []float64, dw, dh int) {
	if dw < sw || dh < sh || sw < 2 || sh < 2 {
		resizeArea(src, sw, sh, dst, dw, dh)
	} else {
		resizeBilinear(src, sw, sh, dst, dw, dh)
	}
}

// average over the source box which maps to each destination pixel
func resizeArea(src []float64, sw, sh int, dst []float64, dw, dh int) {
	xr := float64(sw) / float64(dw)
	yr := float64(sh) / float64(dh)
	for y := 0; y < dh; y++ {
		y0, y1 := int(float64(y)*yr), int(float64(y+1)*yr)
		if y1 <= y0 {
			y1 = y0 + 1
		}
		if y1 > sh {
			y1 = sh
		}
		for x := 0; x < dw; x++ {
			x0, x1 := int(float64(x)*xr), int(float64(x+1)*xr)
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if x1 > sw {
				x1 = sw
			}
			sum := 0.0
			for sy := y0; sy < y1; sy++ {
				for sx := x0; sx < x1; sx++ {
					sum += src[sy*sw+sx]
				}
			}
			dst[y*dw+x] = sum / float64((y1-y0)*(x1-x0))
		}
	}
}

func resizeBilinear(src []float64, sw, sh int, dst []float64, dw, dh int) {
	xr := float64(sw-1) / float64(max(dw-1, 1))
	yr := float64(sh-1) / float64(max(dh-1, 1))
	for y := 0; y < dh; y++ {
		yv := float64(y) * yr
		iy := int(yv)
		if iy > sh-2 {
			iy = sh - 2
		}
		if iy < 0 {
			iy = 0
		}
		yf := yv - float64(iy)
		for x := 0; x < dw; x++ {
			xv := float64(x) * xr
			ix := int(xv)
			if ix > sw-2 {
				ix = sw - 2
			}
			if ix < 0 {
				ix = 0
			}
			xf := xv - float64(ix)
			avg0 := src[iy*sw+ix]*(1-xf) + src[iy*sw+ix+1]*xf
			avg1 := src[(iy+1)*sw+ix]*(1-xf) + src[(iy+1)*sw+ix+1]*xf
			dst[y*dw+x] = avg0*(1-yf) + avg1*yf
		}
	}
}

func clamp(x, x0, x1 float64) float64 {
	if x < x0 {
		return x0
	}
	if x > x1 {
		return x1
	}
	return x
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
