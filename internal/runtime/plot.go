package runtime

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Figure dimensions in pixels.
const (
	figureWidth  = 800
	figureHeight = 500
	marginLeft   = 70
	marginRight  = 20
	marginTop    = 40
	marginBottom = 60
	maxTickLabel = 12
)

// SeriesKind distinguishes bar charts from line plots.
type SeriesKind int

const (
	SeriesBar SeriesKind = iota
	SeriesLine
)

// Series is one plt.bar or plt.plot call.
type Series struct {
	Kind   SeriesKind
	Labels []string
	Values []float64
}

// Figure accumulates drawing calls until it is rendered or cleared.
type Figure struct {
	Title  string
	XLabel string
	YLabel string
	Series []Series
}

// Empty reports whether nothing has been drawn.
func (f *Figure) Empty() bool {
	return len(f.Series) == 0
}

var (
	colorBackground = color.RGBA{255, 255, 255, 255}
	colorAxis       = color.RGBA{60, 60, 60, 255}
	colorGrid       = color.RGBA{230, 230, 230, 255}
	colorText       = color.RGBA{30, 30, 30, 255}
	palette         = []color.RGBA{
		{31, 119, 180, 255},
		{255, 127, 14, 255},
		{44, 160, 44, 255},
		{214, 39, 40, 255},
		{148, 103, 189, 255},
	}
)

// PNG renders the figure.
func (f *Figure) PNG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, figureWidth, figureHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{colorBackground}, image.Point{}, draw.Src)

	lo, hi := f.valueRange()
	plotW := figureWidth - marginLeft - marginRight
	plotH := figureHeight - marginTop - marginBottom
	yPixel := func(v float64) int {
		return marginTop + plotH - int(math.Round((v-lo)/(hi-lo)*float64(plotH)))
	}

	// Horizontal grid with value ticks.
	for i := 0; i <= 4; i++ {
		v := lo + (hi-lo)*float64(i)/4
		y := yPixel(v)
		hline(img, marginLeft, marginLeft+plotW, y, colorGrid)
		drawText(img, 4, y+4, trimLabel(formatTick(v), 10))
	}

	slots := f.slots()
	if slots > 0 {
		slotW := float64(plotW) / float64(slots)
		bars := f.barCount()
		barIdx := 0
		for si, s := range f.Series {
			c := palette[si%len(palette)]
			switch s.Kind {
			case SeriesBar:
				width := slotW * 0.8 / float64(max(bars, 1))
				for i, v := range s.Values {
					x0 := marginLeft + int(slotW*float64(i)+slotW*0.1+width*float64(barIdx))
					x1 := x0 + max(int(width), 1)
					y0, y1 := yPixel(math.Max(v, lo)), yPixel(math.Max(0, lo))
					if y0 > y1 {
						y0, y1 = y1, y0
					}
					draw.Draw(img, image.Rect(x0, y0, x1, y1), &image.Uniform{c}, image.Point{}, draw.Src)
				}
				barIdx++
			case SeriesLine:
				for i := 1; i < len(s.Values); i++ {
					x0 := marginLeft + int(slotW*(float64(i-1)+0.5))
					x1 := marginLeft + int(slotW*(float64(i)+0.5))
					line(img, x0, yPixel(s.Values[i-1]), x1, yPixel(s.Values[i]), c)
				}
			}
		}

		labels := f.labels()
		step := max(1, len(labels)/20)
		for i := 0; i < len(labels); i += step {
			x := marginLeft + int(slotW*(float64(i)+0.5))
			text := trimLabel(labels[i], maxTickLabel)
			drawText(img, x-len(text)*basicfont.Face7x13.Advance/2, figureHeight-marginBottom+16, text)
		}
	}

	// Axes.
	hline(img, marginLeft, marginLeft+plotW, yPixel(math.Max(0, lo)), colorAxis)
	vline(img, marginLeft, marginTop, marginTop+plotH, colorAxis)

	if f.Title != "" {
		drawText(img, (figureWidth-len(f.Title)*basicfont.Face7x13.Advance)/2, marginTop-14, f.Title)
	}
	if f.XLabel != "" {
		drawText(img, (figureWidth-len(f.XLabel)*basicfont.Face7x13.Advance)/2, figureHeight-14, f.XLabel)
	}
	if f.YLabel != "" {
		drawText(img, 4, marginTop-14, f.YLabel)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode plot: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *Figure) valueRange() (float64, float64) {
	lo, hi := 0.0, 0.0
	for _, s := range f.Series {
		for _, v := range s.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi
}

func (f *Figure) slots() int {
	n := 0
	for _, s := range f.Series {
		n = max(n, len(s.Values))
	}
	return n
}

func (f *Figure) barCount() int {
	n := 0
	for _, s := range f.Series {
		if s.Kind == SeriesBar {
			n++
		}
	}
	return n
}

func (f *Figure) labels() []string {
	var out []string
	for _, s := range f.Series {
		if len(s.Labels) > len(out) {
			out = s.Labels
		}
	}
	return out
}

func formatTick(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e9 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.3g", v)
}

func trimLabel(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}

func drawText(img draw.Image, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(colorText),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func hline(img *image.RGBA, x0, x1, y int, c color.RGBA) {
	for x := x0; x <= x1; x++ {
		img.SetRGBA(x, y, c)
	}
}

func vline(img *image.RGBA, x, y0, y1 int, c color.RGBA) {
	for y := y0; y <= y1; y++ {
		img.SetRGBA(x, y, c)
	}
}

// line draws a segment with Bresenham's algorithm.
func line(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetRGBA(x0, y0, c)
		img.SetRGBA(x0, y0+1, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
