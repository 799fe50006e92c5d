// Package waterfall renders a heatmap's ring of time slices as an image:
// one row per slice, one column per group of buckets, color intensity
// following the observation count. Output is either a PNG or a colored
// block rendering for the terminal.
package waterfall

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/aybabtme/rgbterm"

	"github.com/quarterwave/heatring/pkg/clock"
	"github.com/quarterwave/heatring/pkg/heatmap"
	"github.com/quarterwave/heatring/pkg/histogram"
)

// ErrNoData is returned when the heatmap has no active slices to render.
var ErrNoData = errors.New("waterfall: heatmap has no data")

// Scale picks how counts map onto the palette.
type Scale int

const (
	// Linear maps counts proportionally. Large spikes wash out the rest.
	Linear Scale = iota

	// Logarithmic compresses the count range so low-traffic buckets stay
	// visible next to hot ones.
	Logarithmic
)

// Palette is a color ramp from cold (no observations) to hot.
type Palette []color.RGBA

// ramp interpolates between anchor colors into a 256-entry palette.
func ramp(anchors ...color.RGBA) Palette {
	p := make(Palette, 256)
	segments := len(anchors) - 1
	for i := range p {
		pos := float64(i) / 255.0 * float64(segments)
		seg := int(pos)
		if seg >= segments {
			seg = segments - 1
		}
		frac := pos - float64(seg)
		a, b := anchors[seg], anchors[seg+1]
		p[i] = color.RGBA{
			R: uint8(float64(a.R) + frac*(float64(b.R)-float64(a.R))),
			G: uint8(float64(a.G) + frac*(float64(b.G)-float64(a.G))),
			B: uint8(float64(a.B) + frac*(float64(b.B)-float64(a.B))),
			A: 255,
		}
	}
	return p
}

// Classic is a blue through green and yellow to red ramp.
func Classic() Palette {
	return ramp(
		color.RGBA{0, 0, 64, 255},
		color.RGBA{0, 64, 255, 255},
		color.RGBA{0, 255, 128, 255},
		color.RGBA{255, 255, 0, 255},
		color.RGBA{255, 0, 0, 255},
	)
}

// Ironbow is the thermal-camera style ramp, black through purple and
// orange to white.
func Ironbow() Palette {
	return ramp(
		color.RGBA{0, 0, 0, 255},
		color.RGBA{64, 0, 96, 255},
		color.RGBA{192, 32, 64, 255},
		color.RGBA{255, 160, 0, 255},
		color.RGBA{255, 255, 224, 255},
	)
}

// Builder configures waterfall rendering. The zero Builder is not usable;
// start from New.
type Builder struct {
	palette Palette
	scale   Scale
	width   int
}

// New returns a builder with the classic palette, logarithmic scale and a
// width of 128 columns.
func New() *Builder {
	return &Builder{
		palette: Classic(),
		scale:   Logarithmic,
		width:   128,
	}
}

// Palette replaces the color ramp.
func (b *Builder) Palette(p Palette) *Builder {
	b.palette = p
	return b
}

// Scale replaces the count-to-color mapping.
func (b *Builder) Scale(s Scale) *Builder {
	b.scale = s
	return b
}

// Width sets the number of columns; buckets are pooled to fit.
func (b *Builder) Width(w int) *Builder {
	if w > 0 {
		b.width = w
	}
	return b
}

// grid pools each slice's buckets down to width columns and returns the
// per-cell counts in chronological row order plus the hottest cell.
func (b *Builder) grid(hm *heatmap.Heatmap) (rows [][]uint64, max uint64) {
	buckets := hm.Config().Buckets()
	width := b.width
	if width > buckets {
		width = buckets
	}

	hm.EachSlice(func(_ clock.Instant, snap *histogram.Snapshot) {
		row := make([]uint64, width)
		i := 0
		snap.Each(func(bk histogram.Bucket) {
			col := i * width / buckets
			row[col] += bk.Count()
			i++
		})
		for _, c := range row {
			if c > max {
				max = c
			}
		}
		rows = append(rows, row)
	})
	return rows, max
}

// heat maps a count onto [0,1] against the hottest cell.
func (b *Builder) heat(count, max uint64) float64 {
	if count == 0 || max == 0 {
		return 0
	}
	if b.scale == Logarithmic {
		return math.Log1p(float64(count)) / math.Log1p(float64(max))
	}
	return float64(count) / float64(max)
}

func (b *Builder) cell(count, max uint64) color.RGBA {
	idx := int(b.heat(count, max) * 255)
	if idx > 255 {
		idx = 255
	}
	return b.palette[idx]
}

// Render draws the heatmap into an RGBA image, oldest slice on the top
// row, lowest bucket in the left column.
func (b *Builder) Render(hm *heatmap.Heatmap) (*image.RGBA, error) {
	rows, max := b.grid(hm)
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	img := image.NewRGBA(image.Rect(0, 0, len(rows[0]), len(rows)))
	for y, row := range rows {
		for x, count := range row {
			img.SetRGBA(x, y, b.cell(count, max))
		}
	}
	return img, nil
}

// WritePNG renders the heatmap and encodes it as a PNG.
func (b *Builder) WritePNG(w io.Writer, hm *heatmap.Heatmap) error {
	img, err := b.Render(hm)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// RenderTerminal writes the waterfall as 24-bit colored blocks, one line
// per slice.
func (b *Builder) RenderTerminal(w io.Writer, hm *heatmap.Heatmap) error {
	rows, max := b.grid(hm)
	if len(rows) == 0 {
		return ErrNoData
	}

	for _, row := range rows {
		for _, count := range row {
			c := b.cell(count, max)
			if _, err := io.WriteString(w, rgbterm.BgString(" ", c.R, c.G, c.B)); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
