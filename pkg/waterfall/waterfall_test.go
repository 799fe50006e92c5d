package waterfall

import (
	"bytes"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarterwave/heatring/pkg/clock"
	"github.com/quarterwave/heatring/pkg/heatmap"
)

func populated(t *testing.T) *heatmap.Heatmap {
	t.Helper()
	origin := clock.Instant(0)
	hm, err := heatmap.NewAt(2, 8, time.Second, 4, origin)
	require.NoError(t, err)

	for slot := 0; slot < 4; slot++ {
		at := origin.Add(time.Duration(slot) * time.Second)
		hm.Tick(at)
		for v := uint64(1); v < 100; v += uint64(slot + 1) {
			hm.IncrementAt(at, v)
		}
	}
	return hm
}

func TestRenderDimensions(t *testing.T) {
	hm := populated(t)

	img, err := New().Width(16).Render(hm)
	require.NoError(t, err)

	bounds := img.Bounds()
	assert.Equal(t, 16, bounds.Dx())
	assert.Equal(t, hm.ActiveSlices(), bounds.Dy())
}

func TestRenderWidthClampedToBuckets(t *testing.T) {
	hm := populated(t)

	// more columns than buckets collapses to one column per bucket
	img, err := New().Width(100000).Render(hm)
	require.NoError(t, err)
	assert.Equal(t, hm.Config().Buckets(), img.Bounds().Dx())
}

func TestRenderEmpty(t *testing.T) {
	hm, err := heatmap.NewAt(2, 8, time.Second, 4, clock.Instant(0))
	require.NoError(t, err)

	// slices exist but hold no counts; the image renders all-cold
	img, err := New().Render(hm)
	require.NoError(t, err)
	cold := Classic()[0]
	assert.Equal(t, cold, img.RGBAAt(0, 0))
}

func TestWritePNG(t *testing.T) {
	hm := populated(t)

	var buf bytes.Buffer
	require.NoError(t, New().Width(32).WritePNG(&buf, hm))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestRenderTerminal(t *testing.T) {
	hm := populated(t)

	var buf strings.Builder
	require.NoError(t, New().Width(8).Palette(Ironbow()).RenderTerminal(&buf, hm))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, hm.ActiveSlices())
	assert.Contains(t, buf.String(), "\033[48;2;", "expected 24-bit background escapes")
}

func TestScales(t *testing.T) {
	b := New()
	assert.Equal(t, 0.0, b.heat(0, 100))
	assert.Equal(t, 1.0, b.heat(100, 100))

	linear := b.Scale(Linear).heat(10, 100)
	logish := b.Scale(Logarithmic).heat(10, 100)
	assert.InDelta(t, 0.1, linear, 1e-9)
	assert.Greater(t, logish, linear, "log scale lifts small counts")
}
