package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFit(t *testing.T) {
	tests := []struct {
		name         string
		w, h, mw, mh int
		wantW, wantH int
	}{
		{"shrink by width", 1440, 600, 720, 437, 720, 300},
		{"shrink by height", 800, 874, 720, 437, 400, 437},
		{"grow to fit", 360, 200, 720, 437, 720, 400},
		{"unbounded", 300, 200, 0, 0, 300, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := Fit(tt.w, tt.h, tt.mw, tt.mh)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestTransform_CropsAndScales(t *testing.T) {
	p := &Processor{
		PipelineID:   "graph",
		ArtifactName: "latest_graph.png",
		CropBottom:   DefaultCropBottom,
		MaxWidth:     DefaultMaxWidth,
		MaxHeight:    DefaultMaxHeight,
	}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a, err := p.Transform(context.Background(), encodePNG(t, 1440, 640), at)
	require.NoError(t, err)
	assert.Equal(t, "image/png", a.ContentType)

	cfg, err := png.DecodeConfig(bytes.NewReader(a.Data))
	require.NoError(t, err)
	// 1440x600 after the crop, then fit to 720 wide.
	assert.Equal(t, 720, cfg.Width)
	assert.Equal(t, 300, cfg.Height)
}

func TestTransform_RejectsGarbage(t *testing.T) {
	p := &Processor{ArtifactName: "g.png"}
	_, err := p.Transform(context.Background(), []byte("<html>error</html>"), time.Now())
	assert.Error(t, err)
}

func TestJPEGRendition(t *testing.T) {
	files, err := JPEGRendition("latest_graph.jpg", 0)(encodePNG(t, 64, 32))
	require.NoError(t, err)
	require.Contains(t, files, "latest_graph.jpg")

	img, err := jpeg.Decode(bytes.NewReader(files["latest_graph.jpg"]))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 32), img.Bounds())
}
