// Package imaging turns the raw graph export into the published images.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"time"

	"golang.org/x/image/draw"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/infra/storage"
)

const (
	DefaultCropBottom  = 40
	DefaultMaxWidth    = 720
	DefaultMaxHeight   = 437
	DefaultJPEGQuality = 75
)

// Processor crops the export footer and scales the graph to fit the page slot.
type Processor struct {
	PipelineID   domain.PipelineID
	ArtifactName string
	CropBottom   int
	MaxWidth     int
	MaxHeight    int
}

// Transform decodes raw, processes it and returns a PNG artifact.
func (p *Processor) Transform(ctx context.Context, raw []byte, at time.Time) (domain.Artifact, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("decode graph: %w", err)
	}

	out := p.Process(src)
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, out); err != nil {
		return domain.Artifact{}, fmt.Errorf("encode graph: %w", err)
	}
	return domain.NewArtifact(p.PipelineID, p.ArtifactName, "image/png", buf.Bytes(), at), nil
}

// Process crops then scales src.
func (p *Processor) Process(src image.Image) image.Image {
	b := src.Bounds()
	if p.CropBottom > 0 && b.Dy() > p.CropBottom {
		b.Max.Y -= p.CropBottom
	}

	w, h := Fit(b.Dx(), b.Dy(), p.MaxWidth, p.MaxHeight)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// Fit returns the largest size with the aspect ratio of w x h that fits
// in maxW x maxH. A zero bound leaves that dimension unconstrained.
func Fit(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	scale := 0.0
	if maxW > 0 {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 {
		if s := float64(maxH) / float64(h); scale == 0 || s < scale {
			scale = s
		}
	}
	if scale == 0 {
		return w, h
	}
	return max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
}

// JPEGRendition returns a deriver writing a JPEG copy of the exposed PNG under name.
func JPEGRendition(name string, quality int) storage.Deriver {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	return func(exposed []byte) (map[string][]byte, error) {
		img, err := png.Decode(bytes.NewReader(exposed))
		if err != nil {
			return nil, fmt.Errorf("decode exposed png: %w", err)
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return map[string][]byte{name: buf.Bytes()}, nil
	}
}
