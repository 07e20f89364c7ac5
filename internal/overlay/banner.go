// Package overlay renders the stale markers applied to published artifacts.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultWarning is stamped on stale graphs.
const DefaultWarning = "DONNÉES PÉRIMÉES ET IMPRÉCISES"

var (
	bandColor   = color.RGBA{A: 0xff}
	textColor   = color.RGBA{R: 0xff, A: 0xff}
	strokeColor = color.RGBA{A: 0xff}
)

// Banner stamps a warning on an opaque band near the top of a PNG image.
// The band fully covers its region, so stamping an already stamped image
// produces the same pixels.
type Banner struct {
	Text       string
	WidthRatio float64 // max text width relative to image width
	Padding    int
}

// NewBanner returns a banner with the default geometry.
func NewBanner(text string) Banner {
	if text == "" {
		text = DefaultWarning
	}
	return Banner{Text: text, WidthRatio: 0.9, Padding: 10}
}

// Apply decodes a PNG, stamps it and encodes it again.
func (b Banner) Apply(base []byte) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(base))
	if err != nil {
		return nil, fmt.Errorf("decode base image: %w", err)
	}

	out := b.Render(src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}
	return buf.Bytes(), nil
}

// Render returns an opaque copy of src with the banner drawn on it.
func (b Banner) Render(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)

	mask := textMask(b.Text)
	mw, mh := mask.Bounds().Dx(), mask.Bounds().Dy()
	if mw == 0 || w == 0 || h == 0 {
		return dst
	}

	scale := max(1, int(float64(w)*b.WidthRatio)/mw)
	stroke := max(1, scale/2)
	tw, th := mw*scale, mh*scale
	x := (w - tw) / 2
	y := int(float64(h)*0.02) + b.Padding

	band := image.Rect(x-b.Padding-stroke, y-b.Padding, x+tw+b.Padding+stroke, y+th+b.Padding).
		Intersect(dst.Bounds())
	draw.Draw(dst, band, image.NewUniform(bandColor), image.Point{}, draw.Src)

	for dy := -stroke; dy <= stroke; dy++ {
		for dx := -stroke; dx <= stroke; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			paintMask(dst, band, mask, x+dx, y+dy, scale, strokeColor)
		}
	}
	paintMask(dst, band, mask, x, y, scale, textColor)
	return dst
}

// textMask rasterizes text with the built-in 7x13 face.
func textMask(text string) *image.Alpha {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()
	mask := image.NewAlpha(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  mask,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.P(0, face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
	return mask
}

// paintMask upscales mask by scale with nearest-neighbour sampling and
// paints set pixels at (x, y), clipped to clip.
func paintMask(dst *image.RGBA, clip image.Rectangle, mask *image.Alpha, x, y, scale int, c color.RGBA) {
	mb := mask.Bounds()
	for my := mb.Min.Y; my < mb.Max.Y; my++ {
		for mx := mb.Min.X; mx < mb.Max.X; mx++ {
			if mask.AlphaAt(mx, my).A < 0x80 {
				continue
			}
			cell := image.Rect(x+mx*scale, y+my*scale, x+(mx+1)*scale, y+(my+1)*scale).Intersect(clip)
			for py := cell.Min.Y; py < cell.Max.Y; py++ {
				for px := cell.Min.X; px < cell.Max.X; px++ {
					dst.SetRGBA(px, py, c)
				}
			}
		}
	}
}
