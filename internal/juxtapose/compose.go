package juxtapose

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/webp"
)

// MaxPreviewSide bounds the larger side of a composite, and of any image we
// are willing to decode.
const MaxPreviewSide = 4096

var (
	ErrUnsupportedImage = errors.New("unsupported image format")
	ErrImageTooLarge    = errors.New("image dimensions too large")
)

var labelBackground = color.NRGBA{A: 128}

type decoder struct {
	decode       func(r *bytes.Reader) (image.Image, error)
	decodeConfig func(r *bytes.Reader) (image.Config, error)
}

var decoders = map[string]decoder{
	"image/png": {
		decode:       func(r *bytes.Reader) (image.Image, error) { return png.Decode(r) },
		decodeConfig: func(r *bytes.Reader) (image.Config, error) { return png.DecodeConfig(r) },
	},
	"image/jpeg": {
		decode:       func(r *bytes.Reader) (image.Image, error) { return jpeg.Decode(r) },
		decodeConfig: func(r *bytes.Reader) (image.Config, error) { return jpeg.DecodeConfig(r) },
	},
	"image/gif": {
		decode:       func(r *bytes.Reader) (image.Image, error) { return gif.Decode(r) },
		decodeConfig: func(r *bytes.Reader) (image.Config, error) { return gif.DecodeConfig(r) },
	},
	"image/webp": {
		decode:       func(r *bytes.Reader) (image.Image, error) { return webp.Decode(r) },
		decodeConfig: func(r *bytes.Reader) (image.Config, error) { return webp.DecodeConfig(r) },
	},
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// Supported reports whether images of contentType can be decoded.
func Supported(contentType string) bool {
	_, ok := decoders[mediaType(contentType)]
	return ok
}

// Decode decodes data as contentType. The header is checked first so an
// oversized image is rejected before its pixels are allocated.
func Decode(data []byte, contentType string) (image.Image, error) {
	dec, ok := decoders[mediaType(contentType)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedImage, contentType)
	}
	cfg, err := dec.decodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if cfg.Width > MaxPreviewSide || cfg.Height > MaxPreviewSide {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	img, err := dec.decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// PreviewSize is the composite size for a pair of images: the smaller width
// and the smaller height, scaled down so the larger side fits MaxPreviewSide.
func PreviewSize(leftW, leftH, rightW, rightH int) (int, int) {
	w, h := min(leftW, rightW), min(leftH, rightH)
	if longest := max(w, h); longest > MaxPreviewSide {
		scale := float32(MaxPreviewSide) / float32(longest)
		w = int(float32(w) * scale)
		h = int(float32(h) * scale)
	}
	return w, h
}

// Layout controls how two images are joined.
type Layout struct {
	Vertical   bool
	LeftLabel  string
	RightLabel string
}

type labelPosition int

const (
	topLeft labelPosition = iota
	bottomLeft
	bottomRight
)

// Compose renders the comparison preview. Both images are scaled to
// width x height; the right (bottom) image is the base and the left (top)
// half of the left image is laid over it, split by a white divider.
func Compose(left, right image.Image, width, height int, layout Layout) *image.RGBA {
	bounds := image.Rect(0, 0, width, height)
	canvas := image.NewRGBA(bounds)
	xdraw.ApproxBiLinear.Scale(canvas, bounds, right, right.Bounds(), xdraw.Src, nil)

	front := image.NewRGBA(bounds)
	xdraw.ApproxBiLinear.Scale(front, bounds, left, left.Bounds(), xdraw.Src, nil)

	minSide := min(width, height)
	if layout.LeftLabel != "" {
		pos := bottomLeft
		if layout.Vertical {
			pos = topLeft
		}
		drawLabel(front, pos, layout.LeftLabel, minSide)
	}
	if layout.RightLabel != "" {
		pos := bottomRight
		if layout.Vertical {
			pos = bottomLeft
		}
		drawLabel(canvas, pos, layout.RightLabel, minSide)
	}

	var half, divider image.Rectangle
	if layout.Vertical {
		half = image.Rect(0, 0, width, height/2)
		center, extent := height/2, max(height/1000, 1)
		divider = image.Rect(0, center-extent, width, center+extent)
	} else {
		half = image.Rect(0, 0, width/2, height)
		center, extent := width/2, max(width/1000, 1)
		divider = image.Rect(center-extent, 0, center+extent, height)
	}
	draw.Draw(canvas, half, front, image.Point{}, draw.Src)
	draw.Draw(canvas, divider.Intersect(bounds), image.White, image.Point{}, draw.Src)
	return canvas
}

// drawLabel writes text in white on a translucent black box in a corner of
// dst. The glyph height is a 24th of the image's smaller side.
func drawLabel(dst draw.Image, pos labelPosition, text string, minSide int) {
	face := basicfont.Face7x13
	metrics := face.Metrics()

	d := &font.Drawer{Face: face, Src: image.Opaque}
	nativeW := d.MeasureString(text).Ceil()
	nativeH := metrics.Height.Ceil()
	if nativeW == 0 {
		return
	}
	glyphs := image.NewAlpha(image.Rect(0, 0, nativeW, nativeH))
	d.Dst = glyphs
	d.Dot = fixed.P(0, metrics.Ascent.Ceil())
	d.DrawString(text)

	textH := max(minSide/24, 1)
	textW := max(nativeW*textH/nativeH, 1)
	margin := minSide / 64

	b := dst.Bounds()
	boxW, boxH := textW+2*margin, textH+2*margin
	var origin image.Point
	switch pos {
	case topLeft:
		origin = b.Min
	case bottomLeft:
		origin = image.Pt(b.Min.X, b.Max.Y-boxH)
	case bottomRight:
		origin = image.Pt(b.Max.X-boxW, b.Max.Y-boxH)
	}
	box := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(boxW, boxH))}
	draw.Draw(dst, box, image.NewUniform(labelBackground), image.Point{}, draw.Over)

	mask := image.NewAlpha(image.Rect(0, 0, textW, textH))
	xdraw.ApproxBiLinear.Scale(mask, mask.Bounds(), glyphs, glyphs.Bounds(), xdraw.Src, nil)
	textRect := image.Rectangle{Min: origin.Add(image.Pt(margin, margin))}
	textRect.Max = textRect.Min.Add(image.Pt(textW, textH))
	draw.DrawMask(dst, textRect, image.White, image.Point{}, mask, image.Point{}, draw.Over)
}

// EncodePNG encodes img for upload.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
