package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"

	eqerrors "github.com/matzehuels/eqrender/pkg/errors"
)

// Offset returns the left margin that centers an image of natural width w on
// a canvas of width target. It is zero when no padding is needed.
func Offset(w, target int) int {
	if w >= target {
		return 0
	}
	return (target - w) / 2
}

// Pad returns img on a white canvas at least target pixels wide.
//
// If the natural width is below target, the canvas is target × height and
// the image is pasted at (Offset(w, target), 0). Otherwise the result has the
// natural dimensions.
func Pad(img image.Image, target int) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w >= target {
		return imaging.Clone(img)
	}
	canvas := imaging.New(target, h, color.White)
	return imaging.Paste(canvas, img, image.Pt(Offset(w, target), 0))
}

// PadFile pads the PNG at path to target width and overwrites it in place.
// It returns the final dimensions.
func PadFile(path string, target int) (width, height int, err error) {
	img, err := imaging.Open(path)
	if err != nil {
		return 0, 0, eqerrors.Wrap(eqerrors.ErrCodeRasterFailed, err, "open raster %s", path)
	}
	out := Pad(img, target)
	if err := imaging.Save(out, path, imaging.PNGCompressionLevel(png.DefaultCompression)); err != nil {
		return 0, 0, eqerrors.Wrap(eqerrors.ErrCodeRasterFailed, err, "save raster %s", path)
	}
	b := out.Bounds()
	return b.Dx(), b.Dy(), nil
}

// Dimensions returns the size of an encoded image without decoding pixels.
func Dimensions(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
