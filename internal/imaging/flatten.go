package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// Flatten returns a three-channel image suitable for JPEG encoding.
//
// Palette images are expanded to NRGBA and composited onto opaque white.
// Images with an alpha-capable color model are composited onto white the same
// way. YCbCr images are returned as-is. Everything else (gray, CMYK, ...) is
// converted to RGB without compositing.
func Flatten(img image.Image) image.Image {
	switch src := img.(type) {
	case *image.YCbCr:
		return src
	case *image.Paletted:
		b := src.Bounds()
		expanded := image.NewNRGBA(b)
		draw.Draw(expanded, b, src, b.Min, draw.Src)
		return onWhite(expanded)
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64,
		*image.NYCbCrA, *image.Alpha, *image.Alpha16:
		return onWhite(img)
	default:
		b := img.Bounds()
		rgb := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgb, rgb.Bounds(), img, b.Min, draw.Src)
		return rgb
	}
}

// onWhite composites img over an opaque white canvas of the same size,
// using the image's own alpha as the blend mask.
func onWhite(img image.Image) *image.RGBA {
	b := img.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Over)
	return canvas
}

// modelName returns a short label for the color model of img.
func modelName(img image.Image) string {
	switch img.(type) {
	case *image.Paletted:
		return "paletted"
	case *image.RGBA:
		return "rgba"
	case *image.NRGBA:
		return "nrgba"
	case *image.RGBA64:
		return "rgba64"
	case *image.NRGBA64:
		return "nrgba64"
	case *image.Gray:
		return "gray"
	case *image.Gray16:
		return "gray16"
	case *image.YCbCr:
		return "ycbcr"
	case *image.NYCbCrA:
		return "nycbcra"
	case *image.CMYK:
		return "cmyk"
	case *image.Alpha, *image.Alpha16:
		return "alpha"
	default:
		return "other"
	}
}
