// Package geometry converts normalized template rectangles into pixel
// rectangles for a concrete page image and produces non-aliasing crops.
package geometry

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/dgarciaq/forms-auditor/internal/common"
	"github.com/dgarciaq/forms-auditor/internal/entity"
)

// Resolve converts a normalized rectangle to absolute pixel coordinates by
// truncation. The result always lies within [0,pageWidth)x[0,pageHeight).
// Returns ErrInvalidRegion when the rectangle resolves to zero or negative
// width or height.
func Resolve(rect entity.Rect, pageWidth, pageHeight int) (image.Rectangle, error) {
	if pageWidth <= 0 || pageHeight <= 0 {
		return image.Rectangle{}, common.NewAppError("GEOMETRY", "page dimensions must be positive", common.ErrInvalidRegion)
	}

	x0 := int(math.Floor(rect.MinX * float64(pageWidth)))
	x1 := int(math.Floor(rect.MaxX * float64(pageWidth)))
	y0 := int(math.Floor(rect.MinY * float64(pageHeight)))
	y1 := int(math.Floor(rect.MaxY * float64(pageHeight)))

	// Clamp the far edge so MaxX==1.0 stays inside the page.
	if x1 > pageWidth {
		x1 = pageWidth
	}
	if y1 > pageHeight {
		y1 = pageHeight
	}
	if x0 < 0 || y0 < 0 || x1 <= x0 || y1 <= y0 {
		return image.Rectangle{}, common.NewAppError("GEOMETRY", "region resolves to an empty rectangle", common.ErrInvalidRegion)
	}
	return image.Rect(x0, y0, x1, y1), nil
}

// Crop copies the pixel rectangle out of src into a fresh image. The source
// is never mutated and the crop shares no backing storage with it.
func Crop(src image.Image, pixelRect image.Rectangle) (*image.RGBA, error) {
	if !pixelRect.In(src.Bounds()) {
		return nil, common.NewAppError("GEOMETRY", "crop rectangle outside image bounds", common.ErrInvalidRegion)
	}
	dst := image.NewRGBA(image.Rect(0, 0, pixelRect.Dx(), pixelRect.Dy()))
	draw.Copy(dst, image.Point{}, src, pixelRect, draw.Src, nil)
	return dst, nil
}

// ResolveAndCrop is the common path: resolve against the source bounds, then crop.
func ResolveAndCrop(src image.Image, rect entity.Rect) (*image.RGBA, error) {
	b := src.Bounds()
	px, err := Resolve(rect, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	return Crop(src, px.Add(b.Min))
}
