// Package geometry converts between on-screen pixel coordinates of a rendered
// PDF page and the PDF's own point coordinate system. PDF point space puts the
// origin at the bottom-left with Y growing upward, while the DOM puts it at
// the top-left with Y growing downward, so every conversion flips the
// vertical axis in addition to correcting for render scale.
package geometry

// Reference page dimensions in PDF points (A4 at 72 dpi).
const (
	PageWidthPt  = 595.0
	PageHeightPt = 842.0
)

// ToPDFPoint maps a click position on a rendered page element to PDF point
// coordinates on the standard reference page. Outputs are clamped to the page
// bounds so a click on the very edge of the element never produces an
// off-page placement.
func ToPDFPoint(domX, domY, renderedW, renderedH float64) (x, y float64) {
	return ToPDFPointOn(domX, domY, renderedW, renderedH, PageWidthPt, PageHeightPt)
}

// ToPDFPointOn is ToPDFPoint for a non-standard page size.
func ToPDFPointOn(domX, domY, renderedW, renderedH, pageWPt, pageHPt float64) (x, y float64) {
	sx := pageWPt / renderedW
	sy := pageHPt / renderedH
	x = clamp(domX*sx, 0, pageWPt)
	y = clamp(pageHPt-domY*sy, 0, pageHPt)
	return x, y
}

// ToDOMPixel is the inverse of ToPDFPoint: it maps a stored PDF point position
// back to the pixel position on a page rendered at the given dimensions. The
// render dimensions change on every zoom or resize, so callers must recompute
// on each layout change; the stored point position itself never changes.
func ToDOMPixel(pdfX, pdfY, renderedW, renderedH float64) (x, y float64) {
	return ToDOMPixelOn(pdfX, pdfY, renderedW, renderedH, PageWidthPt, PageHeightPt)
}

// ToDOMPixelOn is ToDOMPixel for a non-standard page size.
func ToDOMPixelOn(pdfX, pdfY, renderedW, renderedH, pageWPt, pageHPt float64) (x, y float64) {
	x = pdfX * (renderedW / pageWPt)
	y = (pageHPt - pdfY) * (renderedH / pageHPt)
	return x, y
}

// InBounds reports whether a point position lies on the reference page.
func InBounds(x, y float64) bool {
	return x >= 0 && x <= PageWidthPt && y >= 0 && y <= PageHeightPt
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
