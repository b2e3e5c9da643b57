package imaging

import (
	govips "github.com/davidbyttow/govips/v2/vips"
)

// ExportJPEG encodes the handle as JPEG.
func (m *Image) ExportJPEG(quality int, strip bool) ([]byte, error) {
	p := govips.NewJpegExportParams()
	p.Quality = quality
	p.StripMetadata = strip
	p.OptimizeCoding = true
	buf, _, err := m.ref.ExportJpeg(p)
	return buf, opErr("imaging.encode.jpeg", err)
}

// ExportPNG encodes the handle as PNG.
func (m *Image) ExportPNG(strip bool) ([]byte, error) {
	p := govips.NewPngExportParams()
	p.StripMetadata = strip
	buf, _, err := m.ref.ExportPng(p)
	return buf, opErr("imaging.encode.png", err)
}

// ExportWebP encodes the handle as WebP. A handle carrying multi-frame
// page metadata encodes as an animation; page-height must already hold the
// current per-frame height.
func (m *Image) ExportWebP(quality int, strip bool) ([]byte, error) {
	p := govips.NewWebpExportParams()
	p.Quality = quality
	p.StripMetadata = strip
	buf, _, err := m.ref.ExportWebp(p)
	return buf, opErr("imaging.encode.webp", err)
}

// ExportAVIF encodes the handle as AVIF (single frame only).
func (m *Image) ExportAVIF(quality int, strip bool) ([]byte, error) {
	p := govips.NewAvifExportParams()
	p.Quality = quality
	p.StripMetadata = strip
	buf, _, err := m.ref.ExportAvif(p)
	return buf, opErr("imaging.encode.avif", err)
}

// ExportGIF encodes the handle as GIF, animated when the page metadata says
// so. Callers validate the page-height invariant before dispatching here.
func (m *Image) ExportGIF(quality int) ([]byte, error) {
	p := govips.NewGifExportParams()
	p.Quality = quality
	buf, _, err := m.ref.ExportGIF(p)
	return buf, opErr("imaging.encode.gif", err)
}
