// Package imaging wraps libvips (via govips) behind the narrow primitive set
// the transform pipeline consumes. Every decode returns an owning *Image;
// operations mutate the handle in place and the single owner must Close it
// on all exit paths.
package imaging

import (
	"fmt"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	apperrors "github.com/zimgx/zimgx/errors"
)

// Config configures the libvips backend.
type Config struct {
	ConcurrencyLevel int
	MaxCacheSize     int
	ReportLeaks      bool
}

// Startup initialises libvips. Call Shutdown when the process exits.
func Startup(cfg Config) {
	if cfg.ConcurrencyLevel <= 0 {
		cfg.ConcurrencyLevel = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.ConcurrencyLevel,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
}

// Shutdown releases all libvips resources. Call once at process exit.
func Shutdown() {
	govips.Shutdown()
}

// CropMode selects the region-of-interest strategy for crop-during-resize.
type CropMode int

const (
	CropNone CropMode = iota
	CropCentre
	CropEntropy
	CropAttention
)

// SizeMode constrains how the thumbnail operation may scale.
type SizeMode int

const (
	SizeBoth SizeMode = iota
	SizeDown
	SizeUp
	SizeForce
)

func (c CropMode) interesting() govips.Interesting {
	switch c {
	case CropCentre:
		return govips.InterestingCentre
	case CropEntropy:
		return govips.InterestingEntropy
	case CropAttention:
		return govips.InterestingAttention
	}
	return govips.InterestingNone
}

func (s SizeMode) vips() govips.Size {
	switch s {
	case SizeDown:
		return govips.SizeDown
	case SizeUp:
		return govips.SizeUp
	case SizeForce:
		return govips.SizeForce
	}
	return govips.SizeBoth
}

// RGB is a colour triplet handed to flatten/embed operations.
type RGB struct {
	R, G, B uint8
}

func (c RGB) vips() *govips.Color {
	return &govips.Color{R: c.R, G: c.G, B: c.B}
}

// Image is an owned handle on a decoded libvips image. Not safe for
// concurrent use; a handle lives inside a single pipeline call.
type Image struct {
	ref *govips.ImageRef
}

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.New(apperrors.CategoryPipeline, op,
		fmt.Errorf("%w: %v", apperrors.ErrOperationFailed, err))
}

// DecodeProbe decodes only the first frame. The n-pages metadata still
// reports the full frame count, which makes this the cheap animation probe.
func DecodeProbe(buf []byte) (*Image, error) {
	if len(buf) == 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "imaging.decode", apperrors.ErrEmptyInput)
	}
	ref, err := govips.NewImageFromBuffer(buf)
	if err != nil {
		return nil, opErr("imaging.decode", err)
	}
	return &Image{ref: ref}, nil
}

// DecodeAll decodes every frame, vertically stacked.
func DecodeAll(buf []byte) (*Image, error) {
	return decodePages(buf, -1)
}

// DecodeN decodes the first n frames, vertically stacked.
func DecodeN(buf []byte, n int) (*Image, error) {
	return decodePages(buf, n)
}

func decodePages(buf []byte, n int) (*Image, error) {
	if len(buf) == 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "imaging.decode", apperrors.ErrEmptyInput)
	}
	params := govips.NewImportParams()
	params.NumPages.Set(n)
	ref, err := govips.LoadImageFromBuffer(buf, params)
	if err != nil {
		return nil, opErr("imaging.decode", err)
	}
	return &Image{ref: ref}, nil
}

// Close releases the handle. Safe to call once per handle.
func (m *Image) Close() {
	if m != nil && m.ref != nil {
		m.ref.Close()
		m.ref = nil
	}
}

// ── metadata ──────────────────────────────────────────────────────────────────

func (m *Image) Width() int     { return m.ref.Width() }
func (m *Image) Height() int    { return m.ref.Height() }
func (m *Image) Bands() int     { return m.ref.Bands() }
func (m *Image) HasAlpha() bool { return m.ref.HasAlpha() }

// Pages returns the frame count reported by the loader; 1 for still images.
func (m *Image) Pages() int {
	if n := m.ref.Pages(); n > 1 {
		return n
	}
	return 1
}

// PageHeight returns the per-frame height; equals Height for still images.
func (m *Image) PageHeight() int {
	if h := m.ref.PageHeight(); h > 0 {
		return h
	}
	return m.ref.Height()
}

// SetPageHeight overwrites the page-height metadata. Must be called after
// any resize of a stacked animation or the encoder reads past the buffer.
func (m *Image) SetPageHeight(h int) error {
	return opErr("imaging.set_page_height", m.ref.SetPageHeight(h))
}

// MarkStatic collapses the frame metadata so encoders treat the handle as a
// single-frame image.
func (m *Image) MarkStatic() error {
	if err := m.ref.SetPages(1); err != nil {
		return opErr("imaging.mark_static", err)
	}
	return opErr("imaging.mark_static", m.ref.SetPageHeight(m.ref.Height()))
}

// PageDelay returns the per-frame delay metadata, or nil when absent.
func (m *Image) PageDelay() []int {
	delay, err := m.ref.PageDelay()
	if err != nil {
		return nil
	}
	return delay
}

// SetPageDelay restores per-frame delay metadata lost across operations.
func (m *Image) SetPageDelay(delay []int) {
	if len(delay) > 0 {
		_ = m.ref.SetPageDelay(delay)
	}
}

// ── geometry ──────────────────────────────────────────────────────────────────

// Thumbnail resizes in one call, optionally cropping to the exact box. Only
// aspect-preserving modes keep a stacked animation's frame boundaries intact;
// animated callers use ResizeXY plus SetPageHeight instead.
func (m *Image) Thumbnail(width, height int, crop CropMode, size SizeMode) error {
	return opErr("imaging.thumbnail", m.ref.ThumbnailWithSize(width, height, crop.interesting(), size.vips()))
}

// Resize scales both axes uniformly.
func (m *Image) Resize(scale float64) error {
	return opErr("imaging.resize", m.ref.Resize(scale, govips.KernelLanczos3))
}

// ResizeXY scales the axes independently (fill fit).
func (m *Image) ResizeXY(hscale, vscale float64) error {
	return opErr("imaging.resize", m.ref.ResizeWithVScale(hscale, vscale, govips.KernelLanczos3))
}

// Crop cuts the handle down to the given rectangle in place.
func (m *Image) Crop(left, top, width, height int) error {
	return opErr("imaging.crop", m.ref.ExtractArea(left, top, width, height))
}

// ExtractRegion returns a new handle holding a copy of the rectangle,
// leaving the receiver untouched. Used for per-frame crops.
func (m *Image) ExtractRegion(left, top, width, height int) (*Image, error) {
	cp, err := m.ref.Copy()
	if err != nil {
		return nil, opErr("imaging.extract", err)
	}
	if err := cp.ExtractArea(left, top, width, height); err != nil {
		cp.Close()
		return nil, opErr("imaging.extract", err)
	}
	return &Image{ref: cp}, nil
}

// JoinVertical stacks frames into a single tall handle. All frames must
// share width and height. The inputs remain owned by the caller.
func (m *Image) JoinVertical(frames []*Image) (*Image, error) {
	if len(frames) == 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "imaging.join", apperrors.ErrEmptyInput)
	}
	base, err := frames[0].ref.Copy()
	if err != nil {
		return nil, opErr("imaging.join", err)
	}
	frameH := frames[0].ref.Height()
	for i, f := range frames[1:] {
		if err := base.Insert(f.ref, 0, (i+1)*frameH, true, nil); err != nil {
			base.Close()
			return nil, opErr("imaging.join", err)
		}
	}
	return &Image{ref: base}, nil
}

// Rotate applies a 90-degree multiple. 0 is a no-op.
func (m *Image) Rotate(degrees int) error {
	var angle govips.Angle
	switch degrees {
	case 0:
		return nil
	case 90:
		angle = govips.Angle90
	case 180:
		angle = govips.Angle180
	case 270:
		angle = govips.Angle270
	default:
		return apperrors.New(apperrors.CategoryPipeline, "imaging.rotate",
			fmt.Errorf("unsupported rotation: %d", degrees))
	}
	return opErr("imaging.rotate", m.ref.Rotate(angle))
}

// FlipHorizontal mirrors across the vertical axis.
func (m *Image) FlipHorizontal() error {
	return opErr("imaging.flip", m.ref.Flip(govips.DirectionHorizontal))
}

// FlipVertical mirrors across the horizontal axis.
func (m *Image) FlipVertical() error {
	return opErr("imaging.flip", m.ref.Flip(govips.DirectionVertical))
}

// FindTrim locates the bounding box of the non-background region.
func (m *Image) FindTrim(threshold float64) (left, top, width, height int, err error) {
	left, top, width, height, err = m.ref.FindTrim(threshold, nil)
	if err != nil {
		return 0, 0, 0, 0, opErr("imaging.find_trim", err)
	}
	return left, top, width, height, nil
}

// ── effects ───────────────────────────────────────────────────────────────────

// Sharpen applies an unsharp mask with the given sigma.
func (m *Image) Sharpen(sigma float64) error {
	return opErr("imaging.sharpen", m.ref.Sharpen(sigma, 1.0, 2.0))
}

// Blur applies a gaussian blur.
func (m *Image) Blur(sigma float64) error {
	return opErr("imaging.blur", m.ref.GaussianBlur(sigma))
}

// Linear applies out = in*a + b across all bands (contrast/brightness).
func (m *Image) Linear(a, b float64) error {
	return opErr("imaging.linear", m.ref.Linear1(a, b))
}

// Gamma applies a gamma correction.
func (m *Image) Gamma(gamma float64) error {
	return opErr("imaging.gamma", m.ref.Gamma(gamma))
}

// Saturate scales chroma in LCh space, leaving lightness and hue alone.
func (m *Image) Saturate(s float64) error {
	return opErr("imaging.saturate", m.ref.Modulate(1, s, 0))
}

// Flatten composites the alpha channel onto the given background.
func (m *Image) Flatten(bg RGB) error {
	return opErr("imaging.flatten", m.ref.Flatten(bg.vips()))
}

// EmbedBackground places the image at (left, top) on a canvas of the given
// size, padding with the background colour.
func (m *Image) EmbedBackground(left, top, width, height int, bg RGB) error {
	return opErr("imaging.embed", m.ref.EmbedBackground(left, top, width, height, bg.vips()))
}
