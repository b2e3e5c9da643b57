// Package options parses, validates, and canonicalises the transform
// descriptors carried in the last URL path segment. An Options value is
// immutable after Parse; its canonical serialisation doubles as the cache key
// component for the variant it describes.
package options

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/zimgx/zimgx/errors"
)

// Format identifies an output image codec.
type Format string

const (
	FormatAuto Format = "auto"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
	FormatGIF  Format = "gif"
)

// ContentType returns the MIME type for f, or an empty string for auto.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	case FormatGIF:
		return "image/gif"
	}
	return ""
}

// SupportsAnimation reports whether f can carry a multi-frame image.
func (f Format) SupportsAnimation() bool {
	return f == FormatWebP || f == FormatGIF
}

// Fit selects how the image is fitted into the requested box.
type Fit string

const (
	FitContain Fit = "contain"
	FitCover   Fit = "cover"
	FitFill    Fit = "fill"
	FitInside  Fit = "inside"
	FitOutside Fit = "outside"
	FitPad     Fit = "pad"
)

// Gravity selects the crop anchor for cover fits.
type Gravity string

const (
	GravityCenter    Gravity = "center"
	GravityNorth     Gravity = "n"
	GravitySouth     Gravity = "s"
	GravityEast      Gravity = "e"
	GravityWest      Gravity = "w"
	GravityNorthEast Gravity = "ne"
	GravityNorthWest Gravity = "nw"
	GravitySouthEast Gravity = "se"
	GravitySouthWest Gravity = "sw"
	GravitySmart     Gravity = "smart"
	GravityAttention Gravity = "attention"
)

// Flip selects mirror axes.
type Flip string

const (
	FlipNone Flip = ""
	FlipH    Flip = "h"
	FlipV    Flip = "v"
	FlipHV   Flip = "hv"
)

// MetadataPolicy controls what happens to EXIF/XMP/ICC blocks on encode.
type MetadataPolicy string

const (
	MetadataStrip     MetadataPolicy = "strip"
	MetadataKeep      MetadataPolicy = "keep"
	MetadataCopyright MetadataPolicy = "copyright"
)

// AnimMode controls animation handling.
type AnimMode string

const (
	AnimAuto    AnimMode = "auto"
	AnimStatic  AnimMode = "static"
	AnimAnimate AnimMode = "animate"
)

// RGB is a background colour triplet.
type RGB struct {
	R, G, B uint8
}

// Options is the parsed transform descriptor.
//
// Zero is a usable "unset" value for most fields; the Has* flags exist for
// the fields whose zero value lies inside the valid range (brightness,
// contrast, and saturation accept 0, and frame 0 selects the first frame).
type Options struct {
	Width  int
	Height int

	Quality int
	Format  Format
	Fit     Fit
	Gravity Gravity

	Sharpen float64
	Blur    float64
	DPR     float64
	Rotate  int
	Flip    Flip

	Brightness    float64
	HasBrightness bool
	Contrast      float64
	HasContrast   bool
	Saturation    float64
	HasSaturation bool
	Gamma         float64

	Background    RGB
	HasBackground bool

	Metadata MetadataPolicy
	Trim     int

	Anim     AnimMode
	Frame    int
	HasFrame bool
}

// Default returns an Options with every field at its documented default.
func Default() Options {
	return Options{
		Quality:  80,
		Format:   FormatAuto,
		Fit:      FitContain,
		Gravity:  GravityCenter,
		DPR:      1,
		Metadata: MetadataStrip,
		Anim:     AnimAuto,
	}
}

// Parse splits s on "," and each pair on the first "=". Unknown keys fail
// with ErrInvalidParameter; an empty value fails with ErrEmptyValue. Range
// checks are deferred to Validate so that out-of-range values are reported
// as validation failures, not parse failures.
func Parse(s string) (*Options, error) {
	o := Default()
	if s == "" {
		return &o, nil
	}
	for _, pair := range strings.Split(s, ",") {
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			return nil, parseErr(fmt.Errorf("%w: %q", apperrors.ErrInvalidParameter, pair))
		}
		key := strings.TrimSpace(pair[:eq])
		val := strings.TrimSpace(pair[eq+1:])
		if val == "" {
			return nil, parseErr(fmt.Errorf("%w: %q", apperrors.ErrEmptyValue, key))
		}
		if err := o.set(key, val); err != nil {
			return nil, parseErr(err)
		}
	}
	return &o, nil
}

func parseErr(err error) error {
	return apperrors.New(apperrors.CategoryParse, "options.parse", err)
}

func (o *Options) set(key, val string) error {
	switch key {
	case "w", "width":
		return setInt(&o.Width, "width", val)
	case "h", "height":
		return setInt(&o.Height, "height", val)
	case "q", "quality":
		return setInt(&o.Quality, "quality", val)
	case "f", "fmt", "format":
		return o.setFormat(val)
	case "fit":
		return o.setFit(val)
	case "g", "gravity":
		return o.setGravity(val)
	case "sharpen":
		return setFloat(&o.Sharpen, "sharpen", val)
	case "blur":
		return setFloat(&o.Blur, "blur", val)
	case "dpr":
		return setFloat(&o.DPR, "dpr", val)
	case "rotate":
		return setInt(&o.Rotate, "rotate", val)
	case "flip":
		return o.setFlip(val)
	case "brightness":
		o.HasBrightness = true
		return setFloat(&o.Brightness, "brightness", val)
	case "contrast":
		o.HasContrast = true
		return setFloat(&o.Contrast, "contrast", val)
	case "saturation":
		o.HasSaturation = true
		return setFloat(&o.Saturation, "saturation", val)
	case "gamma":
		return setFloat(&o.Gamma, "gamma", val)
	case "bg", "background":
		return o.setBackground(val)
	case "metadata":
		return o.setMetadata(val)
	case "trim":
		return setInt(&o.Trim, "trim", val)
	case "anim":
		return o.setAnim(val)
	case "frame":
		o.HasFrame = true
		return setInt(&o.Frame, "frame", val)
	}
	return fmt.Errorf("%w: %q", apperrors.ErrInvalidParameter, key)
}

func setInt(dst *int, field, val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", field, val)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, field, val string) error {
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", field, val)
	}
	*dst = f
	return nil
}

func (o *Options) setFormat(val string) error {
	switch val {
	case "jpeg", "jpg":
		o.Format = FormatJPEG
	case "png":
		o.Format = FormatPNG
	case "webp":
		o.Format = FormatWebP
	case "avif":
		o.Format = FormatAVIF
	case "gif":
		o.Format = FormatGIF
	case "auto":
		o.Format = FormatAuto
	default:
		return fmt.Errorf("invalid format: %q", val)
	}
	return nil
}

func (o *Options) setFit(val string) error {
	switch Fit(val) {
	case FitContain, FitCover, FitFill, FitInside, FitOutside, FitPad:
		o.Fit = Fit(val)
	default:
		return fmt.Errorf("invalid fit: %q", val)
	}
	return nil
}

func (o *Options) setGravity(val string) error {
	switch val {
	case "center", "centre":
		o.Gravity = GravityCenter
	case "n", "s", "e", "w", "ne", "nw", "se", "sw":
		o.Gravity = Gravity(val)
	case "smart":
		o.Gravity = GravitySmart
	case "att", "attention":
		o.Gravity = GravityAttention
	default:
		return fmt.Errorf("invalid gravity: %q", val)
	}
	return nil
}

func (o *Options) setFlip(val string) error {
	switch val {
	case "h":
		o.Flip = FlipH
	case "v":
		o.Flip = FlipV
	case "hv", "vh":
		o.Flip = FlipHV
	default:
		return fmt.Errorf("invalid flip: %q", val)
	}
	return nil
}

func (o *Options) setBackground(val string) error {
	if len(val) != 6 {
		return fmt.Errorf("invalid background: %q", val)
	}
	n, err := strconv.ParseUint(val, 16, 32)
	if err != nil {
		return fmt.Errorf("invalid background: %q", val)
	}
	o.Background = RGB{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n)}
	o.HasBackground = true
	return nil
}

func (o *Options) setMetadata(val string) error {
	switch val {
	case "strip", "none":
		o.Metadata = MetadataStrip
	case "keep", "all":
		o.Metadata = MetadataKeep
	case "copyright":
		o.Metadata = MetadataCopyright
	default:
		return fmt.Errorf("invalid metadata: %q", val)
	}
	return nil
}

func (o *Options) setAnim(val string) error {
	switch val {
	case "auto", "true":
		o.Anim = AnimAuto
	case "static", "false":
		o.Anim = AnimStatic
	case "animate":
		o.Anim = AnimAnimate
	default:
		return fmt.Errorf("invalid anim: %q", val)
	}
	return nil
}

// MaxDimension is the hard ceiling on any requested or DPR-scaled axis.
const MaxDimension = 8192

// Validate enforces the per-field ranges. A nil return guarantees the
// options are safe to hand to the pipeline.
func (o *Options) Validate() error {
	check := func(ok bool, field string, v any) error {
		if ok {
			return nil
		}
		return apperrors.New(apperrors.CategoryValidate, "options.validate",
			fmt.Errorf("%w: %s=%v", apperrors.ErrOutOfRange, field, v))
	}

	if err := check(o.Width == 0 || (o.Width >= 1 && o.Width <= MaxDimension), "width", o.Width); err != nil {
		return err
	}
	if err := check(o.Height == 0 || (o.Height >= 1 && o.Height <= MaxDimension), "height", o.Height); err != nil {
		return err
	}
	if err := check(o.Quality >= 1 && o.Quality <= 100, "quality", o.Quality); err != nil {
		return err
	}
	if err := check(o.Sharpen >= 0 && o.Sharpen <= 10, "sharpen", o.Sharpen); err != nil {
		return err
	}
	if err := check(o.Blur == 0 || (o.Blur >= 0.1 && o.Blur <= 250), "blur", o.Blur); err != nil {
		return err
	}
	if err := check(o.DPR >= 1 && o.DPR <= 5, "dpr", o.DPR); err != nil {
		return err
	}
	if err := check(o.Rotate == 0 || o.Rotate == 90 || o.Rotate == 180 || o.Rotate == 270, "rotate", o.Rotate); err != nil {
		return err
	}
	if o.HasBrightness {
		if err := check(o.Brightness >= 0 && o.Brightness <= 2, "brightness", o.Brightness); err != nil {
			return err
		}
	}
	if o.HasContrast {
		if err := check(o.Contrast >= 0 && o.Contrast <= 2, "contrast", o.Contrast); err != nil {
			return err
		}
	}
	if o.HasSaturation {
		if err := check(o.Saturation >= 0 && o.Saturation <= 2, "saturation", o.Saturation); err != nil {
			return err
		}
	}
	if err := check(o.Gamma == 0 || (o.Gamma >= 0.1 && o.Gamma <= 10), "gamma", o.Gamma); err != nil {
		return err
	}
	if err := check(o.Trim == 0 || (o.Trim >= 1 && o.Trim <= 100), "trim", o.Trim); err != nil {
		return err
	}
	if o.HasFrame {
		if err := check(o.Frame >= 0 && o.Frame <= 999, "frame", o.Frame); err != nil {
			return err
		}
	}
	return nil
}

// CacheKey emits the canonical serialisation: fields in a fixed order,
// defaults omitted, floats to two decimals (one for DPR), RGB as six
// upper-case hex digits. Two parse results are interchangeable as cache
// keys iff this serialisation is byte-identical.
func (o *Options) CacheKey() string {
	var b strings.Builder
	sep := func() {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
	}

	if o.Width != 0 {
		sep()
		fmt.Fprintf(&b, "w=%d", o.Width)
	}
	if o.Height != 0 {
		sep()
		fmt.Fprintf(&b, "h=%d", o.Height)
	}
	if o.Quality != 80 {
		sep()
		fmt.Fprintf(&b, "q=%d", o.Quality)
	}
	if o.Format != FormatAuto {
		sep()
		fmt.Fprintf(&b, "f=%s", o.Format)
	}
	if o.Fit != FitContain {
		sep()
		fmt.Fprintf(&b, "fit=%s", o.Fit)
	}
	if o.Gravity != GravityCenter {
		sep()
		fmt.Fprintf(&b, "g=%s", o.Gravity)
	}
	if o.Sharpen != 0 {
		sep()
		fmt.Fprintf(&b, "sharpen=%.2f", o.Sharpen)
	}
	if o.Blur != 0 {
		sep()
		fmt.Fprintf(&b, "blur=%.2f", o.Blur)
	}
	if o.DPR != 1 {
		sep()
		fmt.Fprintf(&b, "dpr=%.1f", o.DPR)
	}
	if o.Rotate != 0 {
		sep()
		fmt.Fprintf(&b, "rotate=%d", o.Rotate)
	}
	if o.Flip != FlipNone {
		sep()
		fmt.Fprintf(&b, "flip=%s", o.Flip)
	}
	if o.HasBrightness {
		sep()
		fmt.Fprintf(&b, "brightness=%.2f", o.Brightness)
	}
	if o.HasContrast {
		sep()
		fmt.Fprintf(&b, "contrast=%.2f", o.Contrast)
	}
	if o.HasSaturation {
		sep()
		fmt.Fprintf(&b, "saturation=%.2f", o.Saturation)
	}
	if o.Gamma != 0 {
		sep()
		fmt.Fprintf(&b, "gamma=%.2f", o.Gamma)
	}
	if o.HasBackground {
		sep()
		fmt.Fprintf(&b, "bg=%02X%02X%02X", o.Background.R, o.Background.G, o.Background.B)
	}
	if o.Metadata != MetadataStrip {
		sep()
		fmt.Fprintf(&b, "metadata=%s", o.Metadata)
	}
	if o.Trim != 0 {
		sep()
		fmt.Fprintf(&b, "trim=%d", o.Trim)
	}
	if o.Anim != AnimAuto {
		sep()
		fmt.Fprintf(&b, "anim=%s", o.Anim)
	}
	if o.HasFrame {
		sep()
		fmt.Fprintf(&b, "frame=%d", o.Frame)
	}
	return b.String()
}
