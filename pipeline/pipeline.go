// Package pipeline runs the fixed transform sequence: probe, budget, decide,
// reload, extract, trim, rotate/flip, resize, effects, background, encode.
// Animated sources are carried as vertically stacked frames; every stage
// that can disturb the stack restores the page-height invariant
// (height = pages × pageHeight) before an animated encoder runs.
package pipeline

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	apperrors "github.com/zimgx/zimgx/errors"
	"github.com/zimgx/zimgx/imaging"
	"github.com/zimgx/zimgx/options"
	"github.com/zimgx/zimgx/utils"
)

// Config parameterises a pipeline run.
type Config struct {
	Anim AnimConfig
	// MaxPixels rejects decode bombs before any transform work. 0 disables.
	MaxPixels int64
	Log       zerolog.Logger
}

// Result is the encoded output of a successful run.
type Result struct {
	Data        []byte
	ContentType string
	Format      options.Format
}

// Run transforms data according to o and returns the encoded result. The
// input buffer is only read; the caller keeps ownership. Any failure is a
// pipeline-category error, which the dispatcher treats as a signal to serve
// the original bytes.
func Run(data []byte, o *options.Options, accept string, cfg Config) (*Result, error) {
	probe, err := imaging.DecodeProbe(data)
	if err != nil {
		return nil, err
	}

	meta := ProbeMeta{
		Width:      probe.Width(),
		Height:     probe.Height(),
		Pages:      probe.Pages(),
		PageHeight: probe.PageHeight(),
		HasAlpha:   probe.HasAlpha(),
	}
	if cfg.MaxPixels > 0 {
		total := int64(meta.Width) * int64(meta.PageHeight) * int64(meta.Pages)
		if total > cfg.MaxPixels {
			probe.Close()
			return nil, apperrors.New(apperrors.CategoryPipeline, "pipeline.probe",
				fmt.Errorf("%w: %d pixels exceeds limit %d", apperrors.ErrOperationFailed, total, cfg.MaxPixels))
		}
	}

	plan := computePlan(meta, o, accept, cfg.Anim)
	cfg.Log.Debug().
		Int("width", meta.Width).Int("pages", meta.Pages).
		Bool("animated_output", plan.AnimatedOutput).Bool("over_budget", plan.OverBudget).
		Str("format", string(plan.Format)).
		Msg("pipeline plan")

	// Reload. The probe holds only the first frame; animated outputs and
	// frame extraction need the full stack.
	img := probe
	switch {
	case plan.AnimatedOutput:
		probe.Close()
		if plan.EffectivePages < meta.Pages {
			img, err = imaging.DecodeN(data, plan.EffectivePages)
		} else {
			img, err = imaging.DecodeAll(data)
		}
	case o.HasFrame && plan.SourceAnimated:
		probe.Close()
		img, err = imaging.DecodeAll(data)
	}
	if err != nil {
		return nil, err
	}
	defer func() { img.Close() }()

	var delay []int
	if plan.AnimatedOutput {
		delay = img.PageDelay()
	}
	pages := plan.EffectivePages

	// Extract frame: clamp, crop out of the stack, and continue static.
	if o.HasFrame && plan.SourceAnimated {
		frame := minInt(o.Frame, meta.Pages-1)
		if err := img.Crop(0, frame*meta.PageHeight, meta.Width, meta.PageHeight); err != nil {
			return nil, err
		}
		if err := img.MarkStatic(); err != nil {
			return nil, err
		}
	}

	// Trim. Skipped for animated output: findTrim over the stacked buffer
	// would cross frame boundaries.
	if o.Trim > 0 && !plan.AnimatedOutput {
		l, t, w, h, err := img.FindTrim(float64(o.Trim))
		if err != nil {
			return nil, err
		}
		if w > 0 && h > 0 {
			if err := img.Crop(l, t, w, h); err != nil {
				return nil, err
			}
		}
	}

	if err := img.Rotate(o.Rotate); err != nil {
		return nil, err
	}
	switch o.Flip {
	case options.FlipH:
		err = img.FlipHorizontal()
	case options.FlipV:
		err = img.FlipVertical()
	case options.FlipHV:
		if err = img.FlipHorizontal(); err == nil {
			err = img.FlipVertical()
		}
	}
	if err != nil {
		return nil, err
	}

	if plan.TargetW > 0 || plan.TargetH > 0 {
		if plan.AnimatedOutput {
			img, err = resizeAnimated(img, o, plan, pages, delay)
		} else {
			err = resizeStatic(img, o, plan)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := applyEffects(img, o); err != nil {
		return nil, err
	}

	// Background. fit=pad already consumed the colour for its canvas.
	if o.HasBackground && o.Fit != options.FitPad && img.HasAlpha() {
		if err := img.Flatten(rgb(o.Background)); err != nil {
			return nil, err
		}
	}

	return encode(img, o, plan)
}

// ── resize ────────────────────────────────────────────────────────────────────

func resizeStatic(img *imaging.Image, o *options.Options, plan Plan) error {
	effW, effH := utils.ScaleDimensions(img.Width(), img.Height(), plan.TargetW, plan.TargetH)
	effW = utils.ClampDimension(effW, options.MaxDimension)
	effH = utils.ClampDimension(effH, options.MaxDimension)
	if effW <= 0 || effH <= 0 {
		return apperrors.New(apperrors.CategoryPipeline, "pipeline.resize", apperrors.ErrNoResizeDimensions)
	}

	if err := img.Thumbnail(effW, effH, plan.Crop, plan.Size); err != nil {
		return err
	}

	if plan.Pad && (img.Width() < effW || img.Height() < effH) {
		bg := options.RGB{R: 255, G: 255, B: 255}
		if o.HasBackground {
			bg = o.Background
		}
		left := (effW - img.Width()) / 2
		top := (effH - img.Height()) / 2
		return img.EmbedBackground(left, top, effW, effH, rgb(bg))
	}
	return nil
}

// resizeAnimated resizes the stacked frames. The single-call crop-during-
// resize path corrupts frame boundaries, so cover with both axes runs as an
// explicit scale plus per-frame crop. Every exit restores page-height; a
// stale value from the source resolution would make the encoder read off
// the end of the buffer.
func resizeAnimated(img *imaging.Image, o *options.Options, plan Plan, pages int, delay []int) (*imaging.Image, error) {
	srcW := img.Width()
	pageH := img.PageHeight()

	effW, effH := utils.ScaleDimensions(srcW, pageH, plan.TargetW, plan.TargetH)
	effW = utils.ClampDimension(effW, options.MaxDimension)
	effH = utils.ClampDimension(effH, options.MaxDimension)
	if effW <= 0 || effH <= 0 {
		return img, apperrors.New(apperrors.CategoryPipeline, "pipeline.resize", apperrors.ErrNoResizeDimensions)
	}

	cover := o.Fit == options.FitCover && plan.TargetW > 0 && plan.TargetH > 0
	if cover {
		return resizeAnimatedCover(img, effW, effH, pages, delay)
	}

	var targetW, targetFrameH int
	if o.Fit == options.FitFill {
		targetW, targetFrameH = effW, effH
	} else {
		scale := math.Min(float64(effW)/float64(srcW), float64(effH)/float64(pageH))
		switch plan.Size {
		case imaging.SizeDown:
			if scale > 1 {
				scale = 1
			}
		case imaging.SizeUp:
			if scale < 1 {
				scale = 1
			}
		}
		targetW = maxInt(1, int(math.Round(float64(srcW)*scale)))
		targetFrameH = maxInt(1, int(math.Round(float64(pageH)*scale)))
	}

	// Scale the two axes so every frame lands on an exact pixel grid
	// (totalHeight = pages × frameHeight); a uniform scale would let frame
	// boundaries drift onto fractional rows.
	hscale := float64(targetW) / float64(srcW)
	vscale := float64(targetFrameH*pages) / float64(img.Height())
	if err := img.ResizeXY(hscale, vscale); err != nil {
		return img, err
	}
	if err := img.SetPageHeight(targetFrameH); err != nil {
		return img, err
	}
	img.SetPageDelay(delay)
	return img, nil
}

func resizeAnimatedCover(img *imaging.Image, effW, effH, pages int, delay []int) (*imaging.Image, error) {
	srcW := img.Width()
	pageH := img.PageHeight()

	scale := math.Max(float64(effW)/float64(srcW), float64(effH)/float64(pageH))
	// Scale so each frame lands on an exact pixel grid: frames drift apart
	// otherwise and the crops below slice through neighbours.
	scaledW := int(math.Ceil(float64(srcW) * scale))
	scaledPageH := int(math.Ceil(float64(pageH) * scale))
	if err := img.ResizeXY(float64(scaledW)/float64(srcW), float64(scaledPageH*pages)/float64(img.Height())); err != nil {
		return img, err
	}

	newPageH := img.Height() / pages
	cropLeft := (img.Width() - effW) / 2
	if cropLeft < 0 {
		cropLeft = 0
	}
	cropTop := (newPageH - effH) / 2
	if cropTop < 0 {
		cropTop = 0
	}

	if newPageH == effH {
		// Horizontal-only crop is safe across the whole stack.
		if err := img.Crop(cropLeft, 0, effW, img.Height()); err != nil {
			return img, err
		}
		if err := img.SetPageHeight(effH); err != nil {
			return img, err
		}
		img.SetPageDelay(delay)
		return img, nil
	}

	// Vertical crop must not cross frame boundaries: crop each frame out of
	// the stack and reassemble.
	frames := make([]*imaging.Image, 0, pages)
	defer func() {
		for _, f := range frames {
			f.Close()
		}
	}()
	for i := 0; i < pages; i++ {
		f, err := img.ExtractRegion(cropLeft, i*newPageH+cropTop, effW, effH)
		if err != nil {
			return img, err
		}
		frames = append(frames, f)
	}
	joined, err := img.JoinVertical(frames)
	if err != nil {
		return img, err
	}
	img.Close()
	if err := joined.SetPageHeight(effH); err != nil {
		joined.Close()
		return nil, err
	}
	joined.SetPageDelay(delay)
	return joined, nil
}

// ── effects ───────────────────────────────────────────────────────────────────

func applyEffects(img *imaging.Image, o *options.Options) error {
	if o.Sharpen > 0 {
		if err := img.Sharpen(o.Sharpen); err != nil {
			return err
		}
	}
	if o.Blur > 0 {
		if err := img.Blur(o.Blur); err != nil {
			return err
		}
	}
	if o.HasBrightness || o.HasContrast {
		a := 1.0
		if o.HasContrast {
			a = o.Contrast
		}
		b := 0.0
		if o.HasBrightness {
			b = (o.Brightness - 1) * 128
		}
		if err := img.Linear(a, b); err != nil {
			return err
		}
	}
	if o.Gamma > 0 {
		if err := img.Gamma(o.Gamma); err != nil {
			return err
		}
	}
	if o.HasSaturation {
		if err := img.Saturate(o.Saturation); err != nil {
			return err
		}
	}
	return nil
}

// ── encode ────────────────────────────────────────────────────────────────────

func encode(img *imaging.Image, o *options.Options, plan Plan) (*Result, error) {
	strip := o.Metadata == options.MetadataStrip

	var (
		data []byte
		err  error
	)
	switch plan.Format {
	case options.FormatJPEG:
		data, err = img.ExportJPEG(o.Quality, strip)
	case options.FormatPNG:
		data, err = img.ExportPNG(strip)
	case options.FormatWebP:
		data, err = img.ExportWebP(o.Quality, strip)
	case options.FormatAVIF:
		data, err = img.ExportAVIF(o.Quality, strip)
	case options.FormatGIF:
		// Safety net: if an earlier stage invalidated the animation, collapse
		// to a static GIF instead of letting the encoder misread the stack.
		h, ph := img.Height(), img.PageHeight()
		if ph <= 0 || ph > h || h%ph != 0 {
			if err := img.MarkStatic(); err != nil {
				return nil, err
			}
		}
		data, err = img.ExportGIF(o.Quality)
	default:
		return nil, apperrors.New(apperrors.CategoryPipeline, "pipeline.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, plan.Format))
	}
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, ContentType: plan.Format.ContentType(), Format: plan.Format}, nil
}

func rgb(c options.RGB) imaging.RGB {
	return imaging.RGB{R: c.R, G: c.G, B: c.B}
}
