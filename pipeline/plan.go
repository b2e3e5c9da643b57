package pipeline

import (
	"math"

	"github.com/zimgx/zimgx/imaging"
	"github.com/zimgx/zimgx/negotiate"
	"github.com/zimgx/zimgx/options"
)

// AnimConfig bounds how much animated work a single request may cost.
type AnimConfig struct {
	// MaxFrames clamps how many frames are reloaded for an animated output.
	MaxFrames int
	// MaxAnimatedPixels is the decode budget (frameW × pageH × nPages) above
	// which the request degrades to a single frame. 0 disables the budget.
	MaxAnimatedPixels int64
}

// ProbeMeta is what the cheap first-frame decode reveals about the source.
type ProbeMeta struct {
	Width      int
	Height     int
	Pages      int
	PageHeight int
	HasAlpha   bool
}

// Plan holds every decision the pipeline makes up front, computed purely
// from the probe metadata, the parsed options, and the Accept header.
type Plan struct {
	// SourceAnimated is true when the probe saw more than one page.
	SourceAnimated bool
	// OverBudget is true when the full animation exceeds the pixel budget.
	OverBudget bool
	// EffectivePages is how many frames the reload stage decodes.
	EffectivePages int
	// AnimatedOutput is true when the encoder receives the frame stack.
	AnimatedOutput bool
	// Format is the final output format (animated negotiation already applied).
	Format options.Format
	// TargetW/TargetH are the DPR-scaled, clamped box; 0 means the axis is
	// unset and is derived from the source aspect at resize time.
	TargetW int
	TargetH int
	// Pad records that fit=pad was requested (resize runs as contain, then
	// embeds onto the padded canvas).
	Pad bool
	// Crop and Size parameterise the single-call thumbnail resize.
	Crop imaging.CropMode
	Size imaging.SizeMode
}

// computePlan derives the Plan. It has no side effects and touches no image
// handle, which keeps every branch of the decision machine testable.
func computePlan(meta ProbeMeta, o *options.Options, accept string, anim AnimConfig) Plan {
	p := Plan{
		SourceAnimated: meta.Pages > 1,
		EffectivePages: meta.Pages,
	}

	if p.SourceAnimated {
		total := int64(meta.Width) * int64(meta.PageHeight) * int64(meta.Pages)
		p.OverBudget = anim.MaxAnimatedPixels > 0 && total > anim.MaxAnimatedPixels
		if !p.OverBudget && anim.MaxFrames > 0 && meta.Pages > anim.MaxFrames {
			p.EffectivePages = anim.MaxFrames
		}
	}

	if p.SourceAnimated && !p.OverBudget && o.Anim != options.AnimStatic && !o.HasFrame {
		if f, ok := negotiate.AnimatedFormat(accept, o.Format); ok {
			p.AnimatedOutput = true
			p.Format = f
		}
	}
	if !p.AnimatedOutput {
		p.Format = negotiate.Format(accept, meta.HasAlpha, o.Format)
	}

	p.TargetW = scaleDPR(o.Width, o.DPR)
	p.TargetH = scaleDPR(o.Height, o.DPR)

	fit := o.Fit
	if fit == options.FitPad {
		p.Pad = true
		fit = options.FitContain
	}
	switch fit {
	case options.FitContain, options.FitInside:
		p.Size = imaging.SizeDown
	case options.FitFill:
		p.Size = imaging.SizeForce
	case options.FitOutside:
		p.Size = imaging.SizeUp
	case options.FitCover:
		p.Size = imaging.SizeBoth
		p.Crop = cropMode(o.Gravity)
	}
	return p
}

// cropMode maps gravity onto the region-of-interest strategies libvips
// offers. Compass points fall back to centre; the thumbnail primitive has no
// directional variants.
func cropMode(g options.Gravity) imaging.CropMode {
	switch g {
	case options.GravitySmart:
		return imaging.CropEntropy
	case options.GravityAttention:
		return imaging.CropAttention
	}
	return imaging.CropCentre
}

func scaleDPR(v int, dpr float64) int {
	if v <= 0 {
		return 0
	}
	if dpr > 1 {
		v = int(math.Round(float64(v) * dpr))
	}
	if v > options.MaxDimension {
		v = options.MaxDimension
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
