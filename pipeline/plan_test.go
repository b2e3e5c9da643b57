package pipeline

import (
	"testing"

	"github.com/zimgx/zimgx/imaging"
	"github.com/zimgx/zimgx/options"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

// spinnerMeta is a 128×128 12-frame GIF probe, stacked 1536 tall.
func spinnerMeta() ProbeMeta {
	return ProbeMeta{Width: 128, Height: 128, Pages: 12, PageHeight: 128}
}

func stillMeta() ProbeMeta {
	return ProbeMeta{Width: 800, Height: 600, Pages: 1, PageHeight: 600}
}

func anim(maxFrames int, maxPixels int64) AnimConfig {
	return AnimConfig{MaxFrames: maxFrames, MaxAnimatedPixels: maxPixels}
}

func opts(t *testing.T, s string) *options.Options {
	t.Helper()
	o, err := options.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return o
}

// ── Unit tests ────────────────────────────────────────────────────────────────

func TestPlan_AnimatedGIFStaysAnimated(t *testing.T) {
	p := computePlan(spinnerMeta(), opts(t, "w=64"), "image/gif", anim(100, 50_000_000))
	if !p.SourceAnimated || !p.AnimatedOutput {
		t.Fatalf("expected animated output: %+v", p)
	}
	if p.Format != options.FormatGIF {
		t.Errorf("format: got %s, want gif", p.Format)
	}
	if p.EffectivePages != 12 {
		t.Errorf("effective pages: got %d, want 12", p.EffectivePages)
	}
}

func TestPlan_StaticModeDisablesAnimation(t *testing.T) {
	p := computePlan(spinnerMeta(), opts(t, "anim=static,f=png"), "image/gif", anim(100, 50_000_000))
	if p.AnimatedOutput {
		t.Error("anim=static must force a static output")
	}
	if p.Format != options.FormatPNG {
		t.Errorf("format: got %s, want png", p.Format)
	}
}

func TestPlan_FrameExtractionDisablesAnimation(t *testing.T) {
	p := computePlan(spinnerMeta(), opts(t, "frame=1,f=png"), "image/gif", anim(100, 50_000_000))
	if p.AnimatedOutput {
		t.Error("frame extraction must force a static output")
	}
	if p.Format != options.FormatPNG {
		t.Errorf("format: got %s, want png", p.Format)
	}
}

// Seed case: a tiny pixel budget degrades the animation to a single frame.
func TestPlan_OverBudgetDegradesToStatic(t *testing.T) {
	p := computePlan(spinnerMeta(), opts(t, "w=64"), "image/gif", anim(100, 1000))
	if !p.OverBudget {
		t.Fatal("expected over-budget")
	}
	if p.AnimatedOutput {
		t.Error("over-budget must force a static output")
	}
	if p.EffectivePages != 12 {
		// Over budget skips the frame clamp; only the probe frame is used.
		t.Errorf("effective pages: got %d, want 12", p.EffectivePages)
	}
}

func TestPlan_MaxFramesClampsReload(t *testing.T) {
	p := computePlan(spinnerMeta(), opts(t, ""), "image/gif", anim(5, 50_000_000))
	if p.EffectivePages != 5 {
		t.Errorf("effective pages: got %d, want 5", p.EffectivePages)
	}
	if !p.AnimatedOutput {
		t.Error("clamped animation should still be animated")
	}
}

func TestPlan_NoAnimatedFormatDegrades(t *testing.T) {
	// Client only accepts formats that cannot carry the animation.
	p := computePlan(spinnerMeta(), opts(t, ""), "image/avif,image/png", anim(100, 50_000_000))
	if p.AnimatedOutput {
		t.Error("no animated format available: must degrade")
	}
	if p.Format != options.FormatAVIF {
		t.Errorf("format: got %s, want avif (still negotiation)", p.Format)
	}
}

func TestPlan_StillNegotiation(t *testing.T) {
	p := computePlan(stillMeta(), opts(t, "w=800,h=600,fit=cover"), "image/avif,image/webp", anim(100, 50_000_000))
	if p.SourceAnimated || p.AnimatedOutput {
		t.Error("still source must not be animated")
	}
	if p.Format != options.FormatAVIF {
		t.Errorf("format: got %s, want avif", p.Format)
	}
	if p.Size != imaging.SizeBoth || p.Crop != imaging.CropCentre {
		t.Errorf("cover mapping wrong: size=%v crop=%v", p.Size, p.Crop)
	}
}

func TestPlan_FitMapping(t *testing.T) {
	cases := []struct {
		fit  string
		size imaging.SizeMode
		crop imaging.CropMode
		pad  bool
	}{
		{"contain", imaging.SizeDown, imaging.CropNone, false},
		{"inside", imaging.SizeDown, imaging.CropNone, false},
		{"pad", imaging.SizeDown, imaging.CropNone, true},
		{"fill", imaging.SizeForce, imaging.CropNone, false},
		{"outside", imaging.SizeUp, imaging.CropNone, false},
		{"cover", imaging.SizeBoth, imaging.CropCentre, false},
	}
	for _, tc := range cases {
		p := computePlan(stillMeta(), opts(t, "w=10,h=10,fit="+tc.fit), "", anim(0, 0))
		if p.Size != tc.size || p.Crop != tc.crop || p.Pad != tc.pad {
			t.Errorf("fit=%s: got size=%v crop=%v pad=%v", tc.fit, p.Size, p.Crop, p.Pad)
		}
	}
}

func TestPlan_GravityMapping(t *testing.T) {
	cases := []struct {
		gravity string
		crop    imaging.CropMode
	}{
		{"center", imaging.CropCentre},
		{"smart", imaging.CropEntropy},
		{"attention", imaging.CropAttention},
		// Compass points fall back to centre.
		{"n", imaging.CropCentre},
		{"se", imaging.CropCentre},
	}
	for _, tc := range cases {
		p := computePlan(stillMeta(), opts(t, "w=10,h=10,fit=cover,g="+tc.gravity), "", anim(0, 0))
		if p.Crop != tc.crop {
			t.Errorf("gravity=%s: got crop=%v, want %v", tc.gravity, p.Crop, tc.crop)
		}
	}
}

func TestPlan_DPRScalesAndClamps(t *testing.T) {
	p := computePlan(stillMeta(), opts(t, "w=100,h=200,dpr=3"), "", anim(0, 0))
	if p.TargetW != 300 || p.TargetH != 600 {
		t.Errorf("dpr scaling: got %dx%d, want 300x600", p.TargetW, p.TargetH)
	}

	p = computePlan(stillMeta(), opts(t, "w=5000,dpr=5"), "", anim(0, 0))
	if p.TargetW != options.MaxDimension {
		t.Errorf("dpr clamp: got %d, want %d", p.TargetW, options.MaxDimension)
	}
	if p.TargetH != 0 {
		t.Errorf("unset axis must stay 0, got %d", p.TargetH)
	}
}

func TestPlan_ExplicitFormatBeatsAccept(t *testing.T) {
	p := computePlan(stillMeta(), opts(t, "f=png"), "image/avif,image/webp", anim(0, 0))
	if p.Format != options.FormatPNG {
		t.Errorf("format: got %s, want png", p.Format)
	}
}

func TestPlan_AnimateModeStillRequiresCapability(t *testing.T) {
	// anim=animate with an Accept that can carry animation keeps it animated.
	p := computePlan(spinnerMeta(), opts(t, "anim=animate"), "image/webp", anim(100, 50_000_000))
	if !p.AnimatedOutput || p.Format != options.FormatWebP {
		t.Errorf("expected animated webp, got %+v", p)
	}

	// anim=animate with an Accept that cannot carry animation degrades.
	p = computePlan(spinnerMeta(), opts(t, "anim=animate"), "image/png", anim(100, 50_000_000))
	if p.AnimatedOutput {
		t.Errorf("expected static output without an animated format, got %+v", p)
	}
}
