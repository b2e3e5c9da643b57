// Package negotiate chooses the output format from the client's Accept
// header, source alpha, animation state, and any explicit override. Both
// entry points are pure functions; ties break deterministically.
package negotiate

import (
	"strconv"
	"strings"

	"github.com/zimgx/zimgx/options"
)

// caps is the capability set parsed from an Accept header.
type caps struct {
	avif, webp, jpeg, png, gif bool
}

func (c caps) has(f options.Format) bool {
	switch f {
	case options.FormatAVIF:
		return c.avif
	case options.FormatWebP:
		return c.webp
	case options.FormatJPEG:
		return c.jpeg
	case options.FormatPNG:
		return c.png
	case options.FormatGIF:
		return c.gif
	}
	return false
}

// parseAccept builds the capability set. Wildcards imply every format, each
// media range may carry q=; q=0 explicitly disables the format it names, and
// unparseable q values default to 1. Unknown media types are ignored.
func parseAccept(accept string) caps {
	var c, off caps
	wildcard := false
	for _, part := range strings.Split(accept, ",") {
		media, q := splitQuality(part)
		enabled := q > 0
		switch media {
		case "*/*", "image/*":
			wildcard = wildcard || enabled
		case "image/avif":
			c.avif, off.avif = enabled, !enabled
		case "image/webp":
			c.webp, off.webp = enabled, !enabled
		case "image/jpeg", "image/jpg":
			c.jpeg, off.jpeg = enabled, !enabled
		case "image/png":
			c.png, off.png = enabled, !enabled
		case "image/gif":
			c.gif, off.gif = enabled, !enabled
		}
	}
	if wildcard {
		c = caps{avif: !off.avif, webp: !off.webp, jpeg: !off.jpeg, png: !off.png, gif: !off.gif}
	}
	return c
}

func splitQuality(part string) (string, float64) {
	q := 1.0
	fields := strings.Split(part, ";")
	media := strings.TrimSpace(fields[0])
	for _, p := range fields[1:] {
		p = strings.TrimSpace(p)
		if v, ok := strings.CutPrefix(p, "q="); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				q = f
			}
		}
	}
	return media, q
}

// Format chooses the still-image output format. An explicit non-auto request
// always wins; otherwise formats are tried in priority order against the
// capability set, with the transparency-preserving ladder when the source
// has alpha. An empty or fully disabled Accept falls back to jpeg.
func Format(accept string, sourceHasAlpha bool, requested options.Format) options.Format {
	if requested != options.FormatAuto && requested != "" {
		return requested
	}
	c := parseAccept(accept)
	order := []options.Format{options.FormatAVIF, options.FormatWebP, options.FormatJPEG, options.FormatPNG}
	if sourceHasAlpha {
		order = []options.Format{options.FormatAVIF, options.FormatWebP, options.FormatPNG, options.FormatJPEG}
	}
	for _, f := range order {
		if c.has(f) {
			return f
		}
	}
	return options.FormatJPEG
}

// AnimatedFormat chooses a format able to carry the animation. It returns
// ok=false when no such format is available, in which case the caller
// degrades to a static output.
func AnimatedFormat(accept string, requested options.Format) (options.Format, bool) {
	if requested != options.FormatAuto && requested != "" {
		if requested.SupportsAnimation() {
			return requested, true
		}
		return "", false
	}
	c := parseAccept(accept)
	if c.webp {
		return options.FormatWebP, true
	}
	if c.gif {
		return options.FormatGIF, true
	}
	return "", false
}
