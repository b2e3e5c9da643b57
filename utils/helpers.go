package utils

import "bytes"

const (
	formatJPEG    = "jpeg"
	formatPNG     = "png"
	formatWebP    = "webp"
	formatGIF     = "gif"
	formatAVIF    = "avif"
	formatUnknown = "unknown"
)

// avifBrands are the ftyp major brands treated as AVIF/HEIF content.
var avifBrands = [][]byte{
	[]byte("avif"), []byte("avis"), []byte("heic"), []byte("heix"), []byte("mif1"),
}

// DetectFormat sniffs the magic bytes of data and returns the image format.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	// JPEG: FF D8
	if data[0] == 0xFF && data[1] == 0xD8 {
		return formatJPEG
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return formatPNG
	}
	// GIF: "GIF8"
	if bytes.HasPrefix(data, []byte("GIF8")) {
		return formatGIF
	}
	// WebP: RIFF....WEBP
	if len(data) >= 12 &&
		bytes.HasPrefix(data, []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WEBP")) {
		return formatWebP
	}
	// AVIF/HEIF: ....ftyp<brand>
	if len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) {
		for _, brand := range avifBrands {
			if bytes.Equal(data[8:12], brand) {
				return formatAVIF
			}
		}
	}
	return formatUnknown
}

// DetectContentType sniffs data and returns an image MIME type, or
// "application/octet-stream" when the bytes match no known image format.
func DetectContentType(data []byte) string {
	switch DetectFormat(data) {
	case formatJPEG:
		return "image/jpeg"
	case formatPNG:
		return "image/png"
	case formatGIF:
		return "image/gif"
	case formatWebP:
		return "image/webp"
	case formatAVIF:
		return "image/avif"
	}
	return "application/octet-stream"
}

// ScaleDimensions computes output (w, h). Pass 0 for either axis to derive it
// from the other with the source aspect ratio; when both axes are given they
// are returned unchanged.
func ScaleDimensions(srcW, srcH, targetW, targetH int) (int, int) {
	if targetW == 0 && targetH == 0 {
		return srcW, srcH
	}
	if targetW == 0 {
		ratio := float64(targetH) / float64(srcH)
		return int(float64(srcW) * ratio), targetH
	}
	if targetH == 0 {
		ratio := float64(targetW) / float64(srcW)
		return targetW, int(float64(srcH) * ratio)
	}
	return targetW, targetH
}

// ClampDimension bounds v to [1, max] treating 0 as "unset" (returned as-is).
func ClampDimension(v, max int) int {
	if v <= 0 {
		return v
	}
	if v > max {
		return max
	}
	return v
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
