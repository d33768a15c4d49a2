package imaging

import (
	"fmt"
	"strings"
)

// Format is an output image encoding.
type Format string

const (
	PNG  Format = "PNG"
	JPEG Format = "JPEG"
	TIFF Format = "TIFF"
	BMP  Format = "BMP"
	GIF  Format = "GIF"
)

// ParseFormat accepts a format name case-insensitively. JPG and TIF are
// accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PNG":
		return PNG, nil
	case "JPEG", "JPG":
		return JPEG, nil
	case "TIFF", "TIF":
		return TIFF, nil
	case "BMP":
		return BMP, nil
	case "GIF":
		return GIF, nil
	}
	return "", fmt.Errorf("unknown image format %q (supported: PNG, JPEG, TIFF, BMP, GIF)", s)
}

// Ext returns the file extension without the dot, e.g. "png" or "jpeg".
func (f Format) Ext() string {
	return strings.ToLower(string(f))
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case TIFF:
		return "image/tiff"
	case BMP:
		return "image/bmp"
	case GIF:
		return "image/gif"
	default:
		return "image/png"
	}
}

// Lossy reports whether re-encoding at a lower quality shrinks the output.
func (f Format) Lossy() bool {
	return f == JPEG
}
