// Package imaging normalizes what scanner drivers hand back into a single
// image.Image, and encodes, decodes and resizes images for the scan
// procedure.
package imaging

import (
	"encoding/binary"
	"image"
	"image/color"

	"github.com/zombor/scanbot/internal/serrors"
)

// RawImage is the unprocessed result of one acquisition. It is a closed set:
// NativeImage, PixelBuffer or EncodedImage.
type RawImage interface {
	rawImage()
}

// maxPixels bounds the geometry a pixel buffer may claim. A letter page at
// 1200 DPI is about 135 million pixels.
const maxPixels = 1 << 28

// NativeImage is a driver result that already is a decoded image.
type NativeImage struct {
	Image image.Image
}

// PixelBuffer is an uncompressed sample buffer as delivered by a frame
// grabber. Rows are packed without padding. 16-bit samples are big-endian;
// 1-bit samples are packed MSB first with a set bit meaning black.
type PixelBuffer struct {
	Width    int
	Height   int
	Channels int // 1 (gray), 3 (RGB) or 4 (RGBA)
	Depth    int // bits per sample: 1, 8 or 16
	Data     []byte
}

// EncodedImage is a complete file in some container format (PNG, JPEG,
// TIFF, HEIC, PDF, ...). ContentType is a hint and may be empty.
type EncodedImage struct {
	ContentType string
	Data        []byte
}

func (NativeImage) rawImage()  {}
func (PixelBuffer) rawImage()  {}
func (EncodedImage) rawImage() {}

// Normalize converts any raw variant into an image.Image.
func Normalize(raw RawImage) (image.Image, error) {
	switch r := raw.(type) {
	case NativeImage:
		if r.Image == nil || r.Image.Bounds().Empty() {
			return nil, serrors.New(serrors.UnsupportedImageFormat, "native image is empty")
		}
		return r.Image, nil
	case *NativeImage:
		if r == nil {
			break
		}
		return Normalize(*r)
	case PixelBuffer:
		return fromPixels(r)
	case *PixelBuffer:
		if r == nil {
			break
		}
		return fromPixels(*r)
	case EncodedImage:
		return fromEncoded(r)
	case *EncodedImage:
		if r == nil {
			break
		}
		return fromEncoded(*r)
	}
	return nil, serrors.New(serrors.UnsupportedImageFormat, "unsupported raw image type %T", raw)
}

func fromEncoded(r EncodedImage) (image.Image, error) {
	if len(r.Data) == 0 {
		return nil, serrors.New(serrors.UnsupportedImageFormat, "encoded image is empty")
	}
	img, err := Decode(r.Data, r.ContentType)
	if err != nil {
		return nil, serrors.Wrap(serrors.UnsupportedImageFormat, err, "decoding %s payload", contentLabel(r.ContentType))
	}
	return img, nil
}

func contentLabel(ct string) string {
	if ct == "" {
		return "untyped"
	}
	return ct
}

func fromPixels(p PixelBuffer) (image.Image, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, serrors.New(serrors.UnsupportedImageFormat, "pixel buffer has no area (%dx%d)", p.Width, p.Height)
	}
	if p.Width > maxPixels/p.Height {
		return nil, serrors.New(serrors.UnsupportedImageFormat, "pixel buffer is too large (%dx%d)", p.Width, p.Height)
	}
	rect := image.Rect(0, 0, p.Width, p.Height)

	switch {
	case p.Depth == 1 && p.Channels == 1:
		stride := (p.Width + 7) / 8
		if err := checkLen(p, stride*p.Height); err != nil {
			return nil, err
		}
		img := image.NewGray(rect)
		for y := 0; y < p.Height; y++ {
			row := p.Data[y*stride:]
			for x := 0; x < p.Width; x++ {
				if row[x/8]&(0x80>>(x%8)) == 0 {
					img.Pix[y*img.Stride+x] = 0xff
				}
			}
		}
		return img, nil

	case p.Depth == 8 && p.Channels == 1:
		if err := checkLen(p, p.Width*p.Height); err != nil {
			return nil, err
		}
		img := image.NewGray(rect)
		copy(img.Pix, p.Data)
		return img, nil

	case p.Depth == 8 && (p.Channels == 3 || p.Channels == 4):
		if err := checkLen(p, p.Width*p.Height*p.Channels); err != nil {
			return nil, err
		}
		img := image.NewNRGBA(rect)
		for i, j := 0, 0; j < len(img.Pix); i, j = i+p.Channels, j+4 {
			img.Pix[j], img.Pix[j+1], img.Pix[j+2] = p.Data[i], p.Data[i+1], p.Data[i+2]
			img.Pix[j+3] = 0xff
			if p.Channels == 4 {
				img.Pix[j+3] = p.Data[i+3]
			}
		}
		return img, nil

	case p.Depth == 16 && p.Channels == 1:
		if err := checkLen(p, p.Width*p.Height*2); err != nil {
			return nil, err
		}
		img := image.NewGray16(rect)
		copy(img.Pix, p.Data)
		return img, nil

	case p.Depth == 16 && p.Channels == 3:
		if err := checkLen(p, p.Width*p.Height*6); err != nil {
			return nil, err
		}
		img := image.NewNRGBA64(rect)
		for i := 0; i < p.Width*p.Height; i++ {
			s := p.Data[i*6:]
			img.SetNRGBA64(i%p.Width, i/p.Width, color.NRGBA64{
				R: binary.BigEndian.Uint16(s[0:]),
				G: binary.BigEndian.Uint16(s[2:]),
				B: binary.BigEndian.Uint16(s[4:]),
				A: 0xffff,
			})
		}
		return img, nil
	}

	return nil, serrors.New(serrors.UnsupportedImageFormat,
		"pixel buffer with %d channel(s) at %d bit(s) is not supported", p.Channels, p.Depth)
}

func checkLen(p PixelBuffer, want int) error {
	if len(p.Data) < want {
		return serrors.New(serrors.UnsupportedImageFormat,
			"pixel buffer too short: have %d bytes, need %d", len(p.Data), want)
	}
	return nil
}
