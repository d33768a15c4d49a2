package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/scanbot/internal/serrors"
)

func TestImaging(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Imaging Suite")
}

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

var _ = Describe("ParseFormat", func() {
	DescribeTable("accepted names",
		func(in string, want Format) {
			f, err := ParseFormat(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(f).To(Equal(want))
		},
		Entry("png", "png", PNG),
		Entry("JPEG", "JPEG", JPEG),
		Entry("jpg alias", "jpg", JPEG),
		Entry("tif alias", " Tif ", TIFF),
		Entry("bmp", "BMP", BMP),
		Entry("gif", "gif", GIF),
	)

	It("rejects unknown names", func() {
		_, err := ParseFormat("webp")
		Expect(err).To(MatchError(ContainSubstring("unknown image format")))
	})

	It("derives the extension from the name", func() {
		Expect(JPEG.Ext()).To(Equal("jpeg"))
		Expect(PNG.Ext()).To(Equal("png"))
	})

	It("treats only JPEG as lossy", func() {
		Expect(JPEG.Lossy()).To(BeTrue())
		Expect(PNG.Lossy()).To(BeFalse())
		Expect(TIFF.Lossy()).To(BeFalse())
	})
})

var _ = Describe("Normalize", func() {
	var (
		raw RawImage
		img image.Image
		err error
	)

	JustBeforeEach(func() {
		img, err = Normalize(raw)
	})

	When("the driver returns a native image", func() {
		BeforeEach(func() {
			raw = NativeImage{Image: checker(4, 3)}
		})

		It("passes it through", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(Equal(4))
		})
	})

	When("the native image is nil", func() {
		BeforeEach(func() {
			raw = NativeImage{}
		})

		It("fails as unsupported", func() {
			Expect(errors.Is(err, serrors.UnsupportedImageFormat)).To(BeTrue())
		})
	})

	When("the driver returns an 8-bit RGB buffer", func() {
		BeforeEach(func() {
			raw = PixelBuffer{Width: 2, Height: 1, Channels: 3, Depth: 8, Data: []byte{255, 0, 0, 0, 0, 255}}
		})

		It("builds an opaque NRGBA image", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(color.NRGBAModel.Convert(img.At(0, 0))).To(Equal(color.NRGBA{R: 255, A: 255}))
			Expect(color.NRGBAModel.Convert(img.At(1, 0))).To(Equal(color.NRGBA{B: 255, A: 255}))
		})
	})

	When("the driver returns a lineart buffer", func() {
		BeforeEach(func() {
			// 10 pixels wide: two bytes per row, first pixel black.
			raw = PixelBuffer{Width: 10, Height: 1, Channels: 1, Depth: 1, Data: []byte{0x80, 0x00}}
		})

		It("maps set bits to black", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(img.(*image.Gray).GrayAt(0, 0).Y).To(BeZero())
			Expect(img.(*image.Gray).GrayAt(9, 0).Y).To(Equal(uint8(0xff)))
		})
	})

	When("the buffer is shorter than its geometry", func() {
		BeforeEach(func() {
			raw = PixelBuffer{Width: 4, Height: 4, Channels: 1, Depth: 8, Data: make([]byte, 3)}
		})

		It("fails as unsupported", func() {
			Expect(errors.Is(err, serrors.UnsupportedImageFormat)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("too short"))
		})
	})

	When("the geometry overflows", func() {
		BeforeEach(func() {
			raw = PixelBuffer{Width: 1 << 32, Height: 1 << 32, Channels: 1, Depth: 8}
		})

		It("fails as unsupported instead of allocating", func() {
			Expect(errors.Is(err, serrors.UnsupportedImageFormat)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("too large"))
		})
	})

	When("the geometry is merely huge", func() {
		BeforeEach(func() {
			raw = PixelBuffer{Width: 100000, Height: 100000, Channels: 3, Depth: 8, Data: make([]byte, 16)}
		})

		It("fails as unsupported", func() {
			Expect(errors.Is(err, serrors.UnsupportedImageFormat)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("too large"))
		})
	})

	When("the sample layout is unknown", func() {
		BeforeEach(func() {
			raw = PixelBuffer{Width: 1, Height: 1, Channels: 2, Depth: 8, Data: []byte{1, 2}}
		})

		It("fails as unsupported", func() {
			Expect(errors.Is(err, serrors.UnsupportedImageFormat)).To(BeTrue())
		})
	})

	When("the driver returns an encoded PNG", func() {
		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(png.Encode(&buf, checker(5, 5))).To(Succeed())
			raw = EncodedImage{ContentType: "image/png", Data: buf.Bytes()}
		})

		It("decodes it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Bounds()).To(Equal(image.Rect(0, 0, 5, 5)))
		})
	})

	When("the encoded payload is garbage", func() {
		BeforeEach(func() {
			raw = &EncodedImage{Data: []byte("definitely not an image")}
		})

		It("fails as unsupported", func() {
			Expect(errors.Is(err, serrors.UnsupportedImageFormat)).To(BeTrue())
		})
	})

	When("there is no raw image at all", func() {
		BeforeEach(func() {
			raw = nil
		})

		It("fails as unsupported", func() {
			Expect(errors.Is(err, serrors.UnsupportedImageFormat)).To(BeTrue())
		})
	})
})

var _ = Describe("Encode", func() {
	It("writes a decodable JPEG at the requested quality", func() {
		src := checker(32, 32)
		hi, err := EncodeBytes(src, JPEG, 95)
		Expect(err).NotTo(HaveOccurred())
		lo, err := EncodeBytes(src, JPEG, 70)
		Expect(err).NotTo(HaveOccurred())
		Expect(len(lo)).To(BeNumerically("<", len(hi)))

		_, err = jpeg.Decode(bytes.NewReader(lo))
		Expect(err).NotTo(HaveOccurred())
	})

	DescribeTable("round trips through Decode",
		func(f Format) {
			data, err := EncodeBytes(checker(8, 6), f, 0)
			Expect(err).NotTo(HaveOccurred())
			img, err := Decode(data, f.ContentType())
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Bounds()).To(Equal(image.Rect(0, 0, 8, 6)))
		},
		Entry("PNG", PNG),
		Entry("TIFF", TIFF),
		Entry("BMP", BMP),
		Entry("GIF", GIF),
	)

	It("rejects unknown formats", func() {
		_, err := EncodeBytes(checker(1, 1), Format("WEBP"), 0)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Resize", func() {
	It("scales both dimensions", func() {
		out := Resize(checker(100, 50), 0.8)
		Expect(out.Bounds()).To(Equal(image.Rect(0, 0, 80, 40)))
	})

	It("keeps gray images gray", func() {
		out := Resize(image.NewGray(image.Rect(0, 0, 10, 10)), 0.8)
		Expect(out).To(BeAssignableToTypeOf(&image.Gray{}))
	})

	It("never collapses to zero pixels", func() {
		out := Resize(checker(1, 1), 0.5)
		Expect(out.Bounds().Dx()).To(Equal(1))
	})
})

var _ = Describe("ToPNG", func() {
	It("returns PNG input untouched", func() {
		var buf bytes.Buffer
		Expect(png.Encode(&buf, checker(2, 2))).To(Succeed())
		out, err := ToPNG(buf.Bytes(), "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(buf.Bytes()))
	})

	It("converts JPEG input", func() {
		var buf bytes.Buffer
		Expect(jpeg.Encode(&buf, checker(2, 2), nil)).To(Succeed())
		out, err := ToPNG(buf.Bytes(), "image/jpeg")
		Expect(err).NotTo(HaveOccurred())
		Expect(out[:8]).To(Equal([]byte("\x89PNG\r\n\x1a\n")))
	})
})
