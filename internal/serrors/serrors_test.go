package serrors

import (
	"errors"
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSerrors(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Serrors Suite")
}

var _ = Describe("Error", func() {
	var cause error

	BeforeEach(func() {
		cause = errors.New("usb reset")
	})

	Describe("Error()", func() {
		It("joins message and cause", func() {
			err := Wrap(AcquisitionFailed, cause, "reading image")
			Expect(err.Error()).To(Equal("reading image: usb reset"))
		})

		It("uses the message alone", func() {
			Expect(New(DeviceNotFound, "no devices on %s", "usb").Error()).To(Equal("no devices on usb"))
		})

		It("falls back to the kind", func() {
			Expect((&Error{kind: DeviceBusy}).Error()).To(Equal("device busy"))
		})
	})

	Describe("matching", func() {
		It("matches the kind and the cause", func() {
			err := Wrap(AcquisitionFailed, cause, "reading image")
			Expect(errors.Is(err, AcquisitionFailed)).To(BeTrue())
			Expect(errors.Is(err, cause)).To(BeTrue())
			Expect(errors.Is(err, DeviceNotFound)).To(BeFalse())
		})

		It("matches kinds through nested wrapping", func() {
			inner := New(DeviceNotFound, "nothing attached")
			outer := fmt.Errorf("opening: %w", Wrap(Scan, inner, "scanning document"))
			Expect(errors.Is(outer, Scan)).To(BeTrue())
			Expect(errors.Is(outer, DeviceNotFound)).To(BeTrue())
		})

		It("reports the outermost kind", func() {
			err := Wrap(Scan, New(DeviceNotFound, "nothing attached"), "scanning document")
			Expect(KindOf(err)).To(Equal(Scan))
			Expect(KindOf(cause)).To(BeNil())
		})
	})

	It("keeps kinds distinct", func() {
		kinds := []Kind{DeviceNotFound, DeviceBusy, AcquisitionFailed, UnsupportedImageFormat, Scan, Retention, Config}
		seen := map[Kind]bool{}
		for _, k := range kinds {
			Expect(seen[k]).To(BeFalse(), k.Error())
			seen[k] = true
		}
	})
})
