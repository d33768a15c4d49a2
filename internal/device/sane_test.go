package device

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/scanbot/internal/imaging"
)

// mockRunner is a mock implementation of Runner
type mockRunner struct {
	outputs map[string][]byte
	errs    map[string]error
	calls   [][]string
}

// key identifies a call by its first argument
func (m *mockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, append([]string{name}, args...))
	key := ""
	if len(args) > 0 {
		key = args[0]
	}
	if strings.HasPrefix(key, "--device-name=") {
		if len(args) > 1 && args[1] == "--all-options" {
			key = "options"
		} else {
			key = "scan"
		}
	}
	if err := m.errs[key]; err != nil {
		return nil, err
	}
	return m.outputs[key], nil
}

const hpOptions = `All options specific to device ` + "`hpaio:/usb/HP_LaserJet_MFP_M177fw'" + `:
  Scan mode:
    --mode Lineart|Gray|Color [Lineart]
        Selects the scan mode (e.g., lineart, monochrome, or color).
    --resolution 75|100|150|200|300|600|1200dpi [75]
        Sets the resolution of the scanned image.
  Geometry:
    -l 0..215.9mm [0]
        Top-left x position of scan area.
    -x 0..215.9mm [215.9]
        Width of scan-area.
`

var _ = Describe("Sane", func() {
	var (
		runner *mockRunner
		sane   *Sane
		ctx    context.Context
	)

	BeforeEach(func() {
		runner = &mockRunner{
			outputs: map[string][]byte{
				"--formatted-device-list=%d%n": []byte("hpaio:/usb/HP_LaserJet_MFP_M177fw\n\nv4l:/dev/video0\n"),
				"options":                      []byte(hpOptions),
				"scan":                         []byte("\x89PNG..."),
			},
			errs: map[string]error{},
		}
		sane = NewSaneWithRunner("", runner)
		ctx = context.Background()
	})

	Describe("Devices", func() {
		It("lists one device per line", func() {
			devices, err := sane.Devices(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices).To(Equal([]string{"hpaio:/usb/HP_LaserJet_MFP_M177fw", "v4l:/dev/video0"}))
			Expect(runner.calls[0][0]).To(Equal("scanimage"))
		})

		It("wraps tool failures", func() {
			runner.errs["--formatted-device-list=%d%n"] = errors.New("exit status 1")
			_, err := sane.Devices(ctx)
			Expect(err).To(MatchError(ContainSubstring("listing devices")))
		})
	})

	Describe("handle", func() {
		var h Handle

		BeforeEach(func() {
			var err error
			h, err = sane.Open(ctx, "hpaio:/usb/HP_LaserJet_MFP_M177fw")
			Expect(err).NotTo(HaveOccurred())
		})

		It("accepts options the device lists", func() {
			Expect(h.SetOption(OptionResolution, 300)).To(Succeed())
			Expect(h.SetOption(OptionMode, "Color")).To(Succeed())
			Expect(h.SetOption(OptionTopLeftX, 0)).To(Succeed())
		})

		It("rejects options the device lacks", func() {
			err := h.SetOption(OptionTopLeftY, 0)
			Expect(errors.Is(err, ErrOptionUnsupported)).To(BeTrue())
		})

		It("passes the options to the scan", func() {
			Expect(h.SetOption(OptionResolution, 300)).To(Succeed())
			Expect(h.SetOption(OptionMode, "Gray")).To(Succeed())
			Expect(h.SetOption(OptionTopLeftX, 0)).To(Succeed())

			raw, err := h.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(raw).To(Equal(imaging.EncodedImage{ContentType: "image/png", Data: []byte("\x89PNG...")}))

			last := runner.calls[len(runner.calls)-1]
			Expect(last).To(Equal([]string{
				"scanimage",
				"--device-name=hpaio:/usb/HP_LaserJet_MFP_M177fw",
				"--format=png",
				"--resolution=300",
				"--mode=Gray",
				"-l", "0",
			}))
		})

		It("returns no image for empty output", func() {
			runner.outputs["scan"] = nil
			raw, err := h.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(raw).To(BeNil())
		})

		It("returns scan failures", func() {
			runner.errs["scan"] = errors.New("Error during device I/O")
			_, err := h.Acquire(ctx)
			Expect(err).To(MatchError(ContainSubstring("device I/O")))
		})
	})
})
