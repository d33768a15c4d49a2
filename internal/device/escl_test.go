package device

import (
	"context"
	"errors"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/scanbot/internal/imaging"
)

const idleStatus = `<?xml version="1.0" encoding="UTF-8"?>
<scan:ScannerStatus xmlns:scan="http://schemas.hp.com/imaging/escl/2011/05/03" xmlns:pwg="http://www.pwg.org/schemas/2010/12/sm">
  <pwg:Version>2.63</pwg:Version>
  <pwg:State>Idle</pwg:State>
</scan:ScannerStatus>`

var _ = Describe("ESCL", func() {
	var (
		server *ghttp.Server
		escl   *ESCL
		base   string
		ctx    context.Context
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		base = server.URL() + "/eSCL"
		escl = NewESCLWithClient([]string{" " + base + "/ ", ""}, http.DefaultClient)
		ctx = context.Background()
	})

	AfterEach(func() {
		server.Close()
	})

	It("lists the configured scanners", func() {
		devices, err := escl.Devices(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(devices).To(Equal([]string{base}))
	})

	Describe("Open", func() {
		It("checks the scanner status", func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("GET", "/eSCL/ScannerStatus"),
				ghttp.RespondWith(http.StatusOK, idleStatus),
			))
			_, err := escl.Open(ctx, base)
			Expect(err).NotTo(HaveOccurred())
		})

		It("fails for a stopped scanner", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK,
				`<scan:ScannerStatus xmlns:scan="x" xmlns:pwg="y"><pwg:State>Stopped</pwg:State></scan:ScannerStatus>`))
			_, err := escl.Open(ctx, base)
			Expect(err).To(MatchError(ContainSubstring("stopped")))
		})

		It("fails when the scanner does not answer", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, ""))
			_, err := escl.Open(ctx, base)
			Expect(err).To(MatchError(ContainSubstring("status 503")))
		})
	})

	Describe("Acquire", func() {
		var h Handle

		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, idleStatus))
			var err error
			h, err = escl.Open(ctx, base)
			Expect(err).NotTo(HaveOccurred())
		})

		It("maps modes and rejects unknown options", func() {
			Expect(h.SetOption(OptionMode, "Lineart")).To(Succeed())
			Expect(h.SetOption(OptionMode, "Sepia")).To(HaveOccurred())
			Expect(errors.Is(h.SetOption("brightness", 10), ErrOptionUnsupported)).To(BeTrue())
		})

		It("creates a job and fetches the next document", func() {
			Expect(h.SetOption(OptionResolution, 600)).To(Succeed())
			Expect(h.SetOption(OptionMode, "Gray")).To(Succeed())

			server.AppendHandlers(
				ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/eSCL/ScanJobs"),
					ghttp.VerifyContentType("text/xml"),
					func(w http.ResponseWriter, r *http.Request) {
						body, _ := io.ReadAll(r.Body)
						Expect(string(body)).To(ContainSubstring("<scan:ColorMode>Grayscale8</scan:ColorMode>"))
						Expect(string(body)).To(ContainSubstring("<scan:XResolution>600</scan:XResolution>"))
						Expect(string(body)).To(ContainSubstring("<pwg:InputSource>Platen</pwg:InputSource>"))
					},
					ghttp.RespondWith(http.StatusCreated, "", http.Header{"Location": {"/eSCL/ScanJobs/42"}}),
				),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest("GET", "/eSCL/ScanJobs/42/NextDocument"),
					ghttp.RespondWith(http.StatusOK, "jpegdata", http.Header{"Content-Type": {"image/jpeg"}}),
				),
			)

			raw, err := h.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(raw).To(Equal(imaging.EncodedImage{ContentType: "image/jpeg", Data: []byte("jpegdata")}))
		})

		It("fails when the scanner refuses the job", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusConflict, ""))
			_, err := h.Acquire(ctx)
			Expect(err).To(MatchError(ContainSubstring("status 409")))
		})

		It("fails when the job has no location", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusCreated, ""))
			_, err := h.Acquire(ctx)
			Expect(err).To(MatchError(ContainSubstring("no location")))
		})
	})
})
