package device

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zombor/scanbot/internal/imaging"
)

const (
	esclPWGNamespace  = "http://www.pwg.org/schemas/2010/12/sm"
	esclScanNamespace = "http://schemas.hp.com/imaging/escl/2011/05/03"
)

// ESCL drives network scanners over the eSCL (AirScan) HTTP protocol. The
// device identifiers are the scanners' eSCL base URLs.
type ESCL struct {
	urls   []string
	client *http.Client
}

// NewESCL creates an eSCL driver for the given base URLs,
// e.g. http://192.168.1.20/eSCL
func NewESCL(urls []string) *ESCL {
	return NewESCLWithClient(urls, &http.Client{
		Timeout: 2 * time.Minute, // a 600dpi colour page can take a while
	})
}

// NewESCLWithClient creates an eSCL driver with a custom HTTP client
func NewESCLWithClient(urls []string, client *http.Client) *ESCL {
	trimmed := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			trimmed = append(trimmed, u)
		}
	}
	return &ESCL{urls: trimmed, client: client}
}

// Devices returns the configured base URLs
func (e *ESCL) Devices(ctx context.Context) ([]string, error) {
	return append([]string(nil), e.urls...), nil
}

type esclStatus struct {
	XMLName xml.Name `xml:"ScannerStatus"`
	State   string   `xml:"State"`
}

// Open queries ScannerStatus and fails unless the scanner answers
func (e *ESCL) Open(ctx context.Context, id string) (Handle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, id+"/ScannerStatus", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probing scanner status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scanner status error (status %d)", resp.StatusCode)
	}
	var status esclStatus
	if err := xml.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decoding scanner status: %w", err)
	}
	if status.State == "Stopped" {
		return nil, fmt.Errorf("scanner %s is stopped", id)
	}

	return &esclHandle{
		escl: e,
		base: id,
		settings: esclSettings{
			Resolution: 300,
			ColorMode:  "RGB24",
		},
	}, nil
}

// Exit is a no-op; eSCL holds no driver-level state.
func (e *ESCL) Exit() error { return nil }

type esclSettings struct {
	Resolution int
	ColorMode  string
	XOffset    int
	YOffset    int
}

// esclColorMode maps scan modes to eSCL colour modes.
func esclColorMode(mode string) (string, bool) {
	switch strings.ToLower(mode) {
	case "color":
		return "RGB24", true
	case "gray", "grey":
		return "Grayscale8", true
	case "lineart":
		return "BlackAndWhite1", true
	}
	return "", false
}

type esclHandle struct {
	escl     *ESCL
	base     string
	settings esclSettings
}

func (h *esclHandle) SetOption(name string, value any) error {
	switch name {
	case OptionResolution:
		dpi, ok := value.(int)
		if !ok || dpi <= 0 {
			return fmt.Errorf("invalid resolution %v", value)
		}
		h.settings.Resolution = dpi
	case OptionMode:
		mode, ok := esclColorMode(fmt.Sprint(value))
		if !ok {
			return fmt.Errorf("invalid mode %v", value)
		}
		h.settings.ColorMode = mode
	case OptionTopLeftX, OptionTopLeftY:
		offset, ok := value.(int)
		if !ok {
			return fmt.Errorf("invalid offset %v", value)
		}
		if name == OptionTopLeftX {
			h.settings.XOffset = offset
		} else {
			h.settings.YOffset = offset
		}
	default:
		return fmt.Errorf("%w: %s", ErrOptionUnsupported, name)
	}
	return nil
}

type esclScanRegion struct {
	Height             int    `xml:"pwg:Height"`
	Width              int    `xml:"pwg:Width"`
	XOffset            int    `xml:"pwg:XOffset"`
	YOffset            int    `xml:"pwg:YOffset"`
	ContentRegionUnits string `xml:"pwg:ContentRegionUnits"`
}

type esclScanSettings struct {
	XMLName        xml.Name         `xml:"scan:ScanSettings"`
	ScanNS         string           `xml:"xmlns:scan,attr"`
	PWGNS          string           `xml:"xmlns:pwg,attr"`
	Version        string           `xml:"pwg:Version"`
	ScanRegions    []esclScanRegion `xml:"pwg:ScanRegions>pwg:ScanRegion"`
	InputSource    string           `xml:"pwg:InputSource"`
	DocumentFormat string           `xml:"scan:DocumentFormatExt"`
	ColorMode      string           `xml:"scan:ColorMode"`
	XResolution    int              `xml:"scan:XResolution"`
	YResolution    int              `xml:"scan:YResolution"`
}

// jobRequest renders the ScanSettings document for a full A4/Letter platen
// scan. Regions are in 1/300 inch.
func (h *esclHandle) jobRequest() ([]byte, error) {
	settings := esclScanSettings{
		ScanNS:  esclScanNamespace,
		PWGNS:   esclPWGNamespace,
		Version: "2.0",
		ScanRegions: []esclScanRegion{{
			Height:             3508,
			Width:              2550,
			XOffset:            h.settings.XOffset,
			YOffset:            h.settings.YOffset,
			ContentRegionUnits: "escl:ThreeHundredthsOfInches",
		}},
		InputSource:    "Platen",
		DocumentFormat: "image/png",
		ColorMode:      h.settings.ColorMode,
		XResolution:    h.settings.Resolution,
		YResolution:    h.settings.Resolution,
	}
	body, err := xml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshaling scan settings: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func (h *esclHandle) Acquire(ctx context.Context) (imaging.RawImage, error) {
	body, err := h.jobRequest()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/ScanJobs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := h.escl.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("creating scan job: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("scan job error (status %d)", resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("scan job response has no location")
	}
	jobURL, err := h.resolve(location)
	if err != nil {
		return nil, err
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, jobURL+"/NextDocument", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err = h.escl.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("document fetch error (status %d)", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return imaging.EncodedImage{ContentType: resp.Header.Get("Content-Type"), Data: data}, nil
}

// resolve turns a possibly relative job Location into an absolute URL.
func (h *esclHandle) resolve(location string) (string, error) {
	base, err := url.Parse(h.base + "/")
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parsing job location: %w", err)
	}
	return strings.TrimRight(base.ResolveReference(loc).String(), "/"), nil
}

func (h *esclHandle) Close() error { return nil }
