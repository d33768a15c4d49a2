package device

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/zombor/scanbot/internal/imaging"
)

// Runner runs an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("running %s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Sane drives SANE devices through the scanimage tool.
type Sane struct {
	path   string
	runner Runner
}

// NewSane creates a SANE driver. An empty path means scanimage from PATH.
func NewSane(path string) *Sane {
	return NewSaneWithRunner(path, execRunner{})
}

// NewSaneWithRunner creates a SANE driver with a custom command runner for testing
func NewSaneWithRunner(path string, runner Runner) *Sane {
	if path == "" {
		path = "scanimage"
	}
	return &Sane{path: path, runner: runner}
}

// Devices lists SANE device names
func (s *Sane) Devices(ctx context.Context) ([]string, error) {
	out, err := s.runner.Run(ctx, s.path, "--formatted-device-list=%d%n")
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	var devices []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			devices = append(devices, line)
		}
	}
	return devices, nil
}

// Open reads the device's option list
func (s *Sane) Open(ctx context.Context, id string) (Handle, error) {
	out, err := s.runner.Run(ctx, s.path, "--device-name="+id, "--all-options")
	if err != nil {
		return nil, fmt.Errorf("reading options of %s: %w", id, err)
	}
	return &saneHandle{
		sane:      s,
		device:    id,
		available: parseSaneOptions(out),
		values:    make(map[string]string),
	}, nil
}

// Exit is a no-op: every scanimage call initialises and exits SANE itself.
func (s *Sane) Exit() error { return nil }

// parseSaneOptions collects the flags listed by scanimage --all-options,
// e.g. "--resolution" from "    --resolution 75|150|300dpi [75]".
func parseSaneOptions(out []byte) map[string]bool {
	flags := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "-") {
			continue
		}
		fields := strings.Fields(line)
		flag := fields[0]
		if i := strings.IndexByte(flag, '['); i > 0 {
			flag = flag[:i]
		}
		flags[flag] = true
	}
	return flags
}

// saneFlag maps an option name to the scanimage flag for it.
func saneFlag(name string) string {
	switch name {
	case OptionTopLeftX:
		return "-l"
	case OptionTopLeftY:
		return "-t"
	default:
		return "--" + name
	}
}

type saneHandle struct {
	sane      *Sane
	device    string
	available map[string]bool
	order     []string
	values    map[string]string
}

func (h *saneHandle) SetOption(name string, value any) error {
	flag := saneFlag(name)
	if !h.available[flag] {
		return fmt.Errorf("%w: %s", ErrOptionUnsupported, name)
	}
	if _, ok := h.values[flag]; !ok {
		h.order = append(h.order, flag)
	}
	h.values[flag] = fmt.Sprint(value)
	return nil
}

func (h *saneHandle) args() []string {
	args := []string{"--device-name=" + h.device, "--format=png"}
	for _, flag := range h.order {
		if strings.HasPrefix(flag, "--") {
			args = append(args, flag+"="+h.values[flag])
		} else {
			args = append(args, flag, h.values[flag])
		}
	}
	return args
}

func (h *saneHandle) Acquire(ctx context.Context) (imaging.RawImage, error) {
	out, err := h.sane.runner.Run(ctx, h.sane.path, h.args()...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return imaging.EncodedImage{ContentType: "image/png", Data: out}, nil
}

func (h *saneHandle) Close() error { return nil }
