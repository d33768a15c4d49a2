// Package config parses the command line and environment into a validated
// Config. Every flag can also be set through the environment variable named
// after it, upper-cased with dashes turned into underscores.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/scanbot/internal/imaging"
	"github.com/zombor/scanbot/internal/serrors"
)

// ErrHelp is returned when help was requested
var ErrHelp = ff.ErrHelp

// Scanner drivers
const (
	DriverSane = "sane"
	DriverESCL = "escl"
)

// Caption backends
const (
	CaptionerNone   = "none"
	CaptionerGemini = "gemini"
	CaptionerOllama = "ollama"
)

const defaultEnvFile = ".env"

var scanModes = []string{"Color", "Gray", "Lineart"}

// Config is the validated startup configuration
type Config struct {
	ScanDir string

	TelegramToken string
	ChatIDs       []int64

	ScannerDevice string
	ScannerVendor string
	ScannerModel  string
	ScannerDriver string
	ScanimagePath string
	ESCLURLs      []string

	DPI            int
	Mode           string
	Format         imaging.Format
	MaxFileSizeMB  int
	RetentionHours int

	LogLevel slog.Level
	LogFile  string
	DBPath   string

	HTTPAddr string
	AuthUser string
	AuthPass string

	Captioner   string
	GeminiKey   string
	GeminiModel string
	OllamaURL   string
	OllamaModel string

	ShutdownTimeout time.Duration
	ShowVersion     bool
}

// MaxFileSize returns the size limit in bytes
func (c *Config) MaxFileSize() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// Retention returns the retention window
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// Parse reads args and the environment. When help is requested the usage
// is written to stderr and ErrHelp returned. Validation failures are of kind
// serrors.Config. --version skips validation.
func Parse(args []string) (*Config, error) {
	if err := loadEnvFile(args); err != nil {
		return nil, err
	}

	fs := ff.NewFlagSet("scanbot")
	var (
		scanDir     = fs.StringLong("scan-dir", "/tmp/scans", "Directory for scanned files")
		token       = fs.StringLong("telegram-bot-token", "", "Telegram bot token")
		chatIDs     = fs.StringLong("telegram-chat-ids", "", "Comma-separated Telegram user IDs allowed to use the bot")
		device      = fs.StringLong("scanner-device", "", "Scanner device name (empty selects by vendor and model)")
		vendor      = fs.StringLong("scanner-vendor", "hp", "Preferred scanner vendor")
		model       = fs.StringLong("scanner-model", "m177", "Preferred scanner model")
		driver      = fs.StringLong("scanner-driver", DriverSane, "Scanner driver: 'sane' or 'escl'")
		scanimage   = fs.StringLong("scanimage-path", "scanimage", "Path to the SANE scanimage tool")
		esclURLs    = fs.StringLong("escl-urls", "", "Comma-separated eSCL base URLs (e.g. http://printer.local/eSCL)")
		dpi         = fs.IntLong("scan-dpi", 300, "Scan resolution in DPI")
		mode        = fs.StringLong("scan-mode", "Color", "Scan mode: Color, Gray or Lineart")
		format      = fs.StringLong("scan-format", "PNG", "Output format: PNG, JPEG, TIFF, BMP or GIF")
		maxSize     = fs.IntLong("max-file-size-mb", 50, "Maximum size of a delivered file in MB")
		retention   = fs.IntLong("cleanup-after-hours", 24, "Delete scans older than this many hours")
		logLevel    = fs.StringLong("log-level", "INFO", "Log level: DEBUG, INFO, WARN or ERROR")
		logFile     = fs.StringLong("log-file", "", "Also write logs to this file")
		dbPath      = fs.StringLong("db", "", "Scan history database file path (default scanbot.db beside the scan directory)")
		httpAddr    = fs.StringLong("http-addr", "", "Ops HTTP listen address (empty disables it)")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username for the ops server (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password for the ops server (optional)")
		captioner   = fs.StringLong("captioner", CaptionerNone, "Document captioner: 'none', 'gemini' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name")
		shutdown    = fs.DurationLong("shutdown-timeout", 30*time.Second, "How long to wait for work in progress on shutdown")
		showVersion = fs.BoolLong("version", "Show version information")
		_           = fs.StringLong("env-file", "", "Load environment variables from this dotenv file")
	)

	if err := ff.Parse(fs, args, ff.WithEnvVars()); err != nil {
		if errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
			return nil, ErrHelp
		}
		return nil, serrors.Wrap(serrors.Config, err, "parsing flags")
	}

	cfg := &Config{
		ScanDir:         *scanDir,
		TelegramToken:   strings.TrimSpace(*token),
		ScannerDevice:   *device,
		ScannerVendor:   *vendor,
		ScannerModel:    *model,
		ScannerDriver:   strings.ToLower(strings.TrimSpace(*driver)),
		ScanimagePath:   *scanimage,
		ESCLURLs:        splitList(*esclURLs),
		DPI:             *dpi,
		Mode:            *mode,
		MaxFileSizeMB:   *maxSize,
		RetentionHours:  *retention,
		LogFile:         *logFile,
		DBPath:          *dbPath,
		HTTPAddr:        *httpAddr,
		AuthUser:        *authUser,
		AuthPass:        *authPass,
		Captioner:       strings.ToLower(strings.TrimSpace(*captioner)),
		GeminiKey:       *geminiKey,
		GeminiModel:     *geminiModel,
		OllamaURL:       *ollamaURL,
		OllamaModel:     *ollamaModel,
		ShutdownTimeout: *shutdown,
		ShowVersion:     *showVersion,
	}
	if cfg.ShowVersion {
		return cfg, nil
	}

	if cfg.GeminiKey == "" {
		cfg.GeminiKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.DBPath == "" && cfg.ScanDir != "" {
		cfg.DBPath = DefaultDBPath(cfg.ScanDir)
	}

	var problems []string
	ids, err := ParseIDs(*chatIDs)
	if err != nil {
		problems = append(problems, err.Error())
	}
	cfg.ChatIDs = ids

	level, err := ParseLevel(*logLevel)
	if err != nil {
		problems = append(problems, err.Error())
	}
	cfg.LogLevel = level

	f, err := imaging.ParseFormat(*format)
	if err != nil {
		problems = append(problems, err.Error())
	}
	cfg.Format = f

	problems = append(problems, cfg.validate()...)
	if len(problems) > 0 {
		return nil, serrors.New(serrors.Config, "%s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

func (c *Config) validate() []string {
	var problems []string

	if c.TelegramToken == "" {
		problems = append(problems, "telegram bot token is not set")
	}
	if len(c.ChatIDs) == 0 {
		problems = append(problems, "telegram chat ids are not set")
	}
	if c.DPI <= 0 {
		problems = append(problems, fmt.Sprintf("scan dpi must be positive, got %d", c.DPI))
	}
	if m, ok := canonicalMode(c.Mode); ok {
		c.Mode = m
	} else {
		problems = append(problems, fmt.Sprintf("unknown scan mode %q", c.Mode))
	}
	if c.MaxFileSizeMB <= 0 {
		problems = append(problems, fmt.Sprintf("max file size must be positive, got %d", c.MaxFileSizeMB))
	}
	if c.RetentionHours <= 0 {
		problems = append(problems, fmt.Sprintf("cleanup hours must be positive, got %d", c.RetentionHours))
	}
	if c.ScanDir == "" {
		problems = append(problems, "scan directory is not set")
	}
	if c.ShutdownTimeout <= 0 {
		problems = append(problems, "shutdown timeout must be positive")
	}

	switch c.ScannerDriver {
	case DriverSane:
	case DriverESCL:
		if len(c.ESCLURLs) == 0 {
			problems = append(problems, "escl driver needs at least one url")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown scanner driver %q", c.ScannerDriver))
	}

	switch c.Captioner {
	case CaptionerNone, CaptionerOllama:
	case CaptionerGemini:
		if c.GeminiKey == "" {
			problems = append(problems, "gemini captioner needs an api key")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown captioner %q", c.Captioner))
	}

	return problems
}

// DefaultDBPath places the history database next to the scan directory,
// outside the reach of the retention sweep.
func DefaultDBPath(scanDir string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(scanDir)), "scanbot.db")
}

// ParseIDs parses a comma-separated list of user IDs. Blank entries are
// skipped.
func ParseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ParseLevel maps a level name to a slog level. WARNING is accepted as WARN.
func ParseLevel(s string) (slog.Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		name = "WARN"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

func canonicalMode(mode string) (string, bool) {
	for _, m := range scanModes {
		if strings.EqualFold(m, strings.TrimSpace(mode)) {
			return m, true
		}
	}
	return "", false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads the dotenv file named by --env-file, or .env in the
// working directory when present. Variables already in the environment win.
func loadEnvFile(args []string) error {
	path := envFileArg(args)
	if path == "" {
		if _, err := os.Stat(defaultEnvFile); err != nil {
			return nil
		}
		path = defaultEnvFile
	}
	if err := godotenv.Load(filepath.Clean(path)); err != nil {
		return serrors.Wrap(serrors.Config, err, "loading env file %s", path)
	}
	return nil
}

// envFileArg finds --env-file before the flag set exists, so the file can
// feed the environment ff reads.
func envFileArg(args []string) string {
	var path string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--env-file" || a == "-env-file":
			if i+1 < len(args) {
				path = args[i+1]
			}
		case strings.HasPrefix(a, "--env-file="):
			path = strings.TrimPrefix(a, "--env-file=")
		case strings.HasPrefix(a, "-env-file="):
			path = strings.TrimPrefix(a, "-env-file=")
		}
	}
	return path
}
