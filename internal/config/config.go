package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"facture-fec/internal/apperr"
)

// Conversion modes. Each one mirrors a variant of the converter: OCR text sent
// straight to the model, OCR text turned into invoice JSON first, or the raw
// PDF handed to the provider's document endpoint.
const (
	ModeText     = "text"
	ModeJSON     = "json"
	ModeDocument = "document"
)

// OCR engines.
const (
	EngineTesseract = "tesseract"
	EngineMistral   = "mistral"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	MistralKey      string
	MistralEndpoint string
	MistralModel    string
	MistralOCRModel string

	Mode string

	OCREngine      string
	OCRDPI         int
	OCRLang        string
	OCRFull        bool
	GhostscriptBin string
	TesseractBin   string

	LLMTimeout time.Duration
	LLMRPM     int

	Database    string
	UploadDir   string
	MaxUploadMB int

	Port     string
	LogLevel string
}

// Load reads configuration from the environment, providing sensible defaults.
// Upload and database directories are created when missing.
func Load() (Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := Config{
		MistralKey:      os.Getenv("MISTRAL_API_KEY"),
		MistralEndpoint: getEnv("MISTRAL_API_ENDPOINT", "https://api.mistral.ai/v1"),
		MistralModel:    getEnv("MISTRAL_MODEL", "mistral-large-latest"),
		MistralOCRModel: getEnv("MISTRAL_OCR_MODEL", "mistral-ocr-latest"),
		Mode:            strings.ToLower(getEnv("FEC_MODE", ModeText)),
		OCREngine:       strings.ToLower(getEnv("OCR_ENGINE", EngineTesseract)),
		OCRDPI:          getEnvInt("OCR_DPI", 72),
		OCRLang:         getEnv("OCR_LANG", "fra"),
		OCRFull:         getEnvBool("OCR_FULL", false),
		GhostscriptBin:  getEnv("GHOSTSCRIPT_BIN", "gs"),
		TesseractBin:    getEnv("TESSERACT_BIN", "tesseract"),
		LLMTimeout:      getEnvDuration("LLM_TIMEOUT", 2*time.Minute),
		LLMRPM:          getEnvInt("LLM_RPM", 60),
		Database:        getEnv("DATABASE_PATH", "./data/fec.db"),
		UploadDir:       getEnv("UPLOAD_DIR", "./output"),
		MaxUploadMB:     getEnvInt("MAX_UPLOAD_MB", 20),
		Port:            getEnv("PORT", "8080"),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return cfg, fmt.Errorf("ensure upload dir %s: %w", cfg.UploadDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return cfg, fmt.Errorf("ensure database dir %s: %w", cfg.Database, err)
	}

	return cfg, nil
}

// Validate checks enumerations and numeric bounds. A missing API key is not an
// error here: the server still starts and reports the provider as unavailable.
func (c Config) Validate() error {
	if !ValidMode(c.Mode) {
		return apperr.New(apperr.CodeConfig, fmt.Sprintf("unknown FEC_MODE %q", c.Mode))
	}
	switch c.OCREngine {
	case EngineTesseract, EngineMistral:
	default:
		return apperr.New(apperr.CodeConfig, fmt.Sprintf("unknown OCR_ENGINE %q", c.OCREngine))
	}
	if c.OCRDPI <= 0 {
		return apperr.New(apperr.CodeConfig, "OCR_DPI must be positive")
	}
	if c.MaxUploadMB <= 0 {
		return apperr.New(apperr.CodeConfig, "MAX_UPLOAD_MB must be positive")
	}
	if c.LLMRPM < 0 {
		return apperr.New(apperr.CodeConfig, "LLM_RPM cannot be negative")
	}
	return nil
}

// MaxUploadBytes is the upload cap in bytes.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// ValidMode reports whether mode names a known conversion mode.
func ValidMode(mode string) bool {
	switch mode {
	case ModeText, ModeJSON, ModeDocument:
		return true
	}
	return false
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := getEnv(key, ""); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := getEnv(key, ""); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := getEnv(key, ""); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
