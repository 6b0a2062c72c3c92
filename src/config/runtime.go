package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvPathEnvVar    = "GEMINI_OCR_CAPTURE_ENV"
	HomeEnvVar       = "GEMINI_OCR_CAPTURE_HOME"
	APIBaseURLEnvVar = "GEMINI_API_BASE_URL"
	ModelEnvVar      = "GEMINI_MODEL"
	KeyStoreEnvVar   = "KEY_STORE"

	DefaultAPIBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel          = "gemini-2.0-flash"
	DefaultOCRDeadlineSec = 30
)

type LoadOptions struct {
	EnvPathOverride string
	HomeOverride    string
}

// Runtime holds process-level settings that come from the environment and an
// optional .env file rather than from config.json.
type Runtime struct {
	Home              string
	EnvPath           string
	APIBaseURL        string
	Model             string
	EnableFileLogging bool
	OCRDeadlineSec    int
	KeyStore          string
}

// LoadRuntime resolves runtime settings. Sources in priority order:
//  1. .env in the executable directory
//  2. the file named by GEMINI_OCR_CAPTURE_ENV
//
// Values already present in the process environment win over the file.
func LoadRuntime(opts LoadOptions) Runtime {
	envPath := resolveEnvPath(opts)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	ocrDeadlineSec := DefaultOCRDeadlineSec
	if v := os.Getenv("OCR_DEADLINE_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ocrDeadlineSec = n
		}
	}

	return Runtime{
		Home:              resolveHome(opts),
		EnvPath:           envPath,
		APIBaseURL:        strings.TrimRight(getEnvWithDefault(APIBaseURLEnvVar, DefaultAPIBaseURL), "/"),
		Model:             getEnvWithDefault(ModelEnvVar, DefaultModel),
		EnableFileLogging: strings.ToLower(os.Getenv("ENABLE_FILE_LOGGING")) == "true",
		OCRDeadlineSec:    ocrDeadlineSec,
		KeyStore:          strings.ToLower(strings.TrimSpace(os.Getenv(KeyStoreEnvVar))),
	}
}

func resolveEnvPath(opts LoadOptions) string {
	if p := strings.TrimSpace(opts.EnvPathOverride); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		return ""
	}

	if dir := executableDir(); dir != "" {
		exeEnv := filepath.Join(dir, ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(EnvPathEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func resolveHome(opts LoadOptions) string {
	if h := strings.TrimSpace(opts.HomeOverride); h != "" {
		return h
	}
	if h := strings.TrimSpace(os.Getenv(HomeEnvVar)); h != "" {
		return h
	}
	if dir := executableDir(); dir != "" {
		return dir
	}
	return "."
}

func executableDir() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(execPath)
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
