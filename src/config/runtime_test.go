package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRuntimeDefaults(t *testing.T) {
	t.Setenv(APIBaseURLEnvVar, "")
	t.Setenv(ModelEnvVar, "")
	t.Setenv("ENABLE_FILE_LOGGING", "")
	t.Setenv("OCR_DEADLINE_SEC", "")
	t.Setenv(KeyStoreEnvVar, "")
	t.Setenv(HomeEnvVar, "")

	rt := LoadRuntime(LoadOptions{EnvPathOverride: filepath.Join(t.TempDir(), "missing.env")})
	if rt.APIBaseURL != DefaultAPIBaseURL {
		t.Errorf("APIBaseURL = %q", rt.APIBaseURL)
	}
	if rt.Model != DefaultModel {
		t.Errorf("Model = %q", rt.Model)
	}
	if rt.EnableFileLogging {
		t.Error("EnableFileLogging should default to false")
	}
	if rt.OCRDeadlineSec != DefaultOCRDeadlineSec {
		t.Errorf("OCRDeadlineSec = %d", rt.OCRDeadlineSec)
	}
	if rt.EnvPath != "" {
		t.Errorf("EnvPath = %q, want empty for a missing file", rt.EnvPath)
	}
	if rt.Home == "" {
		t.Error("Home must never be empty")
	}
}

func TestLoadRuntimeFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	content := "GEMINI_MODEL=gemini-test\nOCR_DEADLINE_SEC=12\nKEY_STORE=File\nGEMINI_API_BASE_URL=http://localhost:9999/v1beta/\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv.Load never overrides existing variables, so make sure they are
	// unset rather than empty.
	for _, k := range []string{ModelEnvVar, "OCR_DEADLINE_SEC", KeyStoreEnvVar, APIBaseURLEnvVar} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range []string{ModelEnvVar, "OCR_DEADLINE_SEC", KeyStoreEnvVar, APIBaseURLEnvVar} {
			os.Unsetenv(k)
		}
	})

	rt := LoadRuntime(LoadOptions{EnvPathOverride: envFile, HomeOverride: dir})
	if rt.Model != "gemini-test" {
		t.Errorf("Model = %q", rt.Model)
	}
	if rt.OCRDeadlineSec != 12 {
		t.Errorf("OCRDeadlineSec = %d", rt.OCRDeadlineSec)
	}
	if rt.KeyStore != "file" {
		t.Errorf("KeyStore = %q", rt.KeyStore)
	}
	if rt.APIBaseURL != "http://localhost:9999/v1beta" {
		t.Errorf("APIBaseURL = %q", rt.APIBaseURL)
	}
	if rt.Home != dir || rt.EnvPath != envFile {
		t.Errorf("Home/EnvPath = %q/%q", rt.Home, rt.EnvPath)
	}
}

func TestLoadRuntimeInvalidDeadline(t *testing.T) {
	t.Setenv("OCR_DEADLINE_SEC", "-4")
	rt := LoadRuntime(LoadOptions{EnvPathOverride: filepath.Join(t.TempDir(), "none.env")})
	if rt.OCRDeadlineSec != DefaultOCRDeadlineSec {
		t.Errorf("OCRDeadlineSec = %d, want default", rt.OCRDeadlineSec)
	}
}

func TestHomeFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnvVar, dir)
	rt := LoadRuntime(LoadOptions{EnvPathOverride: filepath.Join(dir, "none.env")})
	if rt.Home != dir {
		t.Errorf("Home = %q, want %q", rt.Home, dir)
	}
}
