package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotenv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("MOVIEREC_T_A=from-file\nMOVIEREC_T_B=7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MOVIEREC_T_A", "from-env")
	t.Cleanup(func() { os.Unsetenv("MOVIEREC_T_B") })
	if err := LoadDotenv(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := Env("MOVIEREC_T_A", "x"); got != "from-env" {
		t.Fatalf("env should win: %s", got)
	}
	if got := EnvInt("MOVIEREC_T_B", 1); got != 7 {
		t.Fatalf("EnvInt: %d", got)
	}
}

func TestLoadDotenv_MissingFile(t *testing.T) {
	if err := LoadDotenv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
	if err := LoadDotenv(""); err != nil {
		t.Fatalf("empty path: %v", err)
	}
}

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("MOVIEREC_T_BAD", "notanint")
	if got := EnvInt("MOVIEREC_T_BAD", 3); got != 3 {
		t.Fatalf("EnvInt fallback: %d", got)
	}
	if got := EnvBool("MOVIEREC_T_UNSET", true); !got {
		t.Fatalf("EnvBool fallback")
	}
	if got := Env("MOVIEREC_T_UNSET", "d"); got != "d" {
		t.Fatalf("Env fallback: %s", got)
	}
}
