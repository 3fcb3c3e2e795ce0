package runtimeinit

import (
	"os"
	"path/filepath"
	"testing"

	"region-capture/src/config"
)

func TestBootstrapAppliesEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("SESSION_POLICY=reject\nNATIVE_HOST_NAME=com.example.test\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SESSION_POLICY", "")
	t.Setenv("NATIVE_HOST_NAME", "")
	os.Unsetenv("SESSION_POLICY")
	os.Unsetenv("NATIVE_HOST_NAME")

	var loggingEnabled *bool
	cfg, err := Bootstrap(Options{
		LoadOptions:  config.LoadOptions{EnvPathOverride: envPath},
		SetupLogging: func(b bool) { loggingEnabled = &b },
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if loggingEnabled == nil {
		t.Fatal("SetupLogging was not called")
	}
	if cfg.SessionPolicy != config.SessionPolicyReject {
		t.Errorf("SessionPolicy = %q", cfg.SessionPolicy)
	}
	if cfg.NativeHostName != "com.example.test" {
		t.Errorf("NativeHostName = %q", cfg.NativeHostName)
	}
	if cfg.EnvPath != envPath {
		t.Errorf("EnvPath = %q", cfg.EnvPath)
	}
}

func TestBootstrapWithoutLoggingHook(t *testing.T) {
	if _, err := Bootstrap(Options{}); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
}
