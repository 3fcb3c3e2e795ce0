package nativemsg

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidHostName = errors.New("invalid native host name")
	ErrHostNotFound    = errors.New("native host not found")
)

// Manifest registers a host executable under a name.
type Manifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// ValidateName accepts lowercase alphanumerics, underscores and dots, with no
// leading, trailing or doubled dot.
func ValidateName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidHostName, name)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidHostName, name)
		}
	}
	return nil
}

// ManifestPath returns where the manifest for name lives inside dir.
func ManifestPath(dir, name string) string {
	return filepath.Join(dir, name+".json")
}

// LoadManifest reads <dir>/<name>.json.
func LoadManifest(dir, name string) (Manifest, error) {
	if err := ValidateName(name); err != nil {
		return Manifest{}, err
	}
	b, err := os.ReadFile(ManifestPath(dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, fmt.Errorf("%w: %s in %s", ErrHostNotFound, name, dir)
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", name, err)
	}
	if m.Name != name {
		return Manifest{}, fmt.Errorf("manifest %s declares name %q", name, m.Name)
	}
	if m.Type != "stdio" {
		return Manifest{}, fmt.Errorf("manifest %s: unsupported type %q", name, m.Type)
	}
	if !filepath.IsAbs(m.Path) {
		m.Path = filepath.Join(dir, m.Path)
	}
	return m, nil
}

// WriteManifest writes m to dir, creating dir if needed, and returns the file path.
func WriteManifest(dir string, m Manifest) (string, error) {
	if err := ValidateName(m.Name); err != nil {
		return "", err
	}
	if m.Type == "" {
		m.Type = "stdio"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create manifest dir: %w", err)
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	p := ManifestPath(dir, m.Name)
	if err := os.WriteFile(p, append(b, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return p, nil
}

// DefaultManifestDir is the per-user directory searched when none is configured.
func DefaultManifestDir() string {
	if d, err := os.UserConfigDir(); err == nil {
		return filepath.Join(d, "region-capture", "NativeMessagingHosts")
	}
	return "NativeMessagingHosts"
}
