package config

import (
	"os"
	"path/filepath"
)

// DefaultConfigPath returns ~/.config/oliana/config.yaml (or the platform
// equivalent via os.UserConfigDir).
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "oliana", "config.yaml"), nil
}

// DefaultCacheDir returns the directory the Idle Controller publishes its
// diagnostics files into.
func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "oliana"), nil
}

// ResolveBinDir returns the directory the Supervisor should search for
// worker binaries: OLIANA_BIN_DIR if set, else CWD, or CWD/target if that
// subdirectory exists (mirrors a cargo-style build output layout).
func ResolveBinDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if fi, err := os.Stat(filepath.Join(wd, "target")); err == nil && fi.IsDir() {
		return filepath.Join(wd, "target"), nil
	}
	return wd, nil
}

// ResolveTrackedProcDir returns the directory holding pid/stdout/stderr
// files and per-kind job workdirs.
func ResolveTrackedProcDir(configured, binDir string) string {
	if configured != "" {
		return configured
	}
	return binDir
}

// EnsureDir creates dir (and parents) if it does not already exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}
