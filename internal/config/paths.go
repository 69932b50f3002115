package config

import (
	"os"
	"path/filepath"
)

// UserConfigDir returns ~/.config/termgate, creating no directories itself.
func UserConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "termgate"), nil
}

// DefaultConfigPath returns the conventional config file location, honoring
// TERMGATE_CONFIG if set.
func DefaultConfigPath() (string, error) {
	if p := os.Getenv("TERMGATE_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DefaultSSHKeyPath returns the conventional SSH identity path, honoring
// TERMGATE_SSH_KEY if set.
func DefaultSSHKeyPath() (string, error) {
	if p := os.Getenv("TERMGATE_SSH_KEY"); p != "" {
		return p, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".ssh", "id_rsa"), nil
}

func EnsureConfigDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}
